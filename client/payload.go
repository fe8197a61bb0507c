package client

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DecodePayload converts an opaque event payload into a typed struct using
// its json tags. The relay never inspects payloads; this is purely a
// consumer convenience.
//
//	var mv struct {
//		CardID string `json:"cardId"`
//		To     string `json:"to"`
//	}
//	err := client.DecodePayload(ev.Payload, &mv)
func DecodePayload(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return errors.Wrap(err, "client: payload decoder")
	}
	if err := dec.Decode(payload); err != nil {
		return errors.Wrap(err, "client: payload decode")
	}
	return nil
}
