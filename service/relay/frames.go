package relay

import (
	"encoding/json"

	"taskboard/tools/errs"
)

// Client->server control events. Anything else is treated as a board
// mutation event and fanned out to the room.
const (
	EventJoinBoard  = "joinBoard"
	EventLeaveBoard = "leaveBoard"
)

// Frame is the JSON wire unit for the board channel. Payload stays opaque
// to the relay; its shape belongs to the CRUD layer.
type Frame struct {
	Event   string         `json:"event"`
	Board   string         `json:"board"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ParseFrame decodes a raw websocket message. A failure here is a protocol
// error: the frame is dropped, the connection lives on.
func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrProtocol.WrapMsg(err.Error())
	}
	if f.Event == "" || f.Board == "" {
		return nil, errs.ErrProtocol.WrapMsg("event/board required")
	}
	return &f, nil
}

// EncodeFrame marshals a frame for delivery. Encoded once per broadcast,
// shared across all member writes.
func EncodeFrame(event, board string, payload map[string]any) ([]byte, error) {
	return json.Marshal(&Frame{Event: event, Board: board, Payload: payload})
}
