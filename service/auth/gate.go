package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"taskboard/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Identity is the stable user identity attached to a connection after the
// gate admits it.
type Identity struct {
	UserID      string
	DisplayName string
}

// Claims carried by board session tokens.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwtlib.RegisteredClaims
}

// Options control signing and TTL.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // default 2h
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Gate validates bearer credentials presented at connection handshake. It
// decides admit/reject only and performs no mutation.
type Gate struct {
	opts Options
}

func NewGate(opts Options) *Gate {
	if opts.Alg == "" {
		opts.Alg = "HS256"
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	return &Gate{opts: opts}
}

// Authenticate verifies an opaque bearer token and returns the identity to
// cache on the connection. Any failure means the connection is never
// admitted to the session registry.
func (g *Gate) Authenticate(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, errs.ErrTokenMissing.Wrap()
	}

	parsed, err := jwtlib.ParseWithClaims(credential, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		// Only the HMAC family is accepted.
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return g.opts.Secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwtlib.ErrTokenExpired) {
			return Identity{}, errs.ErrTokenExpired.WrapMsg(err.Error())
		}
		return Identity{}, errs.ErrTokenMalformed.WrapMsg(err.Error())
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, errs.ErrTokenMalformed.Wrap()
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, DisplayName: name}, nil
}

// Generate signs a token for userID. Used by the login collaborator and by
// tests; the gate itself only verifies.
func (g *Gate) Generate(userID, displayName string) (string, time.Time, error) {
	method, err := signingMethod(g.opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	exp := now.Add(g.opts.TTL)
	claims := &Claims{
		DisplayName: displayName,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(g.opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(alg) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s", alg)
	}
}
