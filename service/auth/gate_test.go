package auth

import (
	"testing"
	"time"

	"taskboard/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func TestGate_AcceptsValidToken(t *testing.T) {
	g := NewGate(DefaultOptions(testSecret))

	token, exp, err := g.Generate("u42", "Alice")
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	id, err := g.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "u42", id.UserID)
	require.Equal(t, "Alice", id.DisplayName)
}

func TestGate_DisplayNameFallsBackToSubject(t *testing.T) {
	g := NewGate(DefaultOptions(testSecret))
	token, _, err := g.Generate("u42", "")
	require.NoError(t, err)

	id, err := g.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "u42", id.DisplayName)
}

func TestGate_RejectsMissingToken(t *testing.T) {
	g := NewGate(DefaultOptions(testSecret))
	_, err := g.Authenticate("")
	require.Error(t, err)
	require.True(t, errs.ErrTokenMissing.Is(err))
	require.True(t, errs.IsAuthErr(err))
}

func TestGate_RejectsExpiredToken(t *testing.T) {
	g := NewGate(DefaultOptions(testSecret))

	past := time.Now().Add(-time.Hour)
	claims := &Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "u42",
			IssuedAt:  jwtlib.NewNumericDate(past.Add(-time.Hour)),
			ExpiresAt: jwtlib.NewNumericDate(past),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = g.Authenticate(token)
	require.Error(t, err)
	require.True(t, errs.ErrTokenExpired.Is(err))
}

func TestGate_RejectsGarbageToken(t *testing.T) {
	g := NewGate(DefaultOptions(testSecret))
	_, err := g.Authenticate("not.a.jwt")
	require.Error(t, err)
	require.True(t, errs.ErrTokenMalformed.Is(err))
}

func TestGate_RejectsWrongSecret(t *testing.T) {
	other := NewGate(DefaultOptions([]byte("some-other-secret")))
	token, _, err := other.Generate("u42", "Alice")
	require.NoError(t, err)

	g := NewGate(DefaultOptions(testSecret))
	_, err = g.Authenticate(token)
	require.Error(t, err)
	require.True(t, errs.ErrTokenMalformed.Is(err))
}

func TestGate_RejectsTokenWithoutSubject(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	g := NewGate(DefaultOptions(testSecret))
	_, err = g.Authenticate(token)
	require.Error(t, err)
}
