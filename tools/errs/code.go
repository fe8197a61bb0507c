package errs

// Error codes used across the relay. 11xx reject a connection at handshake,
// 12xx tear down an established session, 13xx drop a single frame only.
var (
	ErrTokenMissing   = NewCodeError(1101, "token missing")
	ErrTokenMalformed = NewCodeError(1102, "token malformed")
	ErrTokenExpired   = NewCodeError(1103, "token expired")

	ErrTransport = NewCodeError(1201, "transport failure")

	ErrProtocol = NewCodeError(1301, "malformed frame")

	ErrBoardForbidden = NewCodeError(1401, "board access denied")
)

// IsAuthErr reports whether err belongs to the handshake-rejection family.
func IsAuthErr(err error) bool {
	return ErrTokenMissing.Is(err) || ErrTokenMalformed.Is(err) || ErrTokenExpired.Is(err)
}
