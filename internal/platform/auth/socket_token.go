package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSocketTokenInvalid is returned when a socket token is missing, unknown,
// already used, or expired.
var ErrSocketTokenInvalid = errors.New("socket token invalid or expired")

// SocketTokenStore issues and resolves the short-lived, single-purpose tokens
// that authenticate chat connections. They are distinct from the long-lived
// API access token: a client first calls the authenticated ws-token endpoint,
// then presents the returned token as a connection query parameter.
type SocketTokenStore interface {
	// Issue creates a fresh token for the user and purges the user's expired
	// tokens as a side effect.
	Issue(ctx context.Context, userID uuid.UUID) (token string, expiresAt time.Time, err error)
	// Resolve consumes the token and returns the user it was issued to.
	// Tokens are single use: a second Resolve of the same token fails with
	// ErrSocketTokenInvalid.
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// newSocketToken returns a 32-byte URL-safe random token.
func newSocketToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate socket token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
