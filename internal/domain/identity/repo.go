package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user exists for the given id.
var ErrUserNotFound = errors.New("user not found")

// Repository is the read-only persistence contract for user lookups.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// ParticipantSummary returns the display name and avatar for a user,
	// falling back to a role-based placeholder when no profile row exists.
	ParticipantSummary(ctx context.Context, id uuid.UUID) (*Participant, error)
}
