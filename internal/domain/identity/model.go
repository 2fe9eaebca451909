// Package identity exposes the read-side of the platform's user accounts
// that the consultation core consumes: token subjects resolve to users, and
// chat history is enriched with participant display summaries. Account CRUD
// lives in the upstream user service.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// Roles a user account can hold.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// User maps to the users table.
type User struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Role       string    `db:"role" json:"role"`
	AvatarPath *string   `db:"avatar_path" json:"avatar_path,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Participant is the display summary of a consultation participant used to
// enrich chat history.
type Participant struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Avatar *string   `json:"avatar,omitempty"`
}
