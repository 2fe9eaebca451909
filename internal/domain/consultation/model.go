// Package consultation implements the message store for patient/doctor
// consultations: bounded chat sessions with a lifecycle status, a message
// cap, and read receipts.
package consultation

import (
	"time"

	"github.com/google/uuid"
)

// Consultation lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// DefaultMessageLimit is the message cap a new consultation starts with.
const DefaultMessageLimit = 30

// ExtensionStep is how many messages one paid extension adds to the cap.
const ExtensionStep = 30

// Consultation maps to the consultations table. MessageCount never exceeds
// MessageLimit while the consultation is active; both are mutated only under
// the consultation's row lock.
type Consultation struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Status       string     `db:"status" json:"status"`
	MessageLimit int        `db:"message_limit" json:"message_limit"`
	MessageCount int        `db:"message_count" json:"message_count"`
	PatientNote  *string    `db:"patient_note" json:"patient_note,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// IsParticipant reports whether userID is the consultation's patient or
// doctor.
func (c *Consultation) IsParticipant(userID uuid.UUID) bool {
	return userID == c.PatientID || userID == c.DoctorID
}

// OtherParticipant returns the participant opposite to userID. The caller
// must have verified participation first.
func (c *Consultation) OtherParticipant(userID uuid.UUID) uuid.UUID {
	if userID == c.PatientID {
		return c.DoctorID
	}
	return c.PatientID
}

// Message maps to the messages table. Messages are never deleted by the
// messaging core; they cascade away with their consultation.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConsultationID uuid.UUID `db:"consultation_id" json:"consultation_id"`
	SenderID       uuid.UUID `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
	IsRead         bool      `db:"is_read" json:"is_read"`
}
