package chat

import (
	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/domain/identity"
)

// Inbound command types.
const (
	CmdMessage         = "message"
	CmdReadReceipt     = "read_receipt"
	CmdStatusUpdate    = "status_update"
	CmdMarkRead        = "mark_read"
	CmdGetMessagesBulk = "get_messages_bulk"
	CmdPing            = "ping"
)

// Outbound event types.
const (
	EventMessage      = "message"
	EventReadReceipt  = "read_receipt"
	EventStatusUpdate = "status_update"
	EventMessagesBulk = "messages_bulk"
	EventMessagesRead = "messages_read"
	EventError        = "error"
	EventPong         = "pong"
)

// Error codes carried by EventError so clients can distinguish limit-reached
// from access-denied from wrong-state from retry-later.
const (
	CodeNotFound      = "not_found"
	CodeForbidden     = "forbidden"
	CodeInvalidState  = "invalid_state"
	CodeLimitExceeded = "limit_exceeded"
	CodeTransient     = "transient"
	CodeProtocol      = "protocol_error"
	CodeInternal      = "internal"
)

// Command is the envelope for inbound client frames, discriminated by Type.
// Unknown types are answered with a protocol error, never silently dropped.
type Command struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Participants pairs the display summaries sent with bulk history.
type Participants struct {
	Patient *identity.Participant `json:"patient"`
	Doctor  *identity.Participant `json:"doctor"`
}

// Event is the envelope for outbound frames. Every event carries the
// consultation id plus whatever identifiers the client needs to reconcile
// its local state without a follow-up fetch.
type Event struct {
	Type           string                       `json:"type"`
	ConsultationID uuid.UUID                    `json:"consultation_id"`
	Message        *consultation.Message        `json:"message,omitempty"`
	Messages       []*consultation.Message      `json:"messages,omitempty"`
	Consultation   *consultation.Consultation   `json:"consultation,omitempty"`
	Participants   *Participants                `json:"participants,omitempty"`
	MessageID      string                       `json:"message_id,omitempty"`
	ReaderID       string                       `json:"reader_id,omitempty"`
	TempID         string                       `json:"temp_id,omitempty"`
	Code           string                       `json:"code,omitempty"`
	Detail         string                       `json:"detail,omitempty"`
}
