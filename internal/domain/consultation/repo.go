package consultation

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence contract for consultations and their
// messages. Implementations must serialize AppendMessage, Complete, and
// BumpLimit per consultation (row lock or equivalent) and surface concurrent
// write races as ErrConflict.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)

	// AppendMessage validates the consultation (exists, sender participates,
	// status active, count under limit), inserts the message, and increments
	// message_count, all inside one transaction under the consultation's
	// row lock.
	AppendMessage(ctx context.Context, consultationID, senderID uuid.UUID, content string) (*Message, error)

	// MarkRead flips is_read on one message sent by the other participant.
	// It reports whether anything changed so callers broadcast only on a
	// real transition. A missing message is ErrNotFound.
	MarkRead(ctx context.Context, consultationID, readerID, messageID uuid.UUID) (bool, error)

	// MarkAllRead flips is_read on every unread message not sent by
	// readerID and returns how many were flipped.
	MarkAllRead(ctx context.Context, consultationID, readerID uuid.UUID) (int, error)

	// ListMessages returns all messages ordered by sent_at ascending.
	ListMessages(ctx context.Context, consultationID uuid.UUID) ([]*Message, error)

	// ListMessagesPage returns one page of messages ordered by sent_at
	// ascending plus the total count.
	ListMessagesPage(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error)

	// BumpLimit raises message_limit by delta under the consultation's row
	// lock and returns the updated consultation.
	BumpLimit(ctx context.Context, consultationID uuid.UUID, delta int) (*Consultation, error)

	// Complete transitions an active consultation to completed and stamps
	// completed_at, under the consultation's row lock.
	Complete(ctx context.Context, consultationID uuid.UUID) (*Consultation, error)
}
