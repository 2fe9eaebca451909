package consultation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retry policy for transient write conflicts: the whole validate-insert-
// increment unit is retried, never a partial step.
const (
	maxAppendAttempts = 3
	retryBackoffBase  = 200 * time.Millisecond
)

type Service struct {
	repo Repository

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration)
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, sleep: sleepCtx}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

// SendMessage persists a message for the sender, retrying transient
// conflicts a bounded number of times with randomized backoff. Structural
// failures (not found, forbidden, wrong state, limit reached) are never
// retried.
func (s *Service) SendMessage(ctx context.Context, consultationID, senderID uuid.UUID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message content", ErrInvalidState)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		msg, err := s.repo.AppendMessage(ctx, consultationID, senderID, content)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
		if attempt < maxAppendAttempts {
			s.sleep(ctx, backoff(attempt))
		}
	}
	return nil, lastErr
}

// MarkRead flips one message's read flag on behalf of readerID. The boolean
// reports whether the flag actually changed; marking an already-read message
// is a no-op, not an error.
func (s *Service) MarkRead(ctx context.Context, consultationID, readerID, messageID uuid.UUID) (bool, error) {
	cons, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return false, err
	}
	if !cons.IsParticipant(readerID) {
		return false, ErrForbidden
	}
	return s.repo.MarkRead(ctx, consultationID, readerID, messageID)
}

// MarkAllRead flips every unread message sent by the other participant and
// returns how many were flipped.
func (s *Service) MarkAllRead(ctx context.Context, consultationID, readerID uuid.UUID) (int, error) {
	cons, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return 0, err
	}
	if !cons.IsParticipant(readerID) {
		return 0, ErrForbidden
	}
	return s.repo.MarkAllRead(ctx, consultationID, readerID)
}

// History returns the full message history ordered by sent_at ascending.
func (s *Service) History(ctx context.Context, consultationID uuid.UUID) ([]*Message, error) {
	return s.repo.ListMessages(ctx, consultationID)
}

// HistoryPage returns one page of history plus the total message count.
func (s *Service) HistoryPage(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	return s.repo.ListMessagesPage(ctx, consultationID, limit, offset)
}

// Complete transitions an active consultation to completed. Only the
// consultation's doctor or an admin may complete it.
func (s *Service) Complete(ctx context.Context, consultationID, actorID uuid.UUID, actorRole string) (*Consultation, error) {
	cons, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if actorID != cons.DoctorID && actorRole != "admin" {
		return nil, ErrForbidden
	}
	return s.repo.Complete(ctx, consultationID)
}

// Extend raises the message cap by one extension step. Only the patient may
// extend, and only while the consultation is active.
func (s *Service) Extend(ctx context.Context, consultationID, actorID uuid.UUID) (*Consultation, error) {
	cons, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if actorID != cons.PatientID {
		return nil, ErrForbidden
	}
	return s.repo.BumpLimit(ctx, consultationID, ExtensionStep)
}

// backoff returns the wait before retry attempt+1: a growing base with up to
// 50% random jitter so racing senders do not retry in lockstep.
func backoff(attempt int) time.Duration {
	base := retryBackoffBase * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
