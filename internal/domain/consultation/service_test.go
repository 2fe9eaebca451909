package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockRepo is an in-memory Repository that mirrors the transactional
// semantics of the Postgres implementation: append, bump, and complete run
// under one mutex, standing in for the consultation row lock.
type mockRepo struct {
	mu            sync.Mutex
	consultations map[uuid.UUID]*Consultation
	messages      map[uuid.UUID][]*Message

	// conflictsLeft makes the next N AppendMessage calls fail with
	// ErrConflict before succeeding, to exercise the retry loop.
	conflictsLeft int
	appendCalls   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		consultations: make(map[uuid.UUID]*Consultation),
		messages:      make(map[uuid.UUID][]*Message),
	}
}

func (m *mockRepo) addConsultation(c *Consultation) {
	m.consultations[c.ID] = c
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) AppendMessage(_ context.Context, consultationID, senderID uuid.UUID, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendCalls++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return nil, ErrConflict
	}

	c, ok := m.consultations[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	if !c.IsParticipant(senderID) {
		return nil, ErrForbidden
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidState
	}
	if c.MessageCount >= c.MessageLimit {
		return nil, ErrLimitExceeded
	}

	msg := &Message{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         time.Now(),
	}
	m.messages[consultationID] = append(m.messages[consultationID], msg)
	c.MessageCount++
	return msg, nil
}

func (m *mockRepo) MarkRead(_ context.Context, consultationID, readerID, messageID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[consultationID] {
		if msg.ID != messageID {
			continue
		}
		if msg.SenderID == readerID || msg.IsRead {
			return false, nil
		}
		msg.IsRead = true
		return true, nil
	}
	return false, ErrNotFound
}

func (m *mockRepo) MarkAllRead(_ context.Context, consultationID, readerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages[consultationID] {
		if msg.SenderID != readerID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListMessages(_ context.Context, consultationID uuid.UUID) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.messages[consultationID]))
	copy(out, m.messages[consultationID])
	return out, nil
}

func (m *mockRepo) ListMessagesPage(_ context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[consultationID]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Message, end-offset)
	copy(out, all[offset:end])
	return out, total, nil
}

func (m *mockRepo) BumpLimit(_ context.Context, consultationID uuid.UUID, delta int) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidState
	}
	c.MessageLimit += delta
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Complete(_ context.Context, consultationID uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consultations[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != StatusActive {
		return nil, ErrInvalidState
	}
	c.Status = StatusCompleted
	now := time.Now()
	c.CompletedAt = &now
	cp := *c
	return &cp, nil
}

func newTestService(repo *mockRepo) *Service {
	svc := NewService(repo)
	svc.sleep = func(context.Context, time.Duration) {}
	return svc
}

func activeConsultation(limit int) (*Consultation, uuid.UUID, uuid.UUID) {
	patientID := uuid.New()
	doctorID := uuid.New()
	return &Consultation{
		ID:           uuid.New(),
		PatientID:    patientID,
		DoctorID:     doctorID,
		Status:       StatusActive,
		MessageLimit: limit,
		CreatedAt:    time.Now(),
	}, patientID, doctorID
}

func TestSendMessage(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	msg, err := svc.SendMessage(context.Background(), cons.ID, patientID, "hello doctor")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Content != "hello doctor" {
		t.Errorf("unexpected content: %q", msg.Content)
	}
	if msg.SenderID != patientID {
		t.Errorf("unexpected sender: %s", msg.SenderID)
	}

	got, err := svc.Get(context.Background(), cons.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("expected message_count 1, got %d", got.MessageCount)
	}
}

func TestSendMessageTrimsAndRejectsEmpty(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	if _, err := svc.SendMessage(context.Background(), cons.ID, patientID, "   "); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for blank content, got %v", err)
	}
	if repo.appendCalls != 0 {
		t.Errorf("blank content should not reach the repository, got %d calls", repo.appendCalls)
	}

	msg, err := svc.SendMessage(context.Background(), cons.ID, patientID, "  hi  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Content != "hi" {
		t.Errorf("expected trimmed content, got %q", msg.Content)
	}
}

func TestSendMessageNonParticipant(t *testing.T) {
	repo := newMockRepo()
	cons, _, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	_, err := svc.SendMessage(context.Background(), cons.ID, uuid.New(), "intruder")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSendMessageInactiveConsultation(t *testing.T) {
	for _, status := range []string{StatusPending, StatusCompleted, StatusCancelled} {
		repo := newMockRepo()
		cons, patientID, _ := activeConsultation(DefaultMessageLimit)
		cons.Status = status
		repo.addConsultation(cons)
		svc := newTestService(repo)

		_, err := svc.SendMessage(context.Background(), cons.ID, patientID, "hello")
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestSendMessageLimitExhaustion(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(2)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "first"); err != nil {
		t.Fatalf("first message failed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, cons.ID, doctorID, "second"); err != nil {
		t.Fatalf("second message failed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "third"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded on third message, got %v", err)
	}

	// The rejected message must leave no trace.
	msgs, err := svc.History(ctx, cons.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 stored messages, got %d", len(msgs))
	}
	got, _ := svc.Get(ctx, cons.ID)
	if got.MessageCount != 2 {
		t.Errorf("expected message_count 2 after rejection, got %d", got.MessageCount)
	}
}

func TestSendMessageRetriesTransientConflict(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	repo.conflictsLeft = 2
	svc := newTestService(repo)

	msg, err := svc.SendMessage(context.Background(), cons.ID, patientID, "eventually")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if repo.appendCalls != 3 {
		t.Errorf("expected 3 append attempts, got %d", repo.appendCalls)
	}
}

func TestSendMessageRetriesExhausted(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	repo.conflictsLeft = 10
	svc := newTestService(repo)

	_, err := svc.SendMessage(context.Background(), cons.ID, patientID, "never lands")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausted retries, got %v", err)
	}
	if repo.appendCalls != maxAppendAttempts {
		t.Errorf("expected exactly %d attempts, got %d", maxAppendAttempts, repo.appendCalls)
	}
}

func TestSendMessageNoRetryOnStructuralFailure(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(0)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	_, err := svc.SendMessage(context.Background(), cons.ID, patientID, "over cap")
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if repo.appendCalls != 1 {
		t.Errorf("structural failures must not be retried, got %d attempts", repo.appendCalls)
	}
}

func TestConcurrentSendersIncrementExactly(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	senders := []uuid.UUID{patientID, doctorID}
	for i, sender := range senders {
		wg.Add(1)
		go func(i int, sender uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.SendMessage(ctx, cons.ID, sender, "racing")
		}(i, sender)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("sender %d failed: %v", i, err)
		}
	}
	got, _ := svc.Get(ctx, cons.ID)
	if got.MessageCount != 2 {
		t.Errorf("expected message_count 2 after two concurrent sends, got %d", got.MessageCount)
	}
}

func TestMarkRead(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, cons.ID, patientID, "read me")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	flipped, err := svc.MarkRead(ctx, cons.ID, doctorID, msg.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !flipped {
		t.Error("expected first mark to flip the flag")
	}

	// Marking twice is a no-op, not an error.
	flipped, err = svc.MarkRead(ctx, cons.ID, doctorID, msg.ID)
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if flipped {
		t.Error("expected second mark to be a no-op")
	}
}

func TestMarkReadNonParticipant(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	msg, _ := svc.SendMessage(ctx, cons.ID, patientID, "private")
	if _, err := svc.MarkRead(ctx, cons.ID, uuid.New(), msg.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestMarkReadUnknownMessage(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	_, err := svc.MarkRead(context.Background(), cons.ID, patientID, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkAllRead(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	svc.SendMessage(ctx, cons.ID, patientID, "one")
	svc.SendMessage(ctx, cons.ID, patientID, "two")
	svc.SendMessage(ctx, cons.ID, doctorID, "mine")

	n, err := svc.MarkAllRead(ctx, cons.ID, doctorID)
	if err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 flipped messages, got %d", n)
	}

	// The reader's own message stays unread.
	n, err = svc.MarkAllRead(ctx, cons.ID, doctorID)
	if err != nil {
		t.Fatalf("second MarkAllRead failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 on repeat, got %d", n)
	}
}

func TestComplete(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	// The patient may not complete.
	if _, err := svc.Complete(ctx, cons.ID, patientID, "patient"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for patient, got %v", err)
	}

	done, err := svc.Complete(ctx, cons.ID, doctorID, "doctor")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at to be stamped")
	}

	// Completing twice is an invalid transition.
	if _, err := svc.Complete(ctx, cons.ID, doctorID, "doctor"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on repeat, got %v", err)
	}

	// And no further messages are accepted.
	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "too late"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after completion, got %v", err)
	}
}

func TestCompleteByAdmin(t *testing.T) {
	repo := newMockRepo()
	cons, _, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)

	done, err := svc.Complete(context.Background(), cons.ID, uuid.New(), "admin")
	if err != nil {
		t.Fatalf("admin Complete failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected status completed, got %s", done.Status)
	}
}

func TestExtend(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, doctorID := activeConsultation(2)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	// Only the patient may extend.
	if _, err := svc.Extend(ctx, cons.ID, doctorID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for doctor, got %v", err)
	}

	got, err := svc.Extend(ctx, cons.ID, patientID)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if got.MessageLimit != 2+ExtensionStep {
		t.Errorf("expected limit %d, got %d", 2+ExtensionStep, got.MessageLimit)
	}
}

func TestExtendUnblocksSending(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(1)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "one"); err != nil {
		t.Fatalf("first message failed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "blocked"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if _, err := svc.Extend(ctx, cons.ID, patientID); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, cons.ID, patientID, "unblocked"); err != nil {
		t.Fatalf("expected send to succeed after extension, got %v", err)
	}
}

func TestExtendInactive(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	cons.Status = StatusCompleted
	repo.addConsultation(cons)
	svc := newTestService(repo)

	if _, err := svc.Extend(context.Background(), cons.ID, patientID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestHistoryPage(t *testing.T) {
	repo := newMockRepo()
	cons, patientID, _ := activeConsultation(DefaultMessageLimit)
	repo.addConsultation(cons)
	svc := newTestService(repo)
	ctx := context.Background()

	for _, content := range []string{"a", "b", "c", "d", "e"} {
		if _, err := svc.SendMessage(ctx, cons.ID, patientID, content); err != nil {
			t.Fatalf("seed message failed: %v", err)
		}
	}

	page, total, err := svc.HistoryPage(ctx, cons.ID, 2, 2)
	if err != nil {
		t.Fatalf("HistoryPage failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Content != "c" || page[1].Content != "d" {
		t.Errorf("unexpected page contents: %q, %q", page[0].Content, page[1].Content)
	}
}
