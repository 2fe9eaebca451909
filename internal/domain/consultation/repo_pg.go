package consultation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const consultationCols = `id, patient_id, doctor_id, status, message_limit, message_count,
	patient_note, created_at, started_at, completed_at`

const messageCols = `id, consultation_id, sender_id, content, sent_at, is_read`

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(r.pool.QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
}

// lockConsultation loads the consultation row FOR UPDATE inside tx. The lock
// serializes every counter/status mutation for the consultation until commit.
func lockConsultation(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(tx.QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) AppendMessage(ctx context.Context, consultationID, senderID uuid.UUID, content string) (*Message, error) {
	var msg *Message
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		cons, err := lockConsultation(ctx, tx, consultationID)
		if err != nil {
			return err
		}
		if !cons.IsParticipant(senderID) {
			return ErrForbidden
		}
		if cons.Status != StatusActive {
			return ErrInvalidState
		}
		if cons.MessageCount >= cons.MessageLimit {
			return ErrLimitExceeded
		}

		var m Message
		if err := tx.QueryRow(ctx, `
			INSERT INTO messages (id, consultation_id, sender_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING `+messageCols,
			uuid.New(), consultationID, senderID, content,
		).Scan(&m.ID, &m.ConsultationID, &m.SenderID, &m.Content, &m.SentAt, &m.IsRead); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE consultations SET message_count = message_count + 1 WHERE id = $1`,
			consultationID,
		); err != nil {
			return fmt.Errorf("increment message count: %w", err)
		}

		msg = &m
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

func (r *repoPG) MarkRead(ctx context.Context, consultationID, readerID, messageID uuid.UUID) (bool, error) {
	var wasRead bool
	err := r.pool.QueryRow(ctx, `
		SELECT is_read FROM messages
		WHERE id = $1 AND consultation_id = $2 AND sender_id <> $3`,
		messageID, consultationID, readerID,
	).Scan(&wasRead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if wasRead {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1 AND is_read = FALSE`, messageID)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) MarkAllRead(ctx context.Context, consultationID, readerID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE consultation_id = $1 AND sender_id <> $2 AND is_read = FALSE`,
		consultationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ListMessages(ctx context.Context, consultationID uuid.UUID) ([]*Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE consultation_id = $1 ORDER BY sent_at ASC`,
		consultationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *repoPG) ListMessagesPage(ctx context.Context, consultationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE consultation_id = $1`, consultationID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE consultation_id = $1
		ORDER BY sent_at ASC LIMIT $2 OFFSET $3`,
		consultationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages page: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *repoPG) BumpLimit(ctx context.Context, consultationID uuid.UUID, delta int) (*Consultation, error) {
	var cons *Consultation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		locked, err := lockConsultation(ctx, tx, consultationID)
		if err != nil {
			return err
		}
		if locked.Status != StatusActive {
			return ErrInvalidState
		}

		updated, err := scanConsultation(tx.QueryRow(ctx, `
			UPDATE consultations SET message_limit = message_limit + $2
			WHERE id = $1
			RETURNING `+consultationCols,
			consultationID, delta))
		if err != nil {
			return err
		}
		cons = updated
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return cons, nil
}

func (r *repoPG) Complete(ctx context.Context, consultationID uuid.UUID) (*Consultation, error) {
	var cons *Consultation
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		locked, err := lockConsultation(ctx, tx, consultationID)
		if err != nil {
			return err
		}
		if locked.Status != StatusActive {
			return ErrInvalidState
		}

		updated, err := scanConsultation(tx.QueryRow(ctx, `
			UPDATE consultations SET status = $2, completed_at = NOW()
			WHERE id = $1
			RETURNING `+consultationCols,
			consultationID, StatusCompleted))
		if err != nil {
			return err
		}
		cons = updated
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return cons, nil
}

// classify maps low-level persistence errors onto the package taxonomy:
// missing rows become ErrNotFound and retryable races become ErrConflict.
// Taxonomy errors pass through untouched.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsTransient(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(
		&c.ID, &c.PatientID, &c.DoctorID, &c.Status, &c.MessageLimit, &c.MessageCount,
		&c.PatientNote, &c.CreatedAt, &c.StartedAt, &c.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func collectMessages(rows pgx.Rows) ([]*Message, error) {
	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConsultationID, &m.SenderID, &m.Content, &m.SentAt, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
