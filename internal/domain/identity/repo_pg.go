package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, role, avatar_path, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Role, &u.AvatarPath, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (r *repoPG) ParticipantSummary(ctx context.Context, id uuid.UUID) (*Participant, error) {
	var (
		p           Participant
		role        string
		patientName *string
		doctorName  *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, u.role, u.avatar_path, pp.full_name, dp.full_name
		FROM users u
		LEFT JOIN patient_profiles pp ON pp.user_id = u.id
		LEFT JOIN doctor_profiles dp ON dp.user_id = u.id
		WHERE u.id = $1`, id,
	).Scan(&p.ID, &role, &p.Avatar, &patientName, &doctorName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("participant summary %s: %w", id, err)
	}

	p.Name = displayName(role, patientName, doctorName)
	return &p, nil
}

func displayName(role string, patientName, doctorName *string) string {
	switch role {
	case RoleDoctor:
		if doctorName != nil && *doctorName != "" {
			return *doctorName
		}
		return "Doctor"
	default:
		if patientName != nil && *patientName != "" {
			return *patientName
		}
		return "Patient"
	}
}
