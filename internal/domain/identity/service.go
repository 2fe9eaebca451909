package identity

import (
	"context"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ParticipantSummary(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return s.repo.ParticipantSummary(ctx, id)
}
