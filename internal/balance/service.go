package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cashloop/cashloop-backend/pkg/db/models"
)

// Service exposes read access to a user's cashback aggregate.
type Service interface {
	GetForUser(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
}

type service struct {
	repo Repository
}

// NewService wires a balance service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetForUser(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	return s.repo.Get(ctx, userID)
}
