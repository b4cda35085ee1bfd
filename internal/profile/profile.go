package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	profilemodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/profile"
)

type Profile = profilemodel.Profile

var ErrNotFound = errors.New("profile not found")

// Repository reads customer profiles. A missing row is ErrNotFound.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
}

// Service is the read-only profile store used when preparing shipments.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNotFound
	}

	p, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to load profile", "error", err, "user_id", userID)
		}
		return nil, err
	}
	return p, nil
}
