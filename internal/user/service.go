package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/auth"
	"github.com/frahmantamala/shop-orders/internal/core/common/validation"
	userDatamodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/user"
)

type Service struct {
	repo       Repository
	bcryptCost int
	logger     *slog.Logger
}

func NewService(repo Repository, bcryptCost int, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

func (s *Service) GetByID(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	perms, err := s.repo.GetPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}

	return FromDataModelWithPermissions(u, perms), nil
}

// EnsureStaff creates the account or resets its name and password, then grants the permissions.
// Permissions already held are kept.
func (s *Service) EnsureStaff(ctx context.Context, req CreateStaffRequest) (*User, error) {
	v := validation.NewValidator()
	v.Field("email", req.Email).Required().MaxLength(255)
	v.Field("name", req.Name).Required().MaxLength(255)
	v.Field("password", req.Password).Required().MinLength(8)
	if err := v.Validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	row := &userDatamodel.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.repo.UpsertByEmail(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save staff account: %w", err)
	}
	if err := s.repo.GrantPermissions(ctx, row.ID, req.Permissions); err != nil {
		return nil, fmt.Errorf("failed to grant permissions: %w", err)
	}

	s.logger.Info("staff account provisioned", "user_id", row.ID, "email", row.Email, "permissions", req.Permissions)
	return s.GetByID(ctx, row.ID)
}
