package user

import (
	"context"
	"time"

	userDatamodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/user"
)

// User is a back-office staff account as shown to its owner.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateStaffRequest provisions a staff account with the given permissions.
type CreateStaffRequest struct {
	Email       string
	Name        string
	Password    string
	Permissions []string
}

type Repository interface {
	GetByID(ctx context.Context, userID int64) (*userDatamodel.User, error)
	GetPermissions(ctx context.Context, userID int64) ([]string, error)
	UpsertByEmail(ctx context.Context, u *userDatamodel.User) error
	GrantPermissions(ctx context.Context, userID int64, permissions []string) error
}

type ServiceAPI interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
}

func FromDataModelWithPermissions(u *userDatamodel.User, permissions []string) *User {
	if permissions == nil {
		permissions = []string{}
	}
	return &User{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		IsActive:    u.IsActive,
		Permissions: permissions,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
