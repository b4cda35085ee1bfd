package postgres

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/frahmantamala/shop-orders/internal"
	"github.com/frahmantamala/shop-orders/internal/auth"
	usermodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/user"
)

var errUserNotFound = errors.New("user not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetPasswordForUsername(ctx context.Context, email string) (string, string, error) {
	var user usermodel.User
	err := r.db.WithContext(ctx).
		Select("id", "password_hash").
		Where("email = ? AND is_active = ?", email, true).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errUserNotFound
		}
		return "", "", err
	}
	return user.PasswordHash, strconv.FormatInt(user.ID, 10), nil
}

func (r *Repository) GetUserWithPermissions(ctx context.Context, userID int64) (*auth.User, error) {
	var row usermodel.User
	err := r.db.WithContext(ctx).
		Select("id", "email", "is_active").
		Where("id = ?", userID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUserNotFound
		}
		return nil, err
	}
	if !row.IsActive {
		return nil, internal.ErrUserInactive
	}

	var permissions []string
	err = r.db.WithContext(ctx).
		Table("permissions p").
		Joins("JOIN user_permissions up ON p.id = up.permission_id").
		Where("up.user_id = ?", userID).
		Order("p.name").
		Pluck("p.name", &permissions).Error
	if err != nil {
		return nil, err
	}

	return &auth.User{
		ID:          row.ID,
		Email:       row.Email,
		IsActive:    row.IsActive,
		Permissions: permissions,
	}, nil
}
