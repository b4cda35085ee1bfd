package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/shop-orders/internal"
	userDatamodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/user"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*userDatamodel.User, error) {
	var u userDatamodel.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetPermissions(ctx context.Context, userID int64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Table("permissions p").
		Joins("JOIN user_permissions up ON p.id = up.permission_id").
		Where("up.user_id = ?", userID).
		Order("p.name").
		Pluck("p.name", &names).Error
	return names, err
}

// UpsertByEmail inserts u or refreshes name, password and active flag of the account with the same
// email. u.ID is set on return.
func (r *UserRepository) UpsertByEmail(ctx context.Context, u *userDatamodel.User) error {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "password_hash", "is_active", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return err
	}
	return db.Select("id").Where("email = ?", u.Email).First(u).Error
}

func (r *UserRepository) GrantPermissions(ctx context.Context, userID int64, permissions []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range permissions {
			perm := userDatamodel.Permission{Name: name}
			if err := tx.Where(userDatamodel.Permission{Name: name}).FirstOrCreate(&perm).Error; err != nil {
				return err
			}
			grant := userDatamodel.UserPermission{UserID: userID, PermissionID: perm.ID}
			if err := tx.Where("user_id = ? AND permission_id = ?", userID, perm.ID).FirstOrCreate(&grant).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
