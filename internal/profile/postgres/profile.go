package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	profilemodel "github.com/frahmantamala/shop-orders/internal/core/datamodel/profile"
	"github.com/frahmantamala/shop-orders/internal/profile"
)

const getProfileQuery = `SELECT user_id,
	COALESCE(email, '') AS email,
	COALESCE(nom, '') AS nom,
	COALESCE(prenom, '') AS prenom,
	COALESCE(telephone, '') AS telephone,
	COALESCE(adresse, '') AS adresse,
	COALESCE(adresse2, '') AS adresse2,
	COALESCE(code_postal, '') AS code_postal,
	COALESCE(ville, '') AS ville,
	COALESCE(pays, '') AS pays
FROM profiles
WHERE user_id = ?`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetByUserID(ctx context.Context, userID string) (*profile.Profile, error) {
	var p profilemodel.Profile
	err := r.db.GetContext(ctx, &p, r.db.Rebind(getProfileQuery), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, fmt.Errorf("select profile: %w", err)
	}
	return &p, nil
}
