package profile

import "time"

// Profile is the storefront customer profile. Column names follow the storefront schema.
type Profile struct {
	UserID     string    `db:"user_id" gorm:"primaryKey;column:user_id"`
	Email      string    `db:"email" gorm:"column:email"`
	Nom        string    `db:"nom" gorm:"column:nom"`
	Prenom     string    `db:"prenom" gorm:"column:prenom"`
	Telephone  string    `db:"telephone" gorm:"column:telephone"`
	Adresse    string    `db:"adresse" gorm:"column:adresse"`
	Adresse2   string    `db:"adresse2" gorm:"column:adresse2"`
	CodePostal string    `db:"code_postal" gorm:"column:code_postal"`
	Ville      string    `db:"ville" gorm:"column:ville"`
	Pays       string    `db:"pays" gorm:"column:pays"`
	UpdatedAt  time.Time `db:"updated_at" gorm:"column:updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
