package store

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fujialign/fujialign/fujierr"
)

// AdminRepo persists Admin rows. This layer only stores bcrypt-hashed
// passwords; session/JWT mechanics belong to the external auth
// collaborator.
type AdminRepo struct {
	db *DB
}

func NewAdminRepo(db *DB) *AdminRepo { return &AdminRepo{db: db} }

// HashPassword bcrypt-hashes a plaintext password at the default cost,
// the persistence-layer half of admin credential storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fujierr.New(fujierr.KindInvalidInput, "store.HashPassword", err, nil)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Create inserts a new Admin row.
func (r *AdminRepo) Create(ctx context.Context, username, email, passwordHash string) (Admin, error) {
	a := Admin{ID: uuid.New(), Username: username, Email: email, PasswordHash: passwordHash}
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO admins (id, username, email, password_hash)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at
	`, a.ID, a.Username, a.Email, a.PasswordHash)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return Admin{}, fujierr.New(fujierr.KindStorageTransient, "store.Admins.Create", err, nil)
	}
	return a, nil
}

// ByUsername fetches an Admin by its unique username.
func (r *AdminRepo) ByUsername(ctx context.Context, username string) (Admin, error) {
	var a Admin
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM admins WHERE username=$1
	`, username)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Admin{}, fujierr.New(fujierr.KindStorageTransient, "store.Admins.ByUsername", err, nil)
	}
	return a, nil
}
