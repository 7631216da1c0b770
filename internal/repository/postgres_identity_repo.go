package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/lostfound/internal/model"
)

// PostgresIdentityRepo はGoogleアカウントとメールアドレス認証の紐付けを保持する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はidentityを検索する。見つからなければnil。
// providerが"password"の場合、providerUserIDは小文字化したメールアドレス。
// Googleで作成したidentityのPasswordHashは空になる。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var (
		ident model.Identity
		hash  sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, password_hash, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&ident.ID, &ident.UserID, &ident.Provider, &ident.ProviderUserID, &hash, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s identity: %w", provider, err)
	}
	ident.PasswordHash = hash.String
	return &ident, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
