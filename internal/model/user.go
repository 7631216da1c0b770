// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName は表示名を返す。名前が未設定の場合はメールアドレスを使う。
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// 認証プロバイダー名
const (
	ProviderGoogle   = "google"
	ProviderPassword = "password"
)

// Identity は外部IdPとの紐付け情報を表す。
// passwordプロバイダーの場合はProviderUserIDにメールアドレス、PasswordHashにbcryptハッシュを持つ。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	PasswordHash   string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
