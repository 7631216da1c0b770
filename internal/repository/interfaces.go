// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/lostfound/internal/model"
)

// ErrReportNotFound は更新対象のレポートが存在しない場合に返される。
var ErrReportNotFound = errors.New("report not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除され、reports.owner_idはNULLになる。
	// MongoDB上のレポートは先にReportRepository.AnonymizeOwnerで匿名化しておく。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// ReportRepository は落とし物レポートの永続化インターフェース。
// PostgreSQLとMongoDBの実装がある。
type ReportRepository interface {
	// Insert はレポートを作成する。IDとCreatedAtはストア側で採番し、作成後のレポートを返す。
	Insert(ctx context.Context, in model.NewReport) (*model.Report, error)

	// Update はdescription/imageUrlを部分更新する。nilのフィールドは変更しない。
	// 対象が存在しない場合はErrReportNotFoundを返す。
	Update(ctx context.Context, id string, patch model.ReportPatch) (*model.Report, error)

	// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Report, error)

	// ListOrdered は全レポートをcreated_at降順（同時刻はID昇順）で返す。
	ListOrdered(ctx context.Context) ([]model.Report, error)

	// AnonymizeOwner は指定ユーザーのレポートから所有者情報を外し、更新件数を返す。
	AnonymizeOwner(ctx context.Context, ownerID string) (int64, error)
}

// ReportWatcher はレポートコレクションの変更通知を提供する。
type ReportWatcher interface {
	// Watch は変更があるたびに値を送るチャネルを返す。
	// 連続した変更は1件にまとめられることがある。ctxの終了でチャネルは閉じられる。
	Watch(ctx context.Context) (<-chan struct{}, error)
}
