// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/lostfound/internal/model"
)

// UserStore は退会処理で使うユーザー操作のインターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// SessionDeleter はセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// ReportAnonymizer は退会ユーザーのレポートを匿名化するインターフェース。
type ReportAnonymizer interface {
	AnonymizeOwner(ctx context.Context, ownerID string) (int64, error)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	users    UserStore
	sessions SessionDeleter
	reports  ReportAnonymizer
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserStore, sessions SessionDeleter, reports ReportAnonymizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		reports:  reports,
		logger:   logger,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: reportsの匿名化 → sessions → user（+ CASCADE: identities）
// レポート自体は地図に残り、所有者なしのレポートとして扱われる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("withdrawing user", slog.String("user_id", userID))

	// 1. レポートを匿名化
	anonymized, err := s.reports.AnonymizeOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to anonymize reports: %w", err)
	}

	// 2. セッションを削除
	revoked, err := s.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	// 3. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.users.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.logger.Info("user withdrawn",
		slog.String("user_id", userID),
		slog.Int64("anonymized_reports", anonymized),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}
