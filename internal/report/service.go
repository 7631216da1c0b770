// Package report は落とし物レポートのドメインロジックを提供する。
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang/geo/s2"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
)

// MaxDescriptionLength は説明文の最大文字数。
const MaxDescriptionLength = 1000

// CreateInput はレポート作成の入力値を表す。
type CreateInput struct {
	Description string
	Location    model.GeoPoint
	ImageURL    *string
}

// EditPolicy は編集可否の判定ルールを表す。
type EditPolicy struct {
	// AllowAnonymousOwnedEdits がtrueの場合、所有者のいないレポートは誰でも編集できる。
	AllowAnonymousOwnedEdits bool
}

// CanEdit はuserIDのユーザーがreportを編集できるかを判定する。
func (p EditPolicy) CanEdit(report *model.Report, userID string) bool {
	if report.OwnerID == nil || *report.OwnerID == "" {
		return p.AllowAnonymousOwnedEdits
	}
	return userID != "" && *report.OwnerID == userID
}

// Service はレポートのサービス層。
type Service struct {
	repo      repository.ReportRepository
	sanitizer security.TextSanitizer
	policy    EditPolicy
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ReportRepository,
	sanitizer security.TextSanitizer,
	policy EditPolicy,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		policy:    policy,
		metrics:   collector,
		logger:    logger,
	}
}

// List は全レポートをフィード順（created_at降順）で返す。
func (s *Service) List(ctx context.Context) ([]model.Report, error) {
	reports, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("レポート一覧の取得に失敗しました: %w", err)
	}
	return reports, nil
}

// Get は指定IDのレポートを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Report, error) {
	report, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("レポートの取得に失敗しました: %w", err)
	}
	if report == nil {
		return nil, model.NewReportNotFoundError(id)
	}
	return report, nil
}

// Create はレポートを作成する。
// 検証は説明文、位置、投稿者の順に行う。
func (s *Service) Create(ctx context.Context, ownerID, ownerName string, in CreateInput) (*model.Report, error) {
	desc, err := s.cleanDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if !ValidLocation(in.Location) {
		return nil, model.NewInvalidLocationError()
	}
	if ownerID == "" {
		return nil, model.NewUnauthorizedError()
	}

	newReport := model.NewReport{
		Description: desc,
		Location:    in.Location,
		ImageURL:    emptyToNil(in.ImageURL),
		OwnerID:     &ownerID,
	}
	if ownerName != "" {
		newReport.OwnerDisplayName = &ownerName
	}

	created, err := s.repo.Insert(ctx, newReport)
	if err != nil {
		return nil, fmt.Errorf("レポートの作成に失敗しました: %w", err)
	}
	s.metrics.RecordReportCreated()
	s.logger.Info("report created",
		slog.String("report_id", created.ID),
		slog.String("owner_id", ownerID),
	)
	return created, nil
}

// Update はレポートの説明文と画像URLを部分更新する。
// 位置・作成日時・所有者は変更できない。
func (s *Service) Update(ctx context.Context, userID, id string, patch model.ReportPatch) (*model.Report, error) {
	patch.ImageURL = emptyToNil(patch.ImageURL)
	if patch.IsEmpty() {
		return nil, model.NewInvalidRequestError("nothing to update")
	}
	if patch.Description != nil {
		desc, err := s.cleanDescription(*patch.Description)
		if err != nil {
			return nil, err
		}
		patch.Description = &desc
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("レポートの取得に失敗しました: %w", err)
	}
	if existing == nil {
		return nil, model.NewReportNotFoundError(id)
	}
	if !s.policy.CanEdit(existing, userID) {
		return nil, model.NewNotReportOwnerError()
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if errors.Is(err, repository.ErrReportNotFound) {
		return nil, model.NewReportNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("レポートの更新に失敗しました: %w", err)
	}
	s.metrics.RecordReportUpdated()
	s.logger.Info("report updated",
		slog.String("report_id", id),
		slog.String("user_id", userID),
	)
	return updated, nil
}

// Heatmap は表示範囲内のレポートをS2セル単位で集計する。
func (s *Service) Heatmap(ctx context.Context, vp model.ViewPort) ([]model.HeatPoint, error) {
	reports, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("レポート一覧の取得に失敗しました: %w", err)
	}
	aggr := NewHeatmapAggregator(vp)
	for _, r := range reports {
		aggr.Add(r.Location)
	}
	return aggr.Points(), nil
}

func (s *Service) cleanDescription(raw string) (string, error) {
	desc := s.sanitizer.Sanitize(raw)
	if desc == "" {
		return "", model.NewDescriptionRequiredError()
	}
	if security.RuneLen(desc) > MaxDescriptionLength {
		return "", model.NewDescriptionTooLongError(MaxDescriptionLength)
	}
	return desc, nil
}

// ValidLocation は緯度経度が有効範囲内かを判定する。
func ValidLocation(p model.GeoPoint) bool {
	return s2.LatLngFromDegrees(p.Latitude, p.Longitude).IsValid()
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
