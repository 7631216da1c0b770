package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/lostfound/internal/model"
)

const reportColumns = `id, description, latitude, longitude, image_url,
		        owner_id, owner_display_name, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresReportRepo はPostgreSQLを使用したレポートリポジトリ。
type PostgresReportRepo struct {
	db *sql.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sql.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

// Insert はレポートを作成する。created_atはDBのnow()で採番される。
func (r *PostgresReportRepo) Insert(ctx context.Context, in model.NewReport) (*model.Report, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO reports (description, latitude, longitude, image_url, owner_id, owner_display_name)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+reportColumns,
		in.Description, in.Location.Latitude, in.Location.Longitude,
		nullableString(in.ImageURL), nullableString(in.OwnerID), nullableString(in.OwnerDisplayName),
	)
	report, err := scanReport(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}
	return report, nil
}

// Update はdescription/image_urlを部分更新する。
// location、created_at、owner系のカラムは更新対象に含めない。
func (r *PostgresReportRepo) Update(ctx context.Context, id string, patch model.ReportPatch) (*model.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrReportNotFound
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE reports
		 SET description = COALESCE($2, description),
		     image_url = COALESCE($3, image_url),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+reportColumns,
		id, nullableString(patch.Description), nullableString(patch.ImageURL),
	)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update report: %w", err)
	}
	return report, nil
}

// FindByID は指定IDのレポートを取得する。見つからない場合はnilを返す。
// UUID形式でないIDは存在しないものとして扱う。
func (r *PostgresReportRepo) FindByID(ctx context.Context, id string) (*model.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`,
		id,
	)
	report, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find report: %w", err)
	}
	return report, nil
}

// AnonymizeOwner は指定ユーザーが作成したレポートのowner_idと表示名をNULLにする。
// 更新した件数を返す。
func (r *PostgresReportRepo) AnonymizeOwner(ctx context.Context, ownerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reports
		 SET owner_id = NULL, owner_display_name = NULL, updated_at = now()
		 WHERE owner_id = $1`,
		ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize reports: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListOrdered は全レポートをcreated_at降順、同時刻はid昇順で返す。
func (r *PostgresReportRepo) ListOrdered(ctx context.Context) ([]model.Report, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports ORDER BY created_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]model.Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

func scanReport(row rowScanner) (*model.Report, error) {
	report := &model.Report{}
	var imageURL, ownerID, ownerName sql.NullString
	err := row.Scan(
		&report.ID, &report.Description, &report.Location.Latitude, &report.Location.Longitude,
		&imageURL, &ownerID, &ownerName, &report.CreatedAt, &report.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	report.ImageURL = stringPtr(imageURL)
	report.OwnerID = stringPtr(ownerID)
	report.OwnerDisplayName = stringPtr(ownerName)
	return report, nil
}

// nullableString はnilをNULLとして扱う。
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// compile-time interface check
var _ ReportRepository = (*PostgresReportRepo)(nil)
