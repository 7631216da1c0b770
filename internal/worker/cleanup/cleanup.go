// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// cron式（デフォルトは毎時）で定期実行する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule はクリーンアップジョブのデフォルト実行間隔。
const DefaultSchedule = "@hourly"

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は有効期限を過ぎたセッションの削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	// Grace は有効期限を過ぎてから削除するまでの猶予期間。
	Grace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
	}
}

// Run は有効期限を過ぎたセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	interval := fmt.Sprintf("%d seconds", int64(j.Grace/time.Second))
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Schedule はspecのcron式でジョブを登録し、ctxがキャンセルされるまでブロックする。
// 起動直後にも1回実行する。
func (j *CleanupJob) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}

	j.runLogged(ctx)

	c.Start()
	j.logger.Info("cleanup scheduler started", slog.String("schedule", spec))

	<-ctx.Done()
	// 実行中のジョブの完了を待つ
	<-c.Stop().Done()
	j.logger.Info("cleanup scheduler stopped")
	return nil
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// エラーはRun内でログ済み
	_ = j.Run(ctx)
}
