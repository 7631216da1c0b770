package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// ReportsChangedChannel はreportsテーブルのトリガーが通知するチャネル名。
const ReportsChangedChannel = "reports_changed"

const (
	listenerMinReconnect = 1 * time.Second
	listenerMaxReconnect = 30 * time.Second
)

// PostgresReportWatcher はLISTEN/NOTIFYでreportsの変更を監視する。
type PostgresReportWatcher struct {
	databaseURL string
	logger      *slog.Logger
}

// NewPostgresReportWatcher はPostgresReportWatcherを生成する。
func NewPostgresReportWatcher(databaseURL string, logger *slog.Logger) *PostgresReportWatcher {
	return &PostgresReportWatcher{databaseURL: databaseURL, logger: logger}
}

// Watch はreports_changedをLISTENし、通知のたびにチャネルへ値を送る。
// 再接続直後（Notifyにnilが届いた場合）も取りこぼしを埋めるため通知として扱う。
func (w *PostgresReportWatcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	listener := pq.NewListener(w.databaseURL, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				w.logger.Warn("report listener event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		},
	)
	if err := listener.Listen(ReportsChangedChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen %s: %w", ReportsChangedChannel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Notify:
				signal(out)
			case <-time.After(90 * time.Second):
				if err := listener.Ping(); err != nil {
					w.logger.Warn("report listener ping failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return out, nil
}

// signal は受信側が処理中なら通知をまとめる。
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// compile-time interface check
var _ ReportWatcher = (*PostgresReportWatcher)(nil)
