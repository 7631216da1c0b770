// Package livefeed はレポートコレクションの変更をスナップショットとして購読者に配信する。
package livefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/repository"
)

// MessageTypeSnapshot はスナップショット配信メッセージの種別。
const MessageTypeSnapshot = "snapshot"

// ErrWatcherClosed は変更通知のチャネルがctxの終了前に閉じられた場合にRunが返す。
var ErrWatcherClosed = errors.New("report watcher closed")

// DefaultSendBuffer は購読者ごとの送信バッファのデフォルト値。
const DefaultSendBuffer = 8

// Message はWebSocketで配信する1件のメッセージ。
// Reportsは常にコレクション全体を作成日時降順で含む。
type Message struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq"`
	Reports []model.Report `json:"reports"`
}

// SnapshotLister は全レポートを表示順で返す。
type SnapshotLister interface {
	List(ctx context.Context) ([]model.Report, error)
}

// Subscriber はHubへの1件の購読を表す。
type Subscriber struct {
	ch     chan Message
	hub    *Hub
	closed bool // hub.muで保護
}

// C はスナップショットを受け取るチャネルを返す。
// 購読解除またはバッファ溢れによる切断でクローズされる。
func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Close は購読を解除する。複数回呼んでもよい。
func (s *Subscriber) Close() {
	s.hub.remove(s)
}

// Hub は変更通知を受けてスナップショットを読み込み、全購読者へ配信する。
type Hub struct {
	lister    SnapshotLister
	watcher   repository.ReportWatcher
	buffer    int
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	latest  *Message
	seq     uint64
	stopped bool // Runが終了した後はtrue。以後の購読者は即座にクローズする
}

// NewHub はHubを生成する。bufferが0以下の場合はDefaultSendBufferを使う。
func NewHub(lister SnapshotLister, watcher repository.ReportWatcher, buffer int, collector metrics.MetricsCollector, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Hub{
		lister:    lister,
		watcher:   watcher,
		buffer:    buffer,
		collector: collector,
		logger:    logger,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Run は変更通知の購読を開始し、ctxが終了するまでスナップショットを配信する。
// 起動直後に1回スナップショットを読み込む。終了時には全購読者を切断し、
// 以後のSubscribeは閉じたチャネルを返す。
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	changes, err := h.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch reports: %w", err)
	}

	h.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrWatcherClosed
			}
			h.refresh(ctx)
		}
	}
}

// Subscribe は新しい購読者を登録する。配信済みのスナップショットがあれば即座に送る。
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ch:  make(chan Message, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	if h.stopped {
		s.closed = true
		close(s.ch)
		h.mu.Unlock()
		return s
	}
	h.subs[s] = struct{}{}
	if h.latest != nil {
		s.ch <- *h.latest
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.collector.SetFeedSubscribers(n)
	return s
}

// Latest は最後に配信したスナップショットを返す。まだ配信していない場合はfalseを返す。
func (h *Hub) Latest() (Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return Message{}, false
	}
	return *h.latest, true
}

// SubscriberCount は現在の購読者数を返す。
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// refresh はスナップショットを読み込んで配信する。読み込みに失敗した場合は直前のスナップショットを維持する。
func (h *Hub) refresh(ctx context.Context) {
	reports, err := h.lister.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("failed to load report snapshot",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	h.broadcast(reports)
}

// broadcast は全購読者へスナップショットを送る。送信バッファが埋まっている購読者は切断する。
func (h *Hub) broadcast(reports []model.Report) {
	h.mu.Lock()
	h.seq++
	msg := Message{
		Type:    MessageTypeSnapshot,
		Seq:     h.seq,
		Reports: reports,
	}
	h.latest = &msg

	dropped := 0
	for s := range h.subs {
		select {
		case s.ch <- msg:
		default:
			h.detachLocked(s)
			dropped++
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	if dropped > 0 {
		h.logger.Warn("dropped slow feed subscribers",
			slog.Int("dropped", dropped),
		)
		h.collector.SetFeedSubscribers(n)
	}
	h.collector.RecordSnapshotBroadcast(len(reports))
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	h.detachLocked(s)
	n := len(h.subs)
	h.mu.Unlock()
	h.collector.SetFeedSubscribers(n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.stopped = true
	for s := range h.subs {
		h.detachLocked(s)
	}
	h.mu.Unlock()
	h.collector.SetFeedSubscribers(0)
}

// detachLocked は購読者を登録解除してチャネルを閉じる。h.muを保持して呼ぶこと。
func (h *Hub) detachLocked(s *Subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	delete(h.subs, s)
	close(s.ch)
}
