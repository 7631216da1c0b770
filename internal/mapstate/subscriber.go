package mapstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

var (
	// ErrAlreadyStarted はStartを2回呼んだ場合に返される。
	ErrAlreadyStarted = errors.New("feed subscriber already started")
	// ErrSubscriberStopped は停止済みのFeedSubscriberを再開しようとした場合に返される。
	ErrSubscriberStopped = errors.New("feed subscriber stopped")
)

// FeedSubscriber はDocumentStoreのライブクエリを購読し、届いたスナップショットをRecordStoreへ反映する。
type FeedSubscriber struct {
	docs   DocumentStore
	store  *RecordStore
	logger *slog.Logger

	// OnError はトランスポートのエラーを受け取る。nilなら記録のみ。
	OnError func(error)
	// OnSnapshot はRecordStoreへの反映後に呼ばれる。
	OnSnapshot func(count int)

	// mu はstateとスナップショットの反映を直列化する。
	// Stopがmuを取得した後は、どのコールバックもRecordStoreに到達しない。
	mu          sync.Mutex
	started     bool
	stopped     bool
	unsubscribe func()
	applied     uint64
}

// NewFeedSubscriber はFeedSubscriberを生成する。
func NewFeedSubscriber(docs DocumentStore, store *RecordStore, logger *slog.Logger) *FeedSubscriber {
	return &FeedSubscriber{
		docs:   docs,
		store:  store,
		logger: logger,
	}
}

// Start はレポートコレクションを作成日時の降順で購読する。
func (f *FeedSubscriber) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrSubscriberStopped
	}
	if f.started {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	unsubscribe, err := f.docs.Subscribe(ctx, ReportCollection, OrderByCreatedAtDesc, f.apply, f.fail)
	if err != nil {
		f.mu.Lock()
		f.started = false
		f.mu.Unlock()
		return &TransportError{Op: "subscribe", Err: fmt.Errorf("subscribe %s: %w", ReportCollection, err)}
	}

	f.mu.Lock()
	if f.stopped {
		// Start中にStopされた
		f.mu.Unlock()
		unsubscribe()
		return ErrSubscriberStopped
	}
	f.unsubscribe = unsubscribe
	f.mu.Unlock()

	f.logger.Info("feed subscribed",
		slog.String("collection", ReportCollection),
	)
	return nil
}

func (f *FeedSubscriber) apply(reports []model.Report) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		f.logger.Debug("snapshot dropped after stop",
			slog.Int("count", len(reports)),
		)
		return
	}
	f.store.ReplaceAll(reports)
	f.applied++
	onSnapshot := f.OnSnapshot
	f.mu.Unlock()

	if onSnapshot != nil {
		onSnapshot(len(reports))
	}
}

func (f *FeedSubscriber) fail(err error) {
	f.mu.Lock()
	stopped := f.stopped
	onError := f.OnError
	f.mu.Unlock()
	if stopped {
		return
	}

	f.logger.Warn("feed transport error",
		slog.String("error", err.Error()),
	)
	if onError != nil {
		onError(&TransportError{Op: "feed", Err: err})
	}
}

// Stop は購読を解除する。Stopから戻った後はRecordStoreが変更されることはない。
// 複数回呼んでもよい。
func (f *FeedSubscriber) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	f.logger.Info("feed unsubscribed",
		slog.String("collection", ReportCollection),
	)
}

// Applied はRecordStoreへ反映したスナップショットの数を返す。
func (f *FeedSubscriber) Applied() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied
}
