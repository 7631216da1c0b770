package mapstate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func newReport(id string, createdAt time.Time, ownerID *string) model.Report {
	return model.Report{
		ID:          id,
		Description: "item " + id,
		Location:    model.GeoPoint{Latitude: 44.56, Longitude: -69.66},
		CreatedAt:   createdAt,
		OwnerID:     ownerID,
	}
}

// fakeIdentityProvider はOnIdentityChangedの登録時に現在の状態を通知する。
type fakeIdentityProvider struct {
	mu           sync.Mutex
	current      *Identity
	callbacks    map[int]func(*Identity)
	nextID       int
	unsubscribed int
	signInFn     func(ctx context.Context, creds Credentials) error
}

func newFakeIdentityProvider(current *Identity) *fakeIdentityProvider {
	return &fakeIdentityProvider{current: current, callbacks: map[int]func(*Identity){}}
}

func (f *fakeIdentityProvider) OnIdentityChanged(callback func(*Identity)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.callbacks[id] = callback
	current := f.current
	f.mu.Unlock()

	callback(current)
	return func() {
		f.mu.Lock()
		delete(f.callbacks, id)
		f.unsubscribed++
		f.mu.Unlock()
	}
}

func (f *fakeIdentityProvider) push(id *Identity) {
	f.mu.Lock()
	f.current = id
	callbacks := make([]func(*Identity), 0, len(f.callbacks))
	for _, cb := range f.callbacks {
		callbacks = append(callbacks, cb)
	}
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb(id)
	}
}

func (f *fakeIdentityProvider) SignIn(ctx context.Context, creds Credentials) error {
	if f.signInFn != nil {
		return f.signInFn(ctx, creds)
	}
	return nil
}

func (f *fakeIdentityProvider) SignOut(ctx context.Context) error {
	f.push(nil)
	return nil
}

type insertCall struct {
	collection string
	report     model.NewReport
}

type updateCall struct {
	collection string
	id         string
	patch      model.ReportPatch
}

// fakeDocumentStore は書き込み呼び出しを記録し、pushでスナップショットを配信する。
type fakeDocumentStore struct {
	mu           sync.Mutex
	onSnapshot   func([]model.Report)
	onError      func(error)
	subscribeErr error
	initial      []model.Report
	subscribed   []string
	unsubscribed int
	inserts      []insertCall
	updates      []updateCall
	insertFn     func(report model.NewReport) (string, error)
	updateFn     func(id string, patch model.ReportPatch) error
}

func (f *fakeDocumentStore) Subscribe(ctx context.Context, collection, orderBy string, onSnapshot func([]model.Report), onError func(error)) (func(), error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.mu.Lock()
	f.subscribed = append(f.subscribed, collection+" "+orderBy)
	f.onSnapshot = onSnapshot
	f.onError = onError
	initial := f.initial
	f.mu.Unlock()

	if initial != nil {
		onSnapshot(initial)
	}
	return func() {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
	}, nil
}

// push は購読解除後も保持しているコールバックを呼び続ける。
func (f *fakeDocumentStore) push(reports []model.Report) {
	f.mu.Lock()
	cb := f.onSnapshot
	f.mu.Unlock()
	if cb != nil {
		cb(reports)
	}
}

func (f *fakeDocumentStore) pushError(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeDocumentStore) Insert(ctx context.Context, collection string, report model.NewReport) (string, error) {
	f.mu.Lock()
	f.inserts = append(f.inserts, insertCall{collection: collection, report: report})
	f.mu.Unlock()
	if f.insertFn != nil {
		return f.insertFn(report)
	}
	return "new-id", nil
}

func (f *fakeDocumentStore) Update(ctx context.Context, collection, id string, patch model.ReportPatch) error {
	f.mu.Lock()
	f.updates = append(f.updates, updateCall{collection: collection, id: id, patch: patch})
	f.mu.Unlock()
	if f.updateFn != nil {
		return f.updateFn(id, patch)
	}
	return nil
}

func (f *fakeDocumentStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserts) + len(f.updates)
}

type uploadCall struct {
	key         string
	contentType string
	size        int
}

type fakeBlobStore struct {
	mu        sync.Mutex
	uploads   []uploadCall
	urlCalls  int
	uploadErr error
	urlErr    error
}

func (f *fakeBlobStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, uploadCall{key: key, contentType: contentType, size: len(data)})
	f.mu.Unlock()
	return f.uploadErr
}

func (f *fakeBlobStore) RetrievalURL(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	f.urlCalls++
	f.mu.Unlock()
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://storage.example.com/bucket/" + key, nil
}

func (f *fakeBlobStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads) + f.urlCalls
}

type fakeGeocodeService struct {
	searchFn func(ctx context.Context, text string) ([]Place, error)
	calls    int
}

func (f *fakeGeocodeService) Search(ctx context.Context, text string) ([]Place, error) {
	f.calls++
	return f.searchFn(ctx, text)
}
