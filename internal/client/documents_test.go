package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/lostfound/internal/livefeed"
	"github.com/hitoshi/lostfound/internal/mapstate"
	"github.com/hitoshi/lostfound/internal/model"
)

func TestDocumentStore_Insert(t *testing.T) {
	api, srv := newFakeAPI(t)
	var got reportRequest
	api.mux.HandleFunc("POST /api/reports", requireSession(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeTestJSON(w, http.StatusCreated, model.Report{ID: "r-new", Description: *got.Description})
	}))
	c := newTestClient(t, srv)
	c.SetSessionToken(testSessionToken)
	img := "https://storage.googleapis.com/b/lostItems/x_bag.png"
	owner := "ignored"

	id, err := NewDocumentStore(c, discardLogger()).Insert(context.Background(), "lostItems", model.NewReport{
		Description: "Blue backpack",
		Location:    model.GeoPoint{Latitude: 44.56, Longitude: -69.66},
		ImageURL:    &img,
		OwnerID:     &owner,
	})

	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if id != "r-new" {
		t.Errorf("id = %q, want r-new", id)
	}
	if *got.Description != "Blue backpack" || got.Location.Latitude != 44.56 || *got.ImageURL != img {
		t.Errorf("request = %+v", got)
	}
}

func TestDocumentStore_Insert_Unauthenticated(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.mux.HandleFunc("POST /api/reports", requireSession(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	_, err := NewDocumentStore(newTestClient(t, srv), discardLogger()).Insert(context.Background(), "lostItems", model.NewReport{Description: "x"})

	if !IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestDocumentStore_Update_SendsOnlyPatchedFields(t *testing.T) {
	api, srv := newFakeAPI(t)
	var raw map[string]any
	var gotID string
	api.mux.HandleFunc("PATCH /api/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.PathValue("id")
		json.NewDecoder(r.Body).Decode(&raw)
		writeTestJSON(w, http.StatusOK, model.Report{ID: gotID})
	})
	desc := "Found near library"

	err := NewDocumentStore(newTestClient(t, srv), discardLogger()).Update(context.Background(), "lostItems", "r1", model.ReportPatch{Description: &desc})

	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if gotID != "r1" {
		t.Errorf("id = %q", gotID)
	}
	if raw["description"] != desc {
		t.Errorf("description = %v", raw["description"])
	}
	if _, ok := raw["imageUrl"]; ok {
		t.Error("imageUrl should be omitted")
	}
	if _, ok := raw["location"]; ok {
		t.Error("location should be omitted")
	}
}

func TestDocumentStore_RejectsUnknownCollection(t *testing.T) {
	_, srv := newFakeAPI(t)
	d := NewDocumentStore(newTestClient(t, srv), discardLogger())

	if _, err := d.Insert(context.Background(), "other", model.NewReport{}); !errors.Is(err, ErrUnsupportedQuery) {
		t.Errorf("Insert: expected ErrUnsupportedQuery, got %v", err)
	}
	if err := d.Update(context.Background(), "other", "r1", model.ReportPatch{}); !errors.Is(err, ErrUnsupportedQuery) {
		t.Errorf("Update: expected ErrUnsupportedQuery, got %v", err)
	}
	_, err := d.Subscribe(context.Background(), "lostItems", "created_at asc", func([]model.Report) {}, func(error) {})
	if !errors.Is(err, ErrUnsupportedQuery) {
		t.Errorf("Subscribe: expected ErrUnsupportedQuery, got %v", err)
	}
}

func TestDocumentStore_ListAndGet(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.mux.HandleFunc("GET /api/reports", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, reportListResponse{Reports: []model.Report{{ID: "r2"}, {ID: "r1"}}})
	})
	api.mux.HandleFunc("GET /api/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "description": "d", "streetViewUrl": "https://maps"})
	})
	d := NewDocumentStore(newTestClient(t, srv), discardLogger())

	list, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "r2" {
		t.Errorf("List() = %+v", list)
	}

	got, err := d.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "r1" || got.Description != "d" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestDocumentStore_Heatmap(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.mux.HandleFunc("GET /api/reports/heatmap", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latMin") != "44.5" || q.Get("lonMin") != "-69.7" || q.Get("latMax") != "44.6" || q.Get("lonMax") != "-69.6" {
			t.Errorf("query = %v", q)
		}
		writeTestJSON(w, http.StatusOK, heatmapResponse{Points: []model.HeatPoint{{Latitude: 44.56, Longitude: -69.66, Count: 3, Intensity: 0.6}}})
	})

	points, err := NewDocumentStore(newTestClient(t, srv), discardLogger()).Heatmap(context.Background(), model.ViewPort{LatMin: 44.5, LonMin: -69.7, LatMax: 44.6, LonMax: -69.6})

	if err != nil {
		t.Fatalf("Heatmap() error = %v", err)
	}
	if len(points) != 1 || points[0].Count != 3 {
		t.Errorf("points = %+v", points)
	}
}

// feedFixture はlivefeed.Hubをバックエンドにしたフィードサーバー。
type feedFixture struct {
	mu      sync.Mutex
	reports []model.Report
	changes chan struct{}
}

func (f *feedFixture) List(ctx context.Context) ([]model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Report(nil), f.reports...), nil
}

func (f *feedFixture) Watch(ctx context.Context) (<-chan struct{}, error) {
	return f.changes, nil
}

func (f *feedFixture) set(reports ...model.Report) {
	f.mu.Lock()
	f.reports = reports
	f.mu.Unlock()
	f.changes <- struct{}{}
}

func newFeedServer(t *testing.T, initial ...model.Report) (*feedFixture, *httptest.Server) {
	t.Helper()
	fx := &feedFixture{reports: initial, changes: make(chan struct{}, 1)}
	hub := livefeed.NewHub(fx, fx, 0, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /api/reports/feed", livefeed.NewWebSocketHandler(hub, "", discardLogger()))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return fx, srv
}

func waitSnapshot(t *testing.T, ch <-chan []model.Report) []model.Report {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestDocumentStore_Subscribe_ReceivesSnapshots(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	fx, srv := newFeedServer(t, model.Report{ID: "r1", CreatedAt: now})
	d := NewDocumentStore(newTestClient(t, srv), discardLogger())
	snapshots := make(chan []model.Report, 8)

	unsubscribe, err := d.Subscribe(context.Background(), mapstate.ReportCollection, mapstate.OrderByCreatedAtDesc,
		func(r []model.Report) { snapshots <- r },
		func(err error) { t.Errorf("unexpected feed error: %v", err) })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	first := waitSnapshot(t, snapshots)
	if len(first) != 1 || first[0].ID != "r1" {
		t.Errorf("first snapshot = %+v", first)
	}

	fx.set(model.Report{ID: "r2", CreatedAt: now.Add(time.Minute)}, model.Report{ID: "r1", CreatedAt: now})
	second := waitSnapshot(t, snapshots)
	if len(second) != 2 || second[0].ID != "r2" {
		t.Errorf("second snapshot = %+v", second)
	}

	unsubscribe()
	unsubscribe()
}

func TestDocumentStore_Subscribe_NoCallbackAfterUnsubscribe(t *testing.T) {
	fx, srv := newFeedServer(t, model.Report{ID: "r1"})
	d := NewDocumentStore(newTestClient(t, srv), discardLogger())
	var after atomic.Bool
	var unsubscribed atomic.Bool
	first := make(chan struct{}, 1)

	unsubscribe, err := d.Subscribe(context.Background(), mapstate.ReportCollection, mapstate.OrderByCreatedAtDesc,
		func([]model.Report) {
			if unsubscribed.Load() {
				after.Store(true)
			}
			select {
			case first <- struct{}{}:
			default:
			}
		},
		func(error) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	<-first

	unsubscribe()
	unsubscribed.Store(true)
	fx.set(model.Report{ID: "r2"})
	time.Sleep(100 * time.Millisecond)

	if after.Load() {
		t.Error("snapshot delivered after unsubscribe returned")
	}
}

func TestDocumentStore_Subscribe_Reconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		conn.WriteJSON(feedMessage{Type: "snapshot", Seq: uint64(n), Reports: []model.Report{{ID: "conn"}}})
		if n == 1 {
			// 1本目の接続はすぐに切断する
			return
		}
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	d := NewDocumentStore(newTestClient(t, srv), discardLogger())
	snapshots := make(chan []model.Report, 8)
	errs := make(chan error, 8)

	unsubscribe, err := d.Subscribe(context.Background(), mapstate.ReportCollection, mapstate.OrderByCreatedAtDesc,
		func(r []model.Report) { snapshots <- r },
		func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	waitSnapshot(t, snapshots)
	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a feed error after disconnect")
	}
	waitSnapshot(t, snapshots)
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want at least 2", conns.Load())
	}
}

func TestDocumentStore_Subscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	d := NewDocumentStore(newTestClient(t, srv), discardLogger())

	_, err := d.Subscribe(context.Background(), mapstate.ReportCollection, mapstate.OrderByCreatedAtDesc, func([]model.Report) {}, func(error) {})

	if err == nil {
		t.Fatal("expected error for failed handshake")
	}
}

// FeedSubscriberとの組み合わせで、サーバーの変更がRecordStoreまで届くことを確認する。
func TestDocumentStore_DrivesFeedSubscriber(t *testing.T) {
	now := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	fx, srv := newFeedServer(t, model.Report{ID: "a", CreatedAt: now})
	store := mapstate.NewRecordStore()
	feed := mapstate.NewFeedSubscriber(NewDocumentStore(newTestClient(t, srv), discardLogger()), store, discardLogger())
	applied := make(chan int, 8)
	feed.OnSnapshot = func(n int) { applied <- n }

	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer feed.Stop()

	waitCount := func() {
		select {
		case <-applied:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
	waitCount()
	fx.set(model.Report{ID: "a", CreatedAt: now}, model.Report{ID: "b", CreatedAt: now})
	waitCount()

	all := store.All()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("store = %+v", all)
	}
}
