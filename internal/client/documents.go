package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/lostfound/internal/mapstate"
	"github.com/hitoshi/lostfound/internal/model"
)

const (
	feedPath = "/api/reports/feed"

	feedReadTimeout   = 90 * time.Second
	reconnectMin      = time.Second
	reconnectMax      = 30 * time.Second
	maxFeedMessageLen = 16 << 20
)

// ErrUnsupportedQuery はサーバーが提供しないコレクションや並び順を購読しようとした場合に返される。
var ErrUnsupportedQuery = errors.New("unsupported collection or ordering")

// feedMessage はライブフィードのWebSocketメッセージ。
type feedMessage struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq"`
	Reports []model.Report `json:"reports"`
}

type reportRequest struct {
	Description *string         `json:"description,omitempty"`
	Location    *model.GeoPoint `json:"location,omitempty"`
	ImageURL    *string         `json:"imageUrl,omitempty"`
}

type reportListResponse struct {
	Reports []model.Report `json:"reports"`
}

type heatmapResponse struct {
	Points []model.HeatPoint `json:"points"`
}

// DocumentStore はレポートAPIとライブフィードをmapstate.DocumentStoreとして提供する。
type DocumentStore struct {
	client *Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDocumentStore はDocumentStoreを生成する。
func NewDocumentStore(c *Client, logger *slog.Logger) *DocumentStore {
	return &DocumentStore{
		client: c,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              c.jar,
		},
		logger: logger,
	}
}

func (d *DocumentStore) feedURL() string {
	u := *d.client.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + feedPath
	return u.String()
}

// Subscribe はライブフィードに接続し、スナップショットを受信するたびにonSnapshotを呼ぶ。
// 切断時はonErrorに通知した後、指数バックオフで再接続する。
// 戻り値のunsubscribeは受信ループの終了を待つため、コールバック内から呼んではならない。
func (d *DocumentStore) Subscribe(ctx context.Context, collection, orderBy string, onSnapshot func([]model.Report), onError func(error)) (func(), error) {
	if collection != mapstate.ReportCollection || orderBy != mapstate.OrderByCreatedAtDesc {
		return nil, fmt.Errorf("%w: %s ordered by %s", ErrUnsupportedQuery, collection, orderBy)
	}

	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.run(runCtx, conn, onSnapshot, onError)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (d *DocumentStore) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.feedURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("feed handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to feed: %w", err)
	}
	conn.SetReadLimit(maxFeedMessageLen)
	return conn, nil
}

func (d *DocumentStore) run(ctx context.Context, conn *websocket.Conn, onSnapshot func([]model.Report), onError func(error)) {
	backoff := reconnectMin
	for {
		err := d.receive(ctx, conn, onSnapshot, &backoff)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		onError(err)

		for {
			d.logger.Info("feed reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, reconnectMax)

			conn, err = d.dial(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			onError(err)
		}
	}
}

// receive は接続が切れるかctxがキャンセルされるまでメッセージを読み続ける。
func (d *DocumentStore) receive(ctx context.Context, conn *websocket.Conn, onSnapshot func([]model.Report), backoff *time.Duration) error {
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("feed connection lost: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		if msg.Type != "snapshot" {
			continue
		}
		*backoff = reconnectMin
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onSnapshot(msg.Reports)
	}
}

// Insert はPOST /api/reportsでレポートを作成し、採番されたIDを返す。
// 所有者はサーバーがセッションから設定するため、reportのOwnerIDとOwnerDisplayNameは送らない。
func (d *DocumentStore) Insert(ctx context.Context, collection string, report model.NewReport) (string, error) {
	if collection != mapstate.ReportCollection {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedQuery, collection)
	}
	loc := report.Location
	var created model.Report
	if err := d.client.doJSON(ctx, http.MethodPost, "/api/reports", nil, reportRequest{
		Description: &report.Description,
		Location:    &loc,
		ImageURL:    report.ImageURL,
	}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Update はPATCH /api/reports/{id}でレポートを部分更新する。
func (d *DocumentStore) Update(ctx context.Context, collection, id string, patch model.ReportPatch) error {
	if collection != mapstate.ReportCollection {
		return fmt.Errorf("%w: %s", ErrUnsupportedQuery, collection)
	}
	return d.client.doJSON(ctx, http.MethodPatch, "/api/reports/"+url.PathEscape(id), nil, reportRequest{
		Description: patch.Description,
		ImageURL:    patch.ImageURL,
	}, nil)
}

// List はGET /api/reportsで現在の全レポートを取得する。
func (d *DocumentStore) List(ctx context.Context) ([]model.Report, error) {
	var resp reportListResponse
	if err := d.client.doJSON(ctx, http.MethodGet, "/api/reports", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// Get はGET /api/reports/{id}でレポートを1件取得する。
func (d *DocumentStore) Get(ctx context.Context, id string) (*model.Report, error) {
	var r model.Report
	if err := d.client.doJSON(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Heatmap はGET /api/reports/heatmapで表示範囲内の集計を取得する。
func (d *DocumentStore) Heatmap(ctx context.Context, vp model.ViewPort) ([]model.HeatPoint, error) {
	q := url.Values{}
	q.Set("latMin", formatCoord(vp.LatMin))
	q.Set("lonMin", formatCoord(vp.LonMin))
	q.Set("latMax", formatCoord(vp.LatMax))
	q.Set("lonMax", formatCoord(vp.LonMax))
	var resp heatmapResponse
	if err := d.client.doJSON(ctx, http.MethodGet, "/api/reports/heatmap", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}
