// Package geocode は地名検索（Nominatim API）のクライアントを提供する。
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/model"
)

const (
	// DefaultEndpoint はOpenStreetMap Nominatimの検索エンドポイント。
	DefaultEndpoint = "https://nominatim.openstreetmap.org/search"
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
	// defaultLimit は1回の検索で取得する候補数。
	defaultLimit = 5
	userAgent    = "lostfound/1.0 (campus lost and found map)"
)

// ErrEmptyQuery は検索語が空の場合に返される。
var ErrEmptyQuery = errors.New("empty geocode query")

// Place は地名検索の1件の結果を表す。
type Place struct {
	Name     string         `json:"name"`
	Location model.GeoPoint `json:"location"`
}

// nominatimPlace はNominatimのJSONレスポンスの1要素。緯度経度は文字列で返る。
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Client はNominatim APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
// endpointが空の場合はDefaultEndpointを使う。
func NewClient(httpClient *http.Client, endpoint string, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   endpoint,
	}
}

// Search は地名を検索し、関連度順の候補を返す。該当なしの場合は空スライスを返す。
func (c *Client) Search(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	places, err := c.search(ctx, query)
	switch {
	case err != nil:
		c.metrics.RecordGeocodeLookup(metrics.OutcomeFailed, time.Since(start))
	case len(places) == 0:
		c.metrics.RecordGeocodeLookup(metrics.OutcomeNotFound, time.Since(start))
	default:
		c.metrics.RecordGeocodeLookup(metrics.OutcomeOK, time.Since(start))
	}
	return places, err
}

func (c *Client) search(ctx context.Context, query string) ([]Place, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("format", "json")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(defaultLimit))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("geocode request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("geocode API returned error status",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("geocode API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var raw []nominatimPlace
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.Error("failed to parse geocode response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	places := make([]Place, 0, len(raw))
	for _, p := range raw {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		if errLat != nil || errLon != nil {
			c.logger.Warn("skipping geocode hit with malformed coordinates",
				slog.String("lat", p.Lat),
				slog.String("lon", p.Lon),
			)
			continue
		}
		places = append(places, Place{
			Name:     p.DisplayName,
			Location: model.GeoPoint{Latitude: lat, Longitude: lon},
		})
	}
	return places, nil
}
