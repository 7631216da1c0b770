package mapstate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/lostfound/internal/model"
)

// GeocodeResolver は地名を座標に解決し、検索結果のマーカーを保持する。
type GeocodeResolver struct {
	service GeocodeService
	logger  *slog.Logger

	mu     sync.RWMutex
	marker *Place
}

// NewGeocodeResolver はGeocodeResolverを生成する。
func NewGeocodeResolver(service GeocodeService, logger *slog.Logger) *GeocodeResolver {
	return &GeocodeResolver{service: service, logger: logger}
}

// Resolve はqueryを検索し、最も関連度の高い結果の座標を返す。
// 該当なしはNotFoundError、通信失敗はTransportErrorを返し、どちらの場合もマーカーは変更しない。
func (r *GeocodeResolver) Resolve(ctx context.Context, query string) (model.GeoPoint, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return model.GeoPoint{}, &ValidationError{Field: "query", Reason: "search query is empty"}
	}

	places, err := r.service.Search(ctx, q)
	if err != nil {
		r.logger.Warn("geocode search failed",
			slog.String("query", q),
			slog.String("error", err.Error()),
		)
		return model.GeoPoint{}, &TransportError{Op: "geocode", Err: err}
	}
	if len(places) == 0 {
		return model.GeoPoint{}, &NotFoundError{Query: q}
	}

	best := places[0]
	r.mu.Lock()
	r.marker = &best
	r.mu.Unlock()
	return best.Location, nil
}

// Marker は直近の検索結果を返す。検索に成功していなければnil。
func (r *GeocodeResolver) Marker() *Place {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.marker == nil {
		return nil
	}
	cp := *r.marker
	return &cp
}

// ClearMarker は検索結果のマーカーを消す。
func (r *GeocodeResolver) ClearMarker() {
	r.mu.Lock()
	r.marker = nil
	r.mu.Unlock()
}
