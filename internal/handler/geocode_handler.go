package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/lostfound/internal/geocode"
	"github.com/hitoshi/lostfound/internal/model"
)

// GeocodeSearcher は地名検索を行うインターフェース。
type GeocodeSearcher interface {
	Search(ctx context.Context, query string) ([]geocode.Place, error)
}

// GeocodeHandler は地名検索のHTTPハンドラー。
type GeocodeHandler struct {
	searcher GeocodeSearcher
}

// NewGeocodeHandler はGeocodeHandlerを生成する。
func NewGeocodeHandler(searcher GeocodeSearcher) *GeocodeHandler {
	return &GeocodeHandler{searcher: searcher}
}

// geocodeResponse は地名検索のAPIレスポンス。該当なしの場合placesは空配列。
type geocodeResponse struct {
	Places []geocode.Place `json:"places"`
}

// Search は地名を緯度経度の候補に変換する。
// GET /api/geocode?q=xxx
func (h *GeocodeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("q is required"))
		return
	}

	places, err := h.searcher.Search(r.Context(), query)
	if err != nil {
		slog.Warn("geocode search failed",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewGeocodeFailedError())
		return
	}
	if places == nil {
		places = []geocode.Place{}
	}
	writeJSON(w, http.StatusOK, geocodeResponse{Places: places})
}
