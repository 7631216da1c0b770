package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/report"
)

// ReportServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	List(ctx context.Context) ([]model.Report, error)
	Get(ctx context.Context, id string) (*model.Report, error)
	Create(ctx context.Context, ownerID, ownerName string, in report.CreateInput) (*model.Report, error)
	Update(ctx context.Context, userID, id string, patch model.ReportPatch) (*model.Report, error)
	Heatmap(ctx context.Context, vp model.ViewPort) ([]model.HeatPoint, error)
}

// UserFinder は投稿者の表示名を解決するためのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ReportHandler は落とし物レポートのHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface
	users   UserFinder
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface, users UserFinder) *ReportHandler {
	return &ReportHandler{
		service: service,
		users:   users,
	}
}

// createReportRequest はレポート作成リクエストのボディ。
type createReportRequest struct {
	Description string          `json:"description"`
	Location    *model.GeoPoint `json:"location"`
	ImageURL    *string         `json:"imageUrl"`
}

// updateReportRequest はレポート更新リクエストのボディ。省略したフィールドは変更しない。
type updateReportRequest struct {
	Description *string `json:"description"`
	ImageURL    *string `json:"imageUrl"`
}

// reportResponse はレポートのAPIレスポンス。
type reportResponse struct {
	model.Report
	StreetViewURL string `json:"streetViewUrl"`
}

// reportListResponse はレポート一覧のAPIレスポンス。
type reportListResponse struct {
	Reports []reportResponse `json:"reports"`
}

// heatmapResponse はヒートマップのAPIレスポンス。
type heatmapResponse struct {
	Points []model.HeatPoint `json:"points"`
}

// ListReports は全レポートを作成日時の降順で返す。
// GET /api/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := reportListResponse{Reports: make([]reportResponse, len(reports))}
	for i := range reports {
		resp.Reports[i] = toReportResponse(&reports[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetReport はレポート詳細を返す。
// GET /api/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(rep))
}

// CreateReport はレポートを作成する。投稿者の表示名は作成時点の値を保存する。
// POST /api/reports
func (h *ReportHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createReportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Location == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidLocationError())
		return
	}
	input := report.CreateInput{
		Description: req.Description,
		Location:    *req.Location,
		ImageURL:    req.ImageURL,
	}

	ownerName := ""
	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user != nil {
		ownerName = user.DisplayName()
	}

	created, err := h.service.Create(r.Context(), userID, ownerName, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportResponse(created))
}

// UpdateReport はレポートの説明文と画像URLを更新する。
// PATCH /api/reports/{id}
func (h *ReportHandler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req updateReportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	updated, err := h.service.Update(r.Context(), userID, id, model.ReportPatch{
		Description: req.Description,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		slog.Warn("report update rejected",
			slog.String("report_id", id),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportResponse(updated))
}

// Heatmap は表示範囲内のレポート密度を返す。
// GET /api/reports/heatmap?latMin=..&lonMin=..&latMax=..&lonMax=..
func (h *ReportHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	vp, ok := parseViewPort(r)
	if !ok {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("latMin, lonMin, latMax and lonMax must be valid coordinates"))
		return
	}

	points, err := h.service.Heatmap(r.Context(), vp)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if points == nil {
		points = []model.HeatPoint{}
	}
	writeJSON(w, http.StatusOK, heatmapResponse{Points: points})
}

// parseViewPort はクエリパラメータから表示範囲を読み取る。
func parseViewPort(r *http.Request) (model.ViewPort, bool) {
	q := r.URL.Query()
	var vals [4]float64
	for i, key := range []string{"latMin", "lonMin", "latMax", "lonMax"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			return model.ViewPort{}, false
		}
		vals[i] = v
	}
	vp := model.ViewPort{LatMin: vals[0], LonMin: vals[1], LatMax: vals[2], LonMax: vals[3]}
	if vp.LatMin >= vp.LatMax || vp.LonMin >= vp.LonMax {
		return model.ViewPort{}, false
	}
	if !report.ValidLocation(model.GeoPoint{Latitude: vp.LatMin, Longitude: vp.LonMin}) ||
		!report.ValidLocation(model.GeoPoint{Latitude: vp.LatMax, Longitude: vp.LonMax}) {
		return model.ViewPort{}, false
	}
	return vp, true
}

func toReportResponse(rep *model.Report) reportResponse {
	return reportResponse{
		Report:        *rep,
		StreetViewURL: report.StreetViewURL(rep.Location),
	}
}
