package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/model"
)

// UserServiceInterface はアカウント操作のサービス。
type UserServiceInterface interface {
	// Withdraw はアカウントを削除する。レポートは所有者なしとして地図に残る。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はログイン中ユーザーのアカウントを扱う。
type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。cookiesはセッションCookieの発行時と同じ設定を渡す。
func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{service: service, cookies: cookies}
}

// Withdraw は退会処理を行い、session_id Cookieを失効させる。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		slog.Warn("withdraw failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, h.cookies.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}
