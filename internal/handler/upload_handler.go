package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/storage"
)

// BlobStore は画像の保存と公開URL解決を行うインターフェース。
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	URL(key string) string
	MaxBytes() int64
}

// UploadHandler は画像アップロードのHTTPハンドラー。
type UploadHandler struct {
	store BlobStore
}

// NewUploadHandler はUploadHandlerを生成する。
func NewUploadHandler(store BlobStore) *UploadHandler {
	return &UploadHandler{store: store}
}

// uploadResponse はアップロード結果のAPIレスポンス。
type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// urlResponse は公開URLのAPIレスポンス。
type urlResponse struct {
	URL string `json:"url"`
}

// multipartOverhead はフォーム境界やヘッダー分の余裕。
const multipartOverhead = 1 << 20

// Upload は画像を保存し、キーと公開URLを返す。
// POST /api/uploads (multipart/form-data: key, file)
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(h.store.MaxBytes() + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewImageTooLargeError(h.store.MaxBytes()))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipart form is required"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.store.MaxBytes()+1))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("failed to read file"))
		return
	}

	key := strings.TrimSpace(r.FormValue("key"))
	if key == "" {
		key = storage.NewObjectKey(header.Filename)
	}

	if err := h.store.Put(r.Context(), key, detectContentType(header, data), data); err != nil {
		if storage.IsClientError(err) {
			handleServiceError(w, err)
			return
		}
		slog.Error("upload failed", slog.String("key", key), slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUploadFailedError())
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Key: key, URL: h.store.URL(key)})
}

// RetrievalURL はアップロード済みオブジェクトの公開URLを返す。
// GET /api/uploads/url?key=xxx
func (h *UploadHandler) RetrievalURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if err := storage.ValidateObjectKey(key); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: h.store.URL(key)})
}

// detectContentType はパートのContent-Typeを使い、未指定の場合は内容から推定する。
func detectContentType(header *multipart.FileHeader, data []byte) string {
	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		return http.DetectContentType(data)
	}
	return ct
}
