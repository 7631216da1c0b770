// Package storage はレポート画像のBlobストア（Google Cloud Storage）を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/model"
	"google.golang.org/api/option"
)

const defaultPublicBase = "https://storage.googleapis.com"

// allowedContentTypes はアップロードを受け付ける画像形式。
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// objectUploader はバケットへの書き込みを抽象化する。
type objectUploader interface {
	upload(ctx context.Context, key, contentType string, data []byte) error
}

// Store は画像のアップロードと公開URLの解決を行う。
type Store struct {
	uploader   objectUploader
	bucket     string
	publicBase string
	maxBytes   int64
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Config はStoreの設定値。
type Config struct {
	Bucket   string
	Endpoint string // 空の場合は本番のGCS。エミュレーター利用時に指定する
	MaxBytes int64
}

// NewGCSStore はGoogle Cloud Storageに接続するStoreを生成する。
// 返されたcloseは終了時に呼び出すこと。
func NewGCSStore(ctx context.Context, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) (*Store, func() error, error) {
	var opts []option.ClientOption
	publicBase := defaultPublicBase
	if cfg.Endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(strings.TrimRight(cfg.Endpoint, "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
		publicBase = strings.TrimRight(cfg.Endpoint, "/")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	s := newStore(&gcsUploader{client: client, bucket: cfg.Bucket}, cfg.Bucket, publicBase, cfg.MaxBytes, collector, logger)
	return s, client.Close, nil
}

func newStore(u objectUploader, bucket, publicBase string, maxBytes int64, collector metrics.MetricsCollector, logger *slog.Logger) *Store {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Store{
		uploader:   u,
		bucket:     bucket,
		publicBase: publicBase,
		maxBytes:   maxBytes,
		metrics:    collector,
		logger:     logger,
	}
}

// Put は画像をkeyで保存する。画像以外とサイズ超過は*model.APIErrorで拒否する。
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	contentType = normalizeContentType(contentType)
	if !allowedContentTypes[contentType] {
		s.metrics.RecordUpload(metrics.OutcomeRejected)
		return model.NewUnsupportedImageError(contentType)
	}
	if int64(len(data)) > s.maxBytes {
		s.metrics.RecordUpload(metrics.OutcomeRejected)
		return model.NewImageTooLargeError(s.maxBytes)
	}
	if err := ValidateObjectKey(key); err != nil {
		s.metrics.RecordUpload(metrics.OutcomeRejected)
		return model.NewInvalidRequestError(err.Error())
	}

	if err := s.uploader.upload(ctx, key, contentType, data); err != nil {
		s.metrics.RecordUpload(metrics.OutcomeFailed)
		s.logger.Error("image upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	s.metrics.RecordUpload(metrics.OutcomeOK)
	s.logger.Info("image uploaded",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// URL はオブジェクトの公開URLを返す。
func (s *Store) URL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBase, s.bucket, key)
}

// MaxBytes はアップロード可能な最大バイト数を返す。
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}

// gcsUploader はGCSのバケットに書き込む。
type gcsUploader struct {
	client *storage.Client
	bucket string
}

func (u *gcsUploader) upload(ctx context.Context, key, contentType string, data []byte) error {
	w := u.client.Bucket(u.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close object writer: %w", err)
	}
	return nil
}

// IsClientError はエラーが利用者の入力起因（*model.APIError）かを判定する。
func IsClientError(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr)
}
