package mapstate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
	"github.com/hitoshi/lostfound/internal/storage"
)

// CommitResult はコミット成功時の結果。
type CommitResult struct {
	Mode     Mode
	ReportID string
	ImageURL *string
}

// CommitPipeline は下書きを検証し、画像をアップロードしてからリモートストアへ書き込む。
// RecordStoreは変更しない。書き込み結果はライブフィード経由で反映される。
type CommitPipeline struct {
	editor  *DraftEditor
	session *Session
	docs    DocumentStore
	blobs   BlobStore
	logger  *slog.Logger

	// NewKey は画像のオブジェクトキーを生成する。
	NewKey func(filename string) string
}

// NewCommitPipeline はCommitPipelineを生成する。
func NewCommitPipeline(editor *DraftEditor, session *Session, docs DocumentStore, blobs BlobStore, logger *slog.Logger) *CommitPipeline {
	return &CommitPipeline{
		editor:  editor,
		session: session,
		docs:    docs,
		blobs:   blobs,
		logger:  logger,
		NewKey:  storage.NewObjectKey,
	}
}

// Commit は現在の下書きをコミットする。
// 事前条件は検証、サインイン状態の順に確認し、最初に失敗したものを返す。
// 成功時は下書きを破棄し、失敗時は下書きをそのまま残す。
func (p *CommitPipeline) Commit(ctx context.Context) (*CommitResult, error) {
	draft, err := p.editor.acquire()
	if err != nil {
		return nil, err
	}

	result, err := p.commit(ctx, draft)
	p.editor.release(err == nil)
	return result, err
}

func (p *CommitPipeline) commit(ctx context.Context, d Draft) (*CommitResult, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	identity := p.session.CurrentIdentity()
	if identity == nil {
		return nil, &AuthRequiredError{}
	}

	start := time.Now()
	var imageURL *string
	if d.PendingImage != nil {
		url, err := p.upload(ctx, d.PendingImage)
		if err != nil {
			p.logger.Warn("image upload failed",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		imageURL = &url
	}

	description := strings.TrimSpace(d.Description)
	result := &CommitResult{Mode: d.Mode(), ImageURL: imageURL}

	if d.Mode() == ModeEdit {
		patch := model.ReportPatch{Description: &description, ImageURL: imageURL}
		if err := p.docs.Update(ctx, ReportCollection, d.TargetID, patch); err != nil {
			return nil, &WriteError{Op: "update", Err: err}
		}
		result.ReportID = d.TargetID
	} else {
		ownerID := identity.ID
		ownerName := identity.DisplayName
		id, err := p.docs.Insert(ctx, ReportCollection, model.NewReport{
			Description:      description,
			Location:         *d.Position,
			ImageURL:         imageURL,
			OwnerID:          &ownerID,
			OwnerDisplayName: &ownerName,
		})
		if err != nil {
			return nil, &WriteError{Op: "insert", Err: err}
		}
		result.ReportID = id
	}

	p.logger.Info("draft committed",
		slog.String("mode", result.Mode.String()),
		slog.String("report_id", result.ReportID),
		slog.String("user_id", identity.ID),
		slog.Bool("with_image", imageURL != nil),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}

func (p *CommitPipeline) upload(ctx context.Context, img *Image) (string, error) {
	key := p.NewKey(img.FileName)
	if err := p.blobs.Upload(ctx, key, img.ContentType, img.Data); err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	url, err := p.blobs.RetrievalURL(ctx, key)
	if err != nil {
		return "", &UploadError{Key: key, Err: err}
	}
	return url, nil
}
