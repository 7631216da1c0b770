package mapstate

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/lostfound/internal/model"
)

// MaxDescriptionLength は説明文の最大文字数。サーバー側の上限と揃える。
const MaxDescriptionLength = 1000

// Mode は下書きの種類。
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Image はコミット時にアップロードする添付画像。
type Image struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Draft は未コミットの作成・編集操作を表す。
type Draft struct {
	TargetID     string // 作成時は空
	Description  string
	Position     *model.GeoPoint
	PendingImage *Image
}

// Mode は下書きの種類を返す。
func (d Draft) Mode() Mode {
	if d.TargetID != "" {
		return ModeEdit
	}
	return ModeCreate
}

// DraftFields はUpdateで変更するフィールド。nilのフィールドは変更しない。
type DraftFields struct {
	Description  *string
	Position     *model.GeoPoint // 作成時のみ変更できる
	PendingImage *Image
	ClearImage   bool
}

// EditPolicy は既存レポートの編集可否のルール。
type EditPolicy struct {
	// AllowAnonymousOwnedEdits がtrueの場合、所有者のいないレポートは誰でも編集できる。
	AllowAnonymousOwnedEdits bool
}

// DefaultEditPolicy は所有者のいない旧データを誰でも編集できるポリシーを返す。
func DefaultEditPolicy() EditPolicy {
	return EditPolicy{AllowAnonymousOwnedEdits: true}
}

// DraftEditor はセッションごとに高々1件の下書きを管理する。
type DraftEditor struct {
	session *Session
	policy  EditPolicy

	mu         sync.Mutex
	draft      *Draft
	committing bool
}

// NewDraftEditor はDraftEditorを生成する。
func NewDraftEditor(session *Session, policy EditPolicy) *DraftEditor {
	return &DraftEditor{session: session, policy: policy}
}

// CanEdit は現在のユーザーがreportの編集を開始できるかを返す。
func (e *DraftEditor) CanEdit(report model.Report) bool {
	if report.OwnerID == nil || *report.OwnerID == "" {
		return e.policy.AllowAnonymousOwnedEdits
	}
	return e.session.IsOwner(report)
}

// BeginCreate は地図上の位置から新規作成の下書きを開始する。既存の下書きは破棄される。
func (e *DraftEditor) BeginCreate(position model.GeoPoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return ErrCommitInFlight
	}
	pos := position
	e.draft = &Draft{Position: &pos}
	return nil
}

// BeginEdit はreportを元に編集の下書きを開始する。
// 編集権限がない場合はPermissionErrorを返し、下書きは作成しない。
func (e *DraftEditor) BeginEdit(report model.Report) error {
	if !e.CanEdit(report) {
		return &PermissionError{ReportID: report.ID}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return ErrCommitInFlight
	}
	pos := report.Location
	e.draft = &Draft{
		TargetID:    report.ID,
		Description: report.Description,
		Position:    &pos,
	}
	return nil
}

// Update は下書きのフィールドを変更する。
func (e *DraftEditor) Update(fields DraftFields) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return ErrCommitInFlight
	}
	if e.draft == nil {
		return &ValidationError{Field: "draft", Reason: "no draft in progress"}
	}
	if fields.Position != nil && e.draft.Mode() == ModeEdit {
		return &ValidationError{Field: "position", Reason: "position cannot be changed when editing"}
	}

	next := *e.draft
	if fields.Description != nil {
		next.Description = *fields.Description
	}
	if fields.Position != nil {
		pos := *fields.Position
		next.Position = &pos
	}
	if fields.ClearImage {
		next.PendingImage = nil
	}
	if fields.PendingImage != nil {
		img := *fields.PendingImage
		next.PendingImage = &img
	}
	e.draft = &next
	return nil
}

// Cancel は下書きを破棄する。
func (e *DraftEditor) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return ErrCommitInFlight
	}
	e.draft = nil
	return nil
}

// Current は下書きのコピーを返す。下書きがなければnil。
func (e *DraftEditor) Current() *Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft == nil {
		return nil
	}
	cp := *e.draft
	return &cp
}

// Committing はコミット処理中の場合にtrueを返す。
func (e *DraftEditor) Committing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committing
}

// Validate はdをコミットできるかを検証する。
func Validate(d Draft) error {
	desc := strings.TrimSpace(d.Description)
	if desc == "" {
		return &ValidationError{Field: "description", Reason: "description is required"}
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: "description is too long"}
	}
	if d.Position == nil {
		return &ValidationError{Field: "position", Reason: "position is required"}
	}
	return nil
}

// acquire はコミット開始時に下書きを確保し、以後の変更を止める。
func (e *DraftEditor) acquire() (Draft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return Draft{}, ErrCommitInFlight
	}
	if e.draft == nil {
		return Draft{}, &ValidationError{Field: "draft", Reason: "no draft in progress"}
	}
	e.committing = true
	return *e.draft, nil
}

// release はコミット完了時に呼ばれる。成功時のみ下書きを破棄する。
func (e *DraftEditor) release(committed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.committing = false
	if committed {
		e.draft = nil
	}
}
