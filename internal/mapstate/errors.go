package mapstate

import (
	"errors"
	"fmt"
)

// ErrNotFound は地名検索で該当がなかったことを表す。
var ErrNotFound = errors.New("location not found")

// ErrCommitInFlight はコミット中に下書きを操作しようとした場合に返される。
var ErrCommitInFlight = errors.New("a commit is already in progress")

// UserError はユーザーに表示できるメッセージを持つエラー。
type UserError interface {
	error
	UserMessage() string
}

// UserMessage はerrをアラート表示用の文言に変換する。
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue UserError
	if errors.As(err, &ue) {
		return ue.UserMessage()
	}
	if errors.Is(err, ErrCommitInFlight) {
		return "Please wait for the current submission to finish."
	}
	return "Something went wrong. Please try again."
}

// ValidationError は下書きまたは入力値の検証エラー。ネットワーク呼び出しは行われていない。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UserMessage はUserErrorを実装する。
func (e *ValidationError) UserMessage() string {
	switch e.Field {
	case "description":
		return "Please describe the lost item."
	case "position":
		return "Please click a point on the map first."
	case "query":
		return "Please enter a place to search for."
	}
	return "Please check your input: " + e.Reason
}

// AuthRequiredError はサインインが必要な操作を未サインインで行った場合のエラー。
type AuthRequiredError struct{}

func (e *AuthRequiredError) Error() string { return "authentication required" }

// UserMessage はUserErrorを実装する。
func (e *AuthRequiredError) UserMessage() string {
	return "You must be logged in to submit a report."
}

// PermissionError は他人のレポートを編集しようとした場合のエラー。
type PermissionError struct {
	ReportID string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("not allowed to edit report %s", e.ReportID)
}

// UserMessage はUserErrorを実装する。
func (e *PermissionError) UserMessage() string {
	return "You can only edit your own reports."
}

// UploadError は画像アップロードの失敗。レポートは書き込まれていない。
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UserMessage はUserErrorを実装する。
func (e *UploadError) UserMessage() string {
	return "Error uploading the image. Your report was not submitted; please try again."
}

// WriteError はドキュメントストアへの書き込みの失敗。
type WriteError struct {
	Op  string // "insert" または "update"
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s report: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// UserMessage はUserErrorを実装する。
func (e *WriteError) UserMessage() string {
	if e.Op == "update" {
		return "Error updating the report. Please try again."
	}
	return "Error submitting the report. Please try again."
}

// NotFoundError は地名検索で該当がなかった場合のエラー。errors.Is(err, ErrNotFound) が成り立つ。
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("location not found: %s", e.Query)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UserMessage はUserErrorを実装する。
func (e *NotFoundError) UserMessage() string {
	return "Location not found."
}

// TransportError はネットワーク呼び出しの失敗。状態は変更されていない。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessage はUserErrorを実装する。
func (e *TransportError) UserMessage() string {
	if e.Op == "geocode" {
		return "Search failed. Please try again."
	}
	return "Network error. Please try again."
}
