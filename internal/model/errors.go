// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, report, upload, geocode, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeDescriptionRequired = "DESCRIPTION_REQUIRED"
	ErrCodeDescriptionTooLong  = "DESCRIPTION_TOO_LONG"
	ErrCodeInvalidLocation     = "INVALID_LOCATION"
	ErrCodeReportNotFound      = "REPORT_NOT_FOUND"
	ErrCodeNotReportOwner      = "NOT_REPORT_OWNER"
	ErrCodeUnsupportedImage    = "UNSUPPORTED_IMAGE"
	ErrCodeImageTooLarge       = "IMAGE_TOO_LARGE"
	ErrCodeUploadFailed        = "UPLOAD_FAILED"
	ErrCodeLocationNotFound    = "LOCATION_NOT_FOUND"
	ErrCodeGeocodeFailed       = "GEOCODE_FAILED"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeCSRFInvalid         = "CSRF_INVALID"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "You must be signed in to submit a report.",
		Category: "auth",
		Action:   "Sign in with Google or email and try again.",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request body and try again.",
	}
}

// NewDescriptionRequiredError は説明文未入力エラーを生成する。
func NewDescriptionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeDescriptionRequired,
		Message:  "Description is required.",
		Category: "validation",
		Action:   "Describe the lost item before submitting.",
	}
}

// NewDescriptionTooLongError は説明文の文字数超過エラーを生成する。
func NewDescriptionTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeDescriptionTooLong,
		Message:  fmt.Sprintf("Description must be at most %d characters.", max),
		Category: "validation",
		Action:   "Shorten the description.",
	}
}

// NewInvalidLocationError は位置情報が不正な場合のエラーを生成する。
func NewInvalidLocationError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLocation,
		Message:  "Location is required.",
		Category: "validation",
		Action:   "Click a point on the map to place the report.",
	}
}

// NewReportNotFoundError はレポート未検出エラーを生成する。
func NewReportNotFoundError(reportID string) *APIError {
	return &APIError{
		Code:     ErrCodeReportNotFound,
		Message:  fmt.Sprintf("report not found: %s", reportID),
		Category: "report",
		Action:   "Refresh the map; the report may have been removed.",
	}
}

// NewNotReportOwnerError は他人のレポートを編集しようとした場合のエラーを生成する。
func NewNotReportOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeNotReportOwner,
		Message:  "You can only edit your own reports.",
		Category: "auth",
		Action:   "Sign in as the account that created this report.",
	}
}

// NewUnsupportedImageError は画像以外のファイルがアップロードされた場合のエラーを生成する。
func NewUnsupportedImageError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("unsupported image type: %s", contentType),
		Category: "upload",
		Action:   "Attach a JPEG, PNG, GIF or WebP image.",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("image exceeds the %d byte limit", maxBytes),
		Category: "upload",
		Action:   "Attach a smaller image.",
	}
}

// NewUploadFailedError は画像アップロード失敗エラーを生成する。
func NewUploadFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  "Image upload failed.",
		Category: "upload",
		Action:   "Wait a moment and submit again.",
	}
}

// NewLocationNotFoundError は地名検索で結果がなかった場合のエラーを生成する。
func NewLocationNotFoundError(query string) *APIError {
	return &APIError{
		Code:     ErrCodeLocationNotFound,
		Message:  fmt.Sprintf("Location not found: %s", query),
		Category: "geocode",
		Action:   "Try a different place name.",
	}
}

// NewGeocodeFailedError は地名検索APIの呼び出し失敗エラーを生成する。
func NewGeocodeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeGeocodeFailed,
		Message:  "Search failed.",
		Category: "geocode",
		Action:   "Wait a moment and search again.",
	}
}

// NewEmailTakenError はメールアドレス登録済みエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead, or use another email address.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Email or password is incorrect.",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(minLen int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password must be at least %d characters.", minLen),
		Category: "validation",
		Action:   "Choose a longer password.",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "Account not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewCSRFInvalidError はCSRFトークン検証エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "Your session could not be verified.",
		Category: "auth",
		Action:   "Reload the map and submit the report again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Wait a moment and try again.",
	}
}
