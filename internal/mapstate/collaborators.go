// Package mapstate は共有地図の状態をクライアント側で保持する。
// ライブフィードから届くスナップショットを表示用のストアに反映し、
// 下書きの作成・編集とそのコミットを管理する。
// 認証、ドキュメントストア、画像ストレージ、地名検索は外部の協調者としてインターフェースでのみ扱う。
package mapstate

import (
	"context"

	"github.com/hitoshi/lostfound/internal/model"
)

// ReportCollection はレポートを購読・書き込みするコレクション名。
const ReportCollection = model.ReportCollection

// OrderByCreatedAtDesc はフィードの並び順の指定。
const OrderByCreatedAtDesc = "created_at desc"

// Identity はサインイン中のユーザーを表す。
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// Credentials はサインインの方法と資格情報を表す。
type Credentials struct {
	Method   string // "password" または "google"
	Email    string
	Password string
	SignUp   bool // trueの場合はアカウントを新規作成してからサインインする
}

// Place は地名検索の1件の結果を表す。
type Place struct {
	Name     string
	Location model.GeoPoint
}

// IdentityProvider は認証状態の提供元。
type IdentityProvider interface {
	// OnIdentityChanged は登録直後に現在の状態（未サインインならnil）で1回、
	// 以後サインイン・サインアウトのたびにcallbackを呼ぶ。戻り値で登録を解除する。
	OnIdentityChanged(callback func(*Identity)) (unsubscribe func())
	SignIn(ctx context.Context, creds Credentials) error
	SignOut(ctx context.Context) error
}

// DocumentStore はレポートを永続化するリモートストア。
type DocumentStore interface {
	// Subscribe はコレクション全体のスナップショットを変更のたびにonSnapshotへ渡す。
	// 差分ではなく常に並び順どおりの全件が届く。
	Subscribe(ctx context.Context, collection, orderBy string, onSnapshot func([]model.Report), onError func(error)) (unsubscribe func(), err error)
	Insert(ctx context.Context, collection string, report model.NewReport) (string, error)
	Update(ctx context.Context, collection, id string, patch model.ReportPatch) error
}

// BlobStore は添付画像の保存先。キーの衝突回避は呼び出し側の責任。
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	RetrievalURL(ctx context.Context, key string) (string, error)
}

// GeocodeService は地名から座標を検索する。結果は関連度順で、空なら該当なし。
type GeocodeService interface {
	Search(ctx context.Context, text string) ([]Place, error)
}
