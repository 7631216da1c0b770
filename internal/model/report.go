// Package model はドメインモデルを定義する。
package model

import "time"

// ReportCollection は落とし物レポートを格納するコレクション名。
const ReportCollection = "lostItems"

// GeoPoint は緯度経度の組を表す。
type GeoPoint struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// Report は地図上にピン留めされた落とし物レポートを表す。
// Location、CreatedAt、OwnerID、OwnerDisplayName は作成後に変更しない。
type Report struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	Location         GeoPoint  `json:"location"`
	CreatedAt        time.Time `json:"createdAt"`
	ImageURL         *string   `json:"imageUrl"`
	OwnerID          *string   `json:"ownerId"`          // 旧データ・匿名投稿ではnil
	OwnerDisplayName *string   `json:"ownerDisplayName"` // 作成時点の表示名のスナップショット
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clone はポインタフィールドも含めてrを複製する。
func (r Report) Clone() Report {
	r.ImageURL = cloneString(r.ImageURL)
	r.OwnerID = cloneString(r.OwnerID)
	r.OwnerDisplayName = cloneString(r.OwnerDisplayName)
	return r
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NewReport はレポート作成時の入力値を表す。
// IDとCreatedAtはストア側で採番する。
type NewReport struct {
	Description      string
	Location         GeoPoint
	ImageURL         *string
	OwnerID          *string
	OwnerDisplayName *string
}

// ReportPatch はレポートの部分更新を表す。
// nilフィールドは変更しない。
type ReportPatch struct {
	Description *string
	ImageURL    *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p ReportPatch) IsEmpty() bool {
	return p.Description == nil && p.ImageURL == nil
}

// ViewPort は地図の表示範囲を表す。
type ViewPort struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Center は表示範囲の中心点を返す。
func (v ViewPort) Center() GeoPoint {
	return GeoPoint{
		Latitude:  (v.LatMin + v.LatMax) / 2,
		Longitude: (v.LonMin + v.LonMax) / 2,
	}
}

// HeatPoint はヒートマップの1セル分の集計結果を表す。
type HeatPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int64   `json:"count"`
	Intensity float64 `json:"intensity"`
}
