package report

import (
	"math"
	"sort"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/hitoshi/lostfound/internal/model"
)

// PointIntensity は1件のレポートが持つヒートマップ上の強度。
const PointIntensity = 0.6

const (
	expectedCells = 160
	minCellLevel  = 6
	maxCellLevel  = 20
)

type heatCell struct {
	count    int64
	origCell s2.CellID
}

// HeatmapAggregator は表示範囲に応じたS2セルレベルでレポート位置を集計する。
type HeatmapAggregator struct {
	vp    model.ViewPort
	level int
	cells map[s2.CellID]*heatCell
}

// NewHeatmapAggregator は表示範囲からセルレベルを決めてHeatmapAggregatorを生成する。
func NewHeatmapAggregator(vp model.ViewPort) *HeatmapAggregator {
	return &HeatmapAggregator{
		vp:    vp,
		level: cellLevel(vp),
		cells: make(map[s2.CellID]*heatCell),
	}
}

// cellLevel は表示範囲にexpectedCells個程度のセルが収まるレベルを返す。
func cellLevel(vp model.ViewPort) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)
	rect := s2.Rect{
		Lat: r1.Interval{Lo: minLL.Lat.Radians(), Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{Lo: minLL.Lng.Radians(), Hi: maxLL.Lng.Radians()},
	}
	area := rect.Area()

	c := vp.Center()
	center := s2.CellIDFromLatLng(s2.LatLngFromDegrees(c.Latitude, c.Longitude))
	for lv := maxCellLevel; lv >= minCellLevel; lv-- {
		cell := s2.CellFromCellID(center.Parent(lv))
		if area/cell.ApproxArea() < expectedCells {
			return lv
		}
	}
	return minCellLevel
}

// Level は集計に使うS2セルレベルを返す。
func (a *HeatmapAggregator) Level() int {
	return a.level
}

// Add は表示範囲内の地点を集計に加える。範囲外と不正な座標は無視する。
func (a *HeatmapAggregator) Add(p model.GeoPoint) {
	if !ValidLocation(p) || !a.contains(p) {
		return
	}
	pc := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Latitude, p.Longitude))
	parent := pc.Parent(a.level)
	cell, ok := a.cells[parent]
	if !ok {
		cell = &heatCell{}
		a.cells[parent] = cell
	}
	cell.count++
	cell.origCell = pc
}

func (a *HeatmapAggregator) contains(p model.GeoPoint) bool {
	return p.Latitude >= a.vp.LatMin && p.Latitude <= a.vp.LatMax &&
		p.Longitude >= a.vp.LonMin && p.Longitude <= a.vp.LonMax
}

// Points は集計結果を件数の多い順に返す。
// 1件だけのセルは元の地点をそのまま使う。
func (a *HeatmapAggregator) Points() []model.HeatPoint {
	points := make([]model.HeatPoint, 0, len(a.cells))
	for id, cell := range a.cells {
		ll := id.LatLng()
		if cell.count == 1 {
			ll = cell.origCell.LatLng()
		}
		points = append(points, model.HeatPoint{
			Latitude:  ll.Lat.Degrees(),
			Longitude: ll.Lng.Degrees(),
			Count:     cell.count,
			Intensity: math.Min(1, PointIntensity*float64(cell.count)),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Count != points[j].Count {
			return points[i].Count > points[j].Count
		}
		if points[i].Latitude != points[j].Latitude {
			return points[i].Latitude < points[j].Latitude
		}
		return points[i].Longitude < points[j].Longitude
	})
	return points
}
