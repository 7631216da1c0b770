package report

import (
	"strconv"

	"github.com/hitoshi/lostfound/internal/model"
)

// StreetViewURL はGoogleマップでその地点のストリートビューを開くURLを返す。
func StreetViewURL(p model.GeoPoint) string {
	return "https://www.google.com/maps/@?api=1&map_action=pano&viewpoint=" +
		strconv.FormatFloat(p.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(p.Longitude, 'f', -1, 64)
}
