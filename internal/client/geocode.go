package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/lostfound/internal/mapstate"
	"github.com/hitoshi/lostfound/internal/model"
)

type place struct {
	Name     string         `json:"name"`
	Location model.GeoPoint `json:"location"`
}

// Geocoder は地名検索APIをmapstate.GeocodeServiceとして提供する。
type Geocoder struct {
	client *Client
}

// NewGeocoder はGeocoderを生成する。
func NewGeocoder(c *Client) *Geocoder {
	return &Geocoder{client: c}
}

// Search はGET /api/geocodeで地名を検索する。該当なしの場合は空スライスを返す。
func (g *Geocoder) Search(ctx context.Context, text string) ([]mapstate.Place, error) {
	var resp struct {
		Places []place `json:"places"`
	}
	q := url.Values{}
	q.Set("q", text)
	if err := g.client.doJSON(ctx, http.MethodGet, "/api/geocode", q, nil, &resp); err != nil {
		return nil, err
	}

	places := make([]mapstate.Place, 0, len(resp.Places))
	for _, p := range resp.Places {
		places = append(places, mapstate.Place{Name: p.Name, Location: p.Location})
	}
	return places, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
