package handler

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/lostfound/internal/model"
)

// rssItemLimit はRSSに含める最新レポートの件数。
const rssItemLimit = 50

// FeedHandler は落とし物レポートのRSS配信を行うHTTPハンドラー。
type FeedHandler struct {
	service ReportServiceInterface
	baseURL string
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service ReportServiceInterface, baseURL string) *FeedHandler {
	return &FeedHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Link        string        `xml:"link"`
	GUID        rssGUID       `xml:"guid"`
	Description string        `xml:"description"`
	PubDate     string        `xml:"pubDate"`
	Author      string        `xml:"author,omitempty"`
	Enclosure   *rssEnclosure `xml:"enclosure,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int    `xml:"length,attr"`
}

// RSS は最新のレポートをRSS 2.0で返す。
// GET /api/reports.rss
func (h *FeedHandler) RSS(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if len(reports) > rssItemLimit {
		reports = reports[:rssItemLimit]
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "Campus Lost & Found",
			Link:        h.baseURL + "/",
			Description: "Lost items reported on the campus map",
			Items:       make([]rssItem, 0, len(reports)),
		},
	}
	if len(reports) > 0 {
		doc.Channel.LastBuildDate = reports[0].CreatedAt.UTC().Format(time.RFC1123Z)
	}
	for i := range reports {
		doc.Channel.Items = append(doc.Channel.Items, h.toRSSItem(&reports[i]))
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(doc)
}

func (h *FeedHandler) toRSSItem(rep *model.Report) rssItem {
	link := fmt.Sprintf("%s/?report=%s", h.baseURL, rep.ID)
	item := rssItem{
		Title: rssTitle(rep.Description),
		Link:  link,
		GUID:  rssGUID{Value: "report:" + rep.ID},
		Description: fmt.Sprintf("%s (%.6f, %.6f)",
			rep.Description, rep.Location.Latitude, rep.Location.Longitude),
		PubDate: rep.CreatedAt.UTC().Format(time.RFC1123Z),
	}
	if rep.OwnerDisplayName != nil {
		item.Author = *rep.OwnerDisplayName
	}
	if rep.ImageURL != nil {
		item.Enclosure = &rssEnclosure{URL: *rep.ImageURL, Type: "image/*"}
	}
	return item
}

// rssTitle は説明文の1行目を最大80文字に切り詰めてタイトルにする。
func rssTitle(desc string) string {
	title, _, _ := strings.Cut(desc, "\n")
	runes := []rune(title)
	if len(runes) > 80 {
		return string(runes[:79]) + "…"
	}
	return title
}
