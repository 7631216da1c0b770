package ctl

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/lostfound/internal/model"
)

const maxListDescription = 60

// printReports はレポートを表形式で出力する。canEditがtrueの行には "*" を付ける。
func printReports(w io.Writer, reports []model.Report, canEdit func(model.Report) bool) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tCREATED\tLOCATION\tBY\tDESCRIPTION")
	for _, r := range reports {
		mark := ""
		if canEdit != nil && canEdit(r) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f,%.5f\t%s\t%s\n",
			mark,
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Location.Latitude, r.Location.Longitude,
			ownerLabel(r),
			summarize(r),
		)
	}
	tw.Flush()
}

func ownerLabel(r model.Report) string {
	if r.OwnerDisplayName != nil && *r.OwnerDisplayName != "" {
		return *r.OwnerDisplayName
	}
	return "anonymous"
}

func summarize(r model.Report) string {
	desc := strings.Join(strings.Fields(r.Description), " ")
	if utf8.RuneCountInString(desc) > maxListDescription {
		desc = string([]rune(desc)[:maxListDescription-1]) + "…"
	}
	if r.ImageURL != nil && *r.ImageURL != "" {
		desc += " [photo]"
	}
	return desc
}
