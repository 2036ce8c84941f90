package sponsor

import (
	"strings"
	"time"

	"github.com/ujujhuang-cpu/youtube-scheduler/internal/models"
)

const (
	bom = "\uFEFF"

	// Header lists the report columns: channel, title, publish date,
	// sponsor links, video URL.
	Header = "頻道,影片標題,發布日期,業配連結,影片網址"

	// NoLinkPlaceholder fills the links column when a description has no URL.
	NoLinkPlaceholder = "（無連結）"

	LinkSeparator = " | "
	DateLayout    = "2006/1/2"
)

// FormatCSV renders results as a BOM-prefixed CSV with every field quoted.
// Dates are shown in loc.
func FormatCSV(results []models.DetectionResult, loc *time.Location) []byte {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString(bom)
	b.WriteString(Header)
	b.WriteString("\n")

	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		links := NoLinkPlaceholder
		if len(r.Links) > 0 {
			links = strings.Join(r.Links, LinkSeparator)
		}
		writeRow(&b,
			r.Channel,
			r.Title,
			r.PublishedAt.In(loc).Format(DateLayout),
			links,
			r.VideoURL,
		)
	}
	return []byte(b.String())
}

func writeRow(b *strings.Builder, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
}
