// Package sponsor detects sponsored videos and renders the CSV report.
package sponsor

import (
	"regexp"
	"strings"
)

// MaxLinks caps the promotional links kept per video.
const MaxLinks = 3

// Keywords are matched case-insensitively against title and description.
var Keywords = []string{
	"業配", "贊助", "合作", "sponsored", "ad ", "#ad",
	"partnership", "合作夥伴", "promotion", "推廣",
}

var urlPattern = regexp.MustCompile(`https?://[^\s)>\]]+`)

// Classification is the verdict for one video.
type Classification struct {
	IsSponsor bool
	Links     []string
}

// Classify reports whether a video is sponsored content and, if so, returns up
// to MaxLinks URLs from its description in first-seen order.
func Classify(title, description string) Classification {
	combined := strings.ToLower(title + " " + description)

	for _, k := range Keywords {
		if strings.Contains(combined, strings.ToLower(k)) {
			return Classification{IsSponsor: true, Links: ExtractLinks(description, MaxLinks)}
		}
	}
	return Classification{}
}

// ExtractLinks returns at most limit URLs found in text.
func ExtractLinks(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	return urlPattern.FindAllString(text, limit)
}
