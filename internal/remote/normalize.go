package remote

import (
	"regexp"
	"strings"

	"github.com/castplanhq/castplan/internal/schedule"
)

// Classification markers, applied in priority order. The machine tag is
// written by this engine when it pushes events; the hashtag and keywords come
// from free text typed into the remote calendar.
const (
	categoryTagPrefix = "[castplan:"
	categoryTagSuffix = "]"
	importantHashtag  = "#important"
	liveKeyword       = "live"
	autoPostKeyword   = "post"
)

var categoryTagPattern = regexp.MustCompile(`\[castplan:([a-z-]+)\]`)

// ClassifyDescription derives a category from an event description and
// returns the description with machine tags and markers stripped.
//
// Priority: explicit machine tag, then the important hashtag, then the
// live-streaming keyword, then the social-posting keyword, defaulting to
// other.
func ClassifyDescription(description string) (schedule.Category, string) {
	cleaned := description

	if match := categoryTagPattern.FindStringSubmatch(description); match != nil {
		cleaned = strings.TrimSpace(categoryTagPattern.ReplaceAllString(description, ""))
		if category, err := schedule.ParseCategory(match[1]); err == nil {
			return category, cleaned
		}
		// Unknown tag value: fall through to keyword rules on the cleaned text.
	}

	lowered := strings.ToLower(cleaned)
	if strings.Contains(lowered, importantHashtag) {
		cleaned = stripMarker(cleaned, importantHashtag)
		return schedule.CategoryImportantEvent, cleaned
	}
	if strings.Contains(lowered, liveKeyword) {
		return schedule.CategoryLiveBroadcast, cleaned
	}
	if strings.Contains(lowered, autoPostKeyword) {
		return schedule.CategoryAutoPost, cleaned
	}
	return schedule.CategoryOther, cleaned
}

// CategoryTag renders the machine tag this engine embeds when pushing an
// event so the category round-trips through the remote calendar.
func CategoryTag(category schedule.Category) string {
	return categoryTagPrefix + string(category) + categoryTagSuffix
}

func stripMarker(text, marker string) string {
	lowered := strings.ToLower(text)
	index := strings.Index(lowered, marker)
	if index < 0 {
		return text
	}
	stripped := text[:index] + text[index+len(marker):]
	return strings.TrimSpace(strings.ReplaceAll(stripped, "  ", " "))
}
