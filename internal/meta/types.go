// Package meta is the Instagram Graph API client used for carousel
// publishing, recent-media pages, and media insights.
package meta

import (
	"fmt"
	"strings"
	"time"
)

// MediaItem is one entry from the account's recent media page.
type MediaItem struct {
	ID               string `json:"id"`
	Caption          string `json:"caption"`
	Permalink        string `json:"permalink"`
	Timestamp        string `json:"timestamp"`
	MediaType        string `json:"media_type"`
	MediaProductType string `json:"media_product_type"`
}

// ParsedTimestamp decodes the Graph API timestamp format, or nil.
func (m MediaItem) ParsedTimestamp() *time.Time {
	raw := strings.TrimSpace(m.Timestamp)
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02T15:04:05-0700", raw)
	if err != nil {
		return nil
	}
	return &t
}

// MediaMetrics is the normalized engagement snapshot for one media id.
// Fields absent from the account/media combination stay nil.
type MediaMetrics struct {
	Likes             *int64
	Comments          *int64
	Reach             *int64
	Saves             *int64
	Shares            *int64
	TotalInteractions *int64
	Views             *int64
	Raw               map[string]float64
}

// GraphError is a decoded Graph API error envelope.
type GraphError struct {
	Path       string
	StatusCode int
	Code       int
	Subcode    int
	Transient  bool
	FBTraceID  string
	Message    string
	RetryAfter time.Duration
}

func (e *GraphError) Error() string {
	parts := []string{fmt.Sprintf("HTTP %d", e.StatusCode)}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Code != 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if e.Subcode != 0 {
		parts = append(parts, fmt.Sprintf("subcode=%d", e.Subcode))
	}
	if e.FBTraceID != "" {
		parts = append(parts, fmt.Sprintf("fbtrace_id=%s", e.FBTraceID))
	}
	return fmt.Sprintf("meta %s failed: %s", e.Path, strings.Join(parts, " | "))
}

// NormalizeCaption prepares captions for exact-match comparison:
// whitespace collapsed, lower-cased.
func NormalizeCaption(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
