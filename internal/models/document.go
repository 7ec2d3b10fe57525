package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// Document is an opaque payload blob produced by the generation pipeline
// (topic, content, strategy). The store keeps it verbatim; only the
// extraction helpers below read a whitelisted subset of fields.
type Document map[string]any

func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *Document) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("document: unsupported scan source")
	}
	if len(raw) == 0 {
		*d = nil
		return nil
	}
	return json.Unmarshal(raw, d)
}

// Text returns the trimmed string value of a key, or "".
func (d Document) Text(key string) string {
	if d == nil {
		return ""
	}
	if s, ok := d[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (d Document) Float(key string) (float64, bool) {
	if d == nil {
		return 0, false
	}
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// ViralityScore extracts the predicted score from a topic document.
func (d Document) ViralityScore() (float64, bool) {
	return d.Float("virality_score")
}

// TopicText extracts the human topic line from a topic document.
func (d Document) TopicText() string {
	return d.Text("topic")
}

// SourceURLs extracts the article URLs a topic document was derived from.
func (d Document) SourceURLs() []string {
	if d == nil {
		return nil
	}
	raw, ok := d["source_urls"].([]any)
	if !ok {
		return nil
	}
	urls := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			urls = append(urls, strings.TrimSpace(s))
		}
	}
	return urls
}

// FullCaption resolves the caption to publish: the strategy's full_caption
// (caption + hashtags) when present, otherwise the content caption.
func FullCaption(strategy, content Document) string {
	if caption := strategy.Text("full_caption"); caption != "" {
		return caption
	}
	return content.Text("caption")
}
