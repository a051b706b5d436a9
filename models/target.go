// Package models defines data structures shared by the extraction engine.
package models

import "fmt"

// TargetKind distinguishes page references from direct ads-library URLs.
type TargetKind string

const (
	KindPageReference TargetKind = "page"
	KindDirectURL     TargetKind = "url"
)

// Target identifies a thing to measure. Build targets through the parser
// package so URL targets are validated at construction time.
type Target struct {
	Kind    TargetKind `json:"type"`
	Country string     `json:"country,omitempty"`
	PageID  string     `json:"pageId,omitempty"`
	URL     string     `json:"url,omitempty"`
}

// String returns a short descriptor used in logs and error messages.
func (t Target) String() string {
	switch t.Kind {
	case KindPageReference:
		return fmt.Sprintf("page:%s/%s", t.Country, t.PageID)
	case KindDirectURL:
		return "url:" + t.URL
	default:
		return "invalid-target"
	}
}
