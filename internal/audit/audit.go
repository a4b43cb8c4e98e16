package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one recorded administrative action against a site's data.
type Entry struct {
	ID            string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	SiteID        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger records audit entries. A nil Logger at a call site disables auditing.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}
