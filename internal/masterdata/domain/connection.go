package masterdata

import (
	"context"
	"errors"
)

// Connection is a directed parent to child edge in the meter hierarchy.
// Connections together form the site's meter graph; the engine treats the
// graph as read-only input.
type Connection struct {
	ID       string
	SiteID   string
	ParentID string
	ChildID  string
}

// Validate checks connection invariants.
func (c Connection) Validate() error {
	if c.ParentID == "" {
		return errors.New("connection: empty parent id")
	}
	if c.ChildID == "" {
		return errors.New("connection: empty child id")
	}
	if c.ParentID == c.ChildID {
		return errors.New("connection: self edge")
	}
	return nil
}

// ConnectionRepository manages connection persistence.
type ConnectionRepository interface {
	ListBySite(ctx context.Context, siteID string) ([]Connection, error)
}

// ChildrenByParent indexes connections into a parent -> child ids map.
func ChildrenByParent(connections []Connection) map[string][]string {
	children := make(map[string][]string, len(connections))
	for _, conn := range connections {
		if conn.ParentID == "" || conn.ChildID == "" {
			continue
		}
		children[conn.ParentID] = append(children[conn.ParentID], conn.ChildID)
	}
	return children
}
