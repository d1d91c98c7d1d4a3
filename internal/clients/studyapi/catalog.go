package studyapi

import (
	"context"
	"slices"
	"sync"

	"github.com/yungbote/studysync/internal/generation"
	"github.com/yungbote/studysync/internal/realtime"
)

// Lister is the subset of Client the catalog needs.
type Lister interface {
	ListArtifacts(ctx context.Context, workspaceID string, d realtime.Domain) ([]Artifact, error)
}

// Catalog holds the last fetched artifact list per (workspace, domain). The
// generation tracker refreshes it on completion; hosts read it via Artifacts.
type Catalog struct {
	lister Lister

	mu    sync.RWMutex
	items map[string][]Artifact
}

var _ generation.ArtifactRefresher = (*Catalog)(nil)

func NewCatalog(lister Lister) *Catalog {
	return &Catalog{lister: lister, items: make(map[string][]Artifact)}
}

func catalogKey(workspaceID string, d realtime.Domain) string {
	return workspaceID + "/" + string(d)
}

func (c *Catalog) RefreshArtifacts(ctx context.Context, workspaceID string, d realtime.Domain) error {
	items, err := c.lister.ListArtifacts(ctx, workspaceID, d)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[catalogKey(workspaceID, d)] = items
	c.mu.Unlock()
	return nil
}

// Artifacts returns a copy of the cached list and whether it was ever fetched.
func (c *Catalog) Artifacts(workspaceID string, d realtime.Domain) ([]Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items, ok := c.items[catalogKey(workspaceID, d)]
	return slices.Clone(items), ok
}
