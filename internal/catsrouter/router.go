// Package catsrouter implements handler registration and version-ranged
// dispatch, grounded on cats/server/handlers.py's Api.register/compute
// algorithm and internal/plugins/registry.go's registry shape.
//
// Ownership boundary:
// - handler_id -> version-range lookup table
// - registration-time version overlap validation
package catsrouter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cifrazia/cats/internal/catsrequest"
	"github.com/cifrazia/cats/internal/catsresponse"
)

// HandlerFunc handles one decoded Request and optionally returns a
// Response to send back; a nil Response means the handler already replied
// itself (e.g. via Input) or the exchange needs no reply.
type HandlerFunc func(ctx context.Context, req *catsrequest.Request) (*catsresponse.Response, error)

// HandlerItem is one registered handler, optionally scoped to an
// api_version range [Version, EndVersion]. A nil Version/EndVersion means
// the handler answers every api_version (a "wildcard" handler in
// cats/server/handlers.py's terms).
type HandlerItem struct {
	ID         uint16
	Name       string
	Callback   HandlerFunc
	Version    *int
	EndVersion *int
}

func (h HandlerItem) covers(apiVersion int) bool {
	if h.Version == nil && h.EndVersion == nil {
		return true
	}
	if h.Version != nil && apiVersion < *h.Version {
		return false
	}
	if h.EndVersion != nil && apiVersion > *h.EndVersion {
		return false
	}
	return true
}

// Router holds every registered handler, keyed by handler id, each id
// carrying one wildcard item or a non-overlapping, version-ordered list.
type Router struct {
	mu       sync.RWMutex
	handlers map[uint16][]HandlerItem
}

func NewRouter() *Router {
	return &Router{handlers: make(map[uint16][]HandlerItem)}
}

// Register adds item to the router, closing the previous entry's open
// EndVersion at item.Version-1 when the new registration is adjacent,
// exactly as cats/server/handlers.py's Api.register does. It returns an
// error on a version-range or wildcard-mixing violation, since these are
// programming errors caught at startup, not runtime conditions.
func (r *Router) Register(item HandlerItem) error {
	if item.Version != nil && item.EndVersion != nil && *item.Version > *item.EndVersion {
		return fmt.Errorf("catsrouter: invalid version range for handler %d: [%d..%d]", item.ID, *item.Version, *item.EndVersion)
	}
	if (item.Version != nil || item.EndVersion != nil) && item.Version == nil {
		return fmt.Errorf("catsrouter: initial version not provided for handler %d", item.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.handlers[item.ID]

	if item.Version != nil || item.EndVersion != nil {
		if len(existing) > 0 {
			last := &existing[len(existing)-1]
			if last.Version == nil && last.EndVersion == nil {
				return fmt.Errorf("catsrouter: attempted to add versioned handler %d to a wildcard registration", item.ID)
			}
			if last.EndVersion != nil {
				if *last.EndVersion >= *item.Version {
					return fmt.Errorf("catsrouter: handler %d version %d overlaps existing range ending at %d", item.ID, *item.Version, *last.EndVersion)
				}
			} else {
				if *last.Version >= *item.Version {
					return fmt.Errorf("catsrouter: handler %d version %d overlaps existing version %d", item.ID, *item.Version, *last.Version)
				}
				closed := *item.Version - 1
				last.EndVersion = &closed
			}
		}
	} else if len(existing) > 0 {
		return fmt.Errorf("catsrouter: attempted to add wildcard handler %d to an existing registration", item.ID)
	}

	r.handlers[item.ID] = append(existing, item)
	return nil
}

// Lookup returns the handler registered for id whose version range covers
// apiVersion, per §4.6's half-open version-range algorithm.
func (r *Router) Lookup(id uint16, apiVersion int) (HandlerItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, item := range r.handlers[id] {
		if item.covers(apiVersion) {
			return item, true
		}
	}
	return HandlerItem{}, false
}

// IDs returns every registered handler id in ascending order, primarily
// for diagnostics and tests.
func (r *Router) IDs() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint16, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
