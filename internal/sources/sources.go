// Package sources defines the marketplace adapter contract and the
// registry the pipeline iterates. Adapters stay dumb: they turn pages into
// IndexResult/DetailResult payloads and leave dedup, scoring and
// persistence to the pipeline.
package sources

import (
	"context"
	"sort"
	"sync"

	"github.com/vigiauto/vigiauto/internal/domain"
)

// IndexScraper scans listing index pages, the cheap phase of a scan.
type IndexScraper interface {
	ScanIndex(ctx context.Context, maxPages int) ([]domain.IndexResult, error)
}

// DetailScraper fetches one listing page for the expensive fields
// (description, images, seller).
type DetailScraper interface {
	FetchDetail(ctx context.Context, url string) (*domain.DetailResult, error)
}

// Source is a complete marketplace adapter.
type Source interface {
	IndexScraper
	DetailScraper
	Name() domain.Source
}

// Registry holds the registered adapters keyed by source id. Registering
// the same id twice replaces the previous adapter.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.Source]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[domain.Source]Source)}
}

func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

func (r *Registry) Get(name domain.Source) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Names returns the registered source ids in stable order.
func (r *Registry) Names() []domain.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.Source, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// All returns the registered adapters ordered by source id.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.Source, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	all := make([]Source, 0, len(names))
	for _, name := range names {
		all = append(all, r.sources[name])
	}
	return all
}
