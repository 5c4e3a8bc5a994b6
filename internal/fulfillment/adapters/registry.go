package adapters

import (
	"strings"

	"github.com/simbridge/simbridge/internal/fulfillment/domain"
)

// Registry maps provider slugs to vendor adapters. Dispatch is closed: a
// provider row with no registered adapter is a non-retryable failure, not a
// dynamic lookup.
type Registry struct {
	adapters map[string]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{adapters: map[string]domain.Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		slug := strings.ToLower(strings.TrimSpace(adapter.Slug()))
		if slug == "" {
			continue
		}
		registry.adapters[slug] = adapter
	}
	return registry
}

func (r *Registry) Get(slug string) (domain.Adapter, bool) {
	if r == nil {
		return nil, false
	}
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(slug))]
	return adapter, ok
}

func (r *Registry) Slugs() []string {
	if r == nil {
		return nil
	}
	slugs := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		slugs = append(slugs, slug)
	}
	return slugs
}
