package source

import (
	"context"
	"fmt"
	"time"

	"RegAlertScanner/internal/domain"
)

// FetchRequest carries all parameters required to execute a fetch.
type FetchRequest struct {
	Since   time.Time
	Options map[string]string
}

// Adapter captures a single agency integration (FSA, EPA, etc.). An
// adapter issues the network calls, walks pagination, and maps the
// agency response into normalized candidates. It may retry a transient
// network error once; any further retry policy belongs to the caller.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]domain.NormalizedCandidate, error)
}

// Registry keeps a mapping from adapter names to their implementations.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("adapter %s is not registered", name)
}
