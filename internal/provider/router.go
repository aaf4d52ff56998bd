package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// Router maps engine names to implementations, with a fallback engine used
// when the requested name is unknown.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router over backends.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend for engine, falling back to the default.
func (r *Router[T]) Route(engine string) (T, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for engine %q", engine)
}

// Has reports whether engine is registered.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the registered engine names, sorted.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TextEngines selects the completion backend for the text stages. Every
// engine must serve the same provider so credentials resolve the same way.
type TextEngines struct {
	*Router[Adapter]
	engine string
}

// NewTextEngines routes text stages to backends[engine], or to fallback.
func NewTextEngines(backends map[string]Adapter, fallback, engine string) *TextEngines {
	return &TextEngines{Router: NewRouter(backends, fallback), engine: engine}
}

func (t *TextEngines) Provider() credentials.ProviderID { return credentials.OpenAI }

func (t *TextEngines) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	backend, err := t.Route(t.engine)
	if err != nil {
		return nil, err
	}
	return backend.Invoke(ctx, in, cred)
}
