package project

import (
	"fmt"
	"sort"

	"github.com/docbro/docbro/pkg/config"
)

// Factory dispatches project operations to the handler registered for each
// project type. Registration is validated eagerly so a misconfigured
// handler table fails at startup, not on first use.
type Factory struct {
	handlers map[config.ProjectType]Handler
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{handlers: make(map[config.ProjectType]Handler)}
}

// DefaultFactory builds a factory with the three built-in handlers.
func DefaultFactory(deps Deps) (*Factory, error) {
	f := NewFactory()
	for _, h := range []Handler{
		NewCrawlingHandler(deps),
		NewDataHandler(deps),
		NewStorageHandler(deps),
	} {
		if err := f.Register(h); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Register adds a handler, validating that it is instantiable and serves a
// known type that is not already taken.
func (f *Factory) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("cannot register nil handler")
	}
	t := h.Type()
	if !t.Valid() {
		return fmt.Errorf("handler reports unknown project type %q", t)
	}
	if _, exists := f.handlers[t]; exists {
		return fmt.Errorf("handler for type %q already registered", t)
	}
	if defaults := h.DefaultSettings(); len(defaults) == 0 {
		return fmt.Errorf("handler for type %q returns no default settings", t)
	}
	f.handlers[t] = h
	return nil
}

// Get returns the handler for a project type.
func (f *Factory) Get(t config.ProjectType) (Handler, error) {
	h, ok := f.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for project type %q", t)
	}
	return h, nil
}

// Ingestor returns the upload sink for a project type, or ErrNoUploads when
// the type does not accept uploads.
func (f *Factory) Ingestor(t config.ProjectType) (Ingestor, error) {
	h, err := f.Get(t)
	if err != nil {
		return nil, err
	}
	ing, ok := h.(Ingestor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoUploads, t)
	}
	return ing, nil
}

// Types returns the registered types in stable order.
func (f *Factory) Types() []config.ProjectType {
	out := make([]config.ProjectType, 0, len(f.handlers))
	for t := range f.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
