package physical

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/storage"
)

// Factory opens a backend from its merged configuration.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// Driver describes one backend implementation.
type Driver struct {
	Name string
	Open Factory
	// Defaults lie under the operator's configuration.
	Defaults func() map[string]string
	// LocalFile names the backend's file or directory under the node data
	// directory. Empty for remote and in-memory backends.
	LocalFile string
}

var drivers sync.Map // name -> Driver

// Register makes a driver available to New. It panics on a duplicate name.
func Register(d Driver) {
	if _, dup := drivers.LoadOrStore(d.Name, d); dup {
		panic(fmt.Sprintf("statestore backend %q already registered", d.Name))
	}
}

// Lookup returns the driver registered as name.
func Lookup(name string) (Driver, bool) {
	d, ok := drivers.Load(name)
	if !ok {
		return Driver{}, false
	}
	return d.(Driver), true
}

// Names lists registered drivers in order.
func Names() []string {
	var names []string
	drivers.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	slices.Sort(names)
	return names
}

// New opens the named backend with config layered over its defaults.
func New(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (backend Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "statestore.open", attribute.String("backend", name))
	defer func() { op.End(err) }()

	d, ok := Lookup(name)
	if !ok {
		return nil, storage.NewConfigError(name, "", fmt.Sprintf("unknown statestore backend %q (available: %v)", name, Names()))
	}
	var defaults map[string]string
	if d.Defaults != nil {
		defaults = d.Defaults()
	}
	merged := storage.Merge(defaults, config)
	if backend, err = d.Open(ctx, merged); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "statestore backend opened", "backend", name, "options", slices.Sorted(maps.Keys(merged)))
	return backend, nil
}
