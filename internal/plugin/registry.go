package plugin

import (
	"fmt"
	"sort"
	"sync"

	sboxerrors "github.com/kpblcaoo/sboxmgr/pkg/errors"
)

// Kind partitions the registry by plugin role.
type Kind string

const (
	KindFetcher       Kind = "fetcher"
	KindParser        Kind = "parser"
	KindMiddleware    Kind = "middleware"
	KindPostprocessor Kind = "postprocessor"
	KindPolicy        Kind = "policy"
	KindExporter      Kind = "exporter"
	KindRouter        Kind = "router"
	KindRawValidator  Kind = "rawvalidator"
)

// Factory builds a plugin instance from its profile-scoped configuration.
// The concrete return type depends on the kind; callers type-assert.
type Factory func(config map[string]any) (any, error)

type key struct {
	kind Kind
	name string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[key]Factory)
)

// Register adds a factory for (kind, name). Registration happens at startup
// (init or explicit seeding); duplicate registration is an error.
func Register(kind Kind, name string, factory Factory) error {
	if factory == nil {
		return sboxerrors.NewPluginError(string(kind)+"/"+name, fmt.Errorf("factory is nil"))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	k := key{kind: kind, name: name}
	if _, exists := registry[k]; exists {
		return sboxerrors.NewPluginError(string(kind)+"/"+name, fmt.Errorf("plugin already registered"))
	}

	registry[k] = factory
	return nil
}

// MustRegister registers or panics; intended for init-time seeding where a
// duplicate means a programming error.
func MustRegister(kind Kind, name string, factory Factory) {
	if err := Register(kind, name, factory); err != nil {
		panic(err)
	}
}

// Lookup retrieves a factory by (kind, name).
func Lookup(kind Kind, name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := registry[key{kind: kind, name: name}]
	if !ok {
		return nil, sboxerrors.NewPluginError(string(kind)+"/"+name, fmt.Errorf("no plugin registered"))
	}

	return factory, nil
}

// New builds a plugin instance directly.
func New(kind Kind, name string, config map[string]any) (any, error) {
	factory, err := Lookup(kind, name)
	if err != nil {
		return nil, err
	}
	instance, err := factory(config)
	if err != nil {
		return nil, sboxerrors.NewPluginError(string(kind)+"/"+name, err)
	}
	return instance, nil
}

// Names lists registered plugin names for a kind, sorted.
func Names(kind Kind) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var names []string
	for k := range registry {
		if k.kind == kind {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Reset clears all registrations (for tests).
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[key]Factory)
}
