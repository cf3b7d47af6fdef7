// Package registry keeps named factories for formatters, forwarders,
// reporters, runners and deciders. Packages list their own built-ins with
// With; the binaries register forwarders explicitly at startup.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Registry[F any] struct {
	kind string

	mu        sync.RWMutex
	factories map[string]F
}

func New[F any](kind string) *Registry[F] {
	return &Registry[F]{kind: kind, factories: map[string]F{}}
}

// Register adds a factory. Registering the same name twice panics: it is a
// programming error caught at startup.
func (r *Registry[F]) Register(name string, f F) {
	name = normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("%s %q registered twice", r.kind, name))
	}
	r.factories[name] = f
}

// With registers f and returns r, for building a registry in a var block.
func (r *Registry[F]) With(name string, f F) *Registry[F] {
	r.Register(name, f)
	return r
}

func (r *Registry[F]) Lookup(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[normalize(name)]
	return f, ok
}

func (r *Registry[F]) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

func (r *Registry[F]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry[F]) Kind() string { return r.kind }

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
