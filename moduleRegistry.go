package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Module is a fetched module. Source holds the raw response; Exports is
// filled for JSON modules (under "default").
type Module struct {
	Path        string
	Attributes  map[string]string
	Version     string
	ContentType string
	Source      []byte
	Exports     map[string]any
}

// Importer fetches a fresh copy of a module. cacheBuster is unique per call
// and must defeat any intermediate cache.
type Importer interface {
	Import(ctx context.Context, path string, attributes map[string]string, cacheBuster string) (*Module, error)
}

type ImporterFunc func(ctx context.Context, path string, attributes map[string]string, cacheBuster string) (*Module, error)

func (f ImporterFunc) Import(ctx context.Context, path string, attributes map[string]string, cacheBuster string) (*Module, error) {
	return f(ctx, path, attributes, cacheBuster)
}

// ReloadCallback re-runs the imports of a dependent module.
type ReloadCallback func(ctx context.Context) error

type pendingModule struct {
	done   chan struct{}
	module *Module
	err    error
}

func (p *pendingModule) wait(ctx context.Context) (*Module, error) {
	select {
	case <-p.done:
		return p.module, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type reloadRegistration struct {
	id       uint64
	callback ReloadCallback
}

type RegistryOption func(*ModuleRegistry)

// WithCache enables or disables the module cache. Enabled by default.
func WithCache(enabled bool) RegistryOption {
	return func(r *ModuleRegistry) {
		r.cache = enabled
	}
}

// WithCacheBuster replaces the default time based cache-buster token.
func WithCacheBuster(next func() string) RegistryOption {
	return func(r *ModuleRegistry) {
		r.cacheBuster = next
	}
}

func WithRegistryMetrics(metrics *Metrics) RegistryOption {
	return func(r *ModuleRegistry) {
		r.metrics = metrics
	}
}

// ModuleRegistry caches modules by (path, attributes) and keeps the reload
// callbacks of the modules that import them.
type ModuleRegistry struct {
	importer    Importer
	cache       bool
	cacheBuster func() string
	metrics     *Metrics

	mu        sync.Mutex
	modules   map[string]map[string]*pendingModule
	callbacks map[string][]reloadRegistration
	nextID    uint64
}

func NewModuleRegistry(importer Importer, opts ...RegistryOption) *ModuleRegistry {
	r := &ModuleRegistry{
		importer:    importer,
		cache:       true,
		cacheBuster: newCacheBuster(),
		modules:     map[string]map[string]*pendingModule{},
		callbacks:   map[string][]reloadRegistration{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newCacheBuster returns a generator of strictly increasing unix millisecond
// tokens, so two fetches in the same millisecond still differ.
func newCacheBuster() func() string {
	var last atomic.Int64
	return func() string {
		for {
			prev := last.Load()
			next := time.Now().UnixMilli()
			if next <= prev {
				next = prev + 1
			}
			if last.CompareAndSwap(prev, next) {
				return strconv.FormatInt(next, 10)
			}
		}
	}
}

// attributesKey serializes attributes with sorted keys; "" when empty.
func attributesKey(attributes map[string]string) string {
	if len(attributes) == 0 {
		return ""
	}
	// encoding/json sorts map keys
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Sprint(attributes)
	}
	return string(encoded)
}

func (r *ModuleRegistry) countImport(result string) {
	if r.metrics != nil {
		r.metrics.ModuleImports.WithLabelValues(result).Inc()
	}
}

// Get returns the module at path. Concurrent calls for the same key share a
// single fetch. A failed fetch is not cached.
func (r *ModuleRegistry) Get(ctx context.Context, path string, attributes map[string]string) (*Module, error) {
	key := canonicalKey(path)
	attrsKey := attributesKey(attributes)

	r.mu.Lock()
	if r.cache {
		if pending, ok := r.modules[key][attrsKey]; ok {
			r.mu.Unlock()
			r.countImport("cached")
			return pending.wait(ctx)
		}
	}
	pending := &pendingModule{done: make(chan struct{})}
	if r.cache {
		if r.modules[key] == nil {
			r.modules[key] = map[string]*pendingModule{}
		}
		r.modules[key][attrsKey] = pending
	}
	r.mu.Unlock()

	module, err := r.importer.Import(ctx, key, attributes, r.cacheBuster())
	if err != nil {
		err = fmt.Errorf("failed to import %s: %w", key, err)
		r.countImport("error")
	} else {
		r.countImport("fetched")
	}
	pending.module, pending.err = module, err
	close(pending.done)

	if err != nil && r.cache {
		r.mu.Lock()
		if r.modules[key][attrsKey] == pending {
			delete(r.modules[key], attrsKey)
		}
		r.mu.Unlock()
	}

	return module, err
}

// OnReload registers callback for path. The returned function removes
// exactly this registration.
func (r *ModuleRegistry) OnReload(path string, callback ReloadCallback) func() {
	key := canonicalKey(path)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.callbacks[key] = append(r.callbacks[key], reloadRegistration{id: id, callback: callback})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			registrations := r.callbacks[key]
			for i, registration := range registrations {
				if registration.id == id {
					r.callbacks[key] = append(registrations[:i:i], registrations[i+1:]...)
					break
				}
			}
			if len(r.callbacks[key]) == 0 {
				delete(r.callbacks, key)
			}
		})
	}
}

// Invalidate drops every cached attribute variant of path.
func (r *ModuleRegistry) Invalidate(path string) {
	key := canonicalKey(path)
	r.mu.Lock()
	delete(r.modules, key)
	r.mu.Unlock()
}

// Reload invalidates path, then calls its callbacks in registration order.
// It returns the number of callbacks called. Callbacks registered or removed
// while reloading do not affect this call.
func (r *ModuleRegistry) Reload(ctx context.Context, path string) (int, error) {
	key := canonicalKey(path)
	r.Invalidate(key)

	r.mu.Lock()
	snapshot := make([]reloadRegistration, len(r.callbacks[key]))
	copy(snapshot, r.callbacks[key])
	r.mu.Unlock()

	var errs []error
	for _, registration := range snapshot {
		if err := registration.callback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return len(snapshot), errors.Join(errs...)
}

// CallbackCount returns the number of reload callbacks registered for path.
func (r *ModuleRegistry) CallbackCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks[canonicalKey(path)])
}

// HTTPImporter fetches modules from a running dev server.
type HTTPImporter struct {
	BaseURL string
	Client  *http.Client
}

func (h HTTPImporter) Import(ctx context.Context, path string, attributes map[string]string, cacheBuster string) (*Module, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimSuffix(h.BaseURL, "/") + servedURL(path) + "?noCache=" + cacheBuster

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}

	module := &Module{
		Path:        path,
		Attributes:  attributes,
		Version:     cacheBuster,
		ContentType: resp.Header.Get("Content-Type"),
		Source:      body,
	}
	if attributes["type"] == "json" {
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			return nil, fmt.Errorf("invalid JSON module %s: %w", path, err)
		}
		module.Exports = map[string]any{"default": value}
	}
	return module, nil
}
