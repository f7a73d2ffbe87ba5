package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"gotest.tools/v3/assert"
)

type recordingImporter struct {
	mu           sync.Mutex
	calls        []string
	cacheBusters []string
	fail         map[string]error
	release      chan struct{}
}

func (r *recordingImporter) Import(ctx context.Context, path string, attributes map[string]string, cacheBuster string) (*Module, error) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	r.calls = append(r.calls, path+attributesKey(attributes))
	r.cacheBusters = append(r.cacheBusters, cacheBuster)
	err := r.fail[path]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Module{Path: path, Attributes: attributes, Version: cacheBuster}, nil
}

func (r *recordingImporter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestRegistryCachesByPathAndAttributes(t *testing.T) {
	importer := &recordingImporter{}
	registry := NewModuleRegistry(importer)
	ctx := context.Background()

	first, err := registry.Get(ctx, "/src/a.js", nil)
	assert.NilError(t, err)
	second, err := registry.Get(ctx, "./src/a.js", nil)
	assert.NilError(t, err)
	jsonVariant, err := registry.Get(ctx, "./src/a.js", map[string]string{"type": "json"})
	assert.NilError(t, err)

	assert.Assert(t, first == second)
	assert.Assert(t, first != jsonVariant)
	assert.DeepEqual(t, importer.calls, []string{"./src/a.js", `./src/a.js{"type":"json"}`})
}

func TestRegistryReloadInvalidatesBeforeCallbacks(t *testing.T) {
	importer := &recordingImporter{}
	registry := NewModuleRegistry(importer)
	ctx := context.Background()

	before, err := registry.Get(ctx, "./mod.js", nil)
	assert.NilError(t, err)
	_, err = registry.Get(ctx, "./mod.js", map[string]string{"type": "json"})
	assert.NilError(t, err)

	var reloaded *Module
	registry.OnReload("./mod.js", func(ctx context.Context) error {
		var err error
		reloaded, err = registry.Get(ctx, "./mod.js", nil)
		return err
	})

	called, err := registry.Reload(ctx, "/mod.js")
	assert.NilError(t, err)
	assert.Equal(t, called, 1)

	assert.Assert(t, reloaded != nil)
	assert.Assert(t, reloaded != before)
	assert.Assert(t, reloaded.Version != before.Version)
	assert.Equal(t, importer.callCount(), 3)

	// the json variant was dropped as well
	_, err = registry.Get(ctx, "./mod.js", map[string]string{"type": "json"})
	assert.NilError(t, err)
	assert.Equal(t, importer.callCount(), 4)
}

func TestRegistryCallbacksRunInRegistrationOrder(t *testing.T) {
	registry := NewModuleRegistry(&recordingImporter{})
	var order []int

	for i := 0; i < 3; i++ {
		registry.OnReload("./mod.js", func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	called, err := registry.Reload(context.Background(), "./mod.js")
	assert.NilError(t, err)
	assert.Equal(t, called, 3)
	assert.DeepEqual(t, order, []int{0, 1, 2})
}

func TestRegistryUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	registry := NewModuleRegistry(&recordingImporter{})
	var calls []string

	removeFirst := registry.OnReload("./mod.js", func(ctx context.Context) error {
		calls = append(calls, "first")
		return nil
	})
	registry.OnReload("./mod.js", func(ctx context.Context) error {
		calls = append(calls, "second")
		return nil
	})

	removeFirst()
	removeFirst()

	assert.Equal(t, registry.CallbackCount("./mod.js"), 1)
	_, err := registry.Reload(context.Background(), "./mod.js")
	assert.NilError(t, err)
	assert.DeepEqual(t, calls, []string{"second"})
}

func TestRegistryReloadJoinsErrors(t *testing.T) {
	registry := NewModuleRegistry(&recordingImporter{})
	errFirst := errors.New("first failed")
	errSecond := errors.New("second failed")
	ran := 0

	registry.OnReload("./mod.js", func(ctx context.Context) error { ran++; return errFirst })
	registry.OnReload("./mod.js", func(ctx context.Context) error { ran++; return errSecond })

	called, err := registry.Reload(context.Background(), "./mod.js")

	assert.Equal(t, called, 2)
	assert.Equal(t, ran, 2)
	assert.Assert(t, errors.Is(err, errFirst))
	assert.Assert(t, errors.Is(err, errSecond))
}

func TestRegistryFailedImportIsNotCached(t *testing.T) {
	errBoom := errors.New("boom")
	importer := &recordingImporter{fail: map[string]error{"./broken.js": errBoom}}
	registry := NewModuleRegistry(importer)
	ctx := context.Background()

	_, err := registry.Get(ctx, "./broken.js", nil)
	assert.Assert(t, errors.Is(err, errBoom))

	importer.mu.Lock()
	delete(importer.fail, "./broken.js")
	importer.mu.Unlock()

	module, err := registry.Get(ctx, "./broken.js", nil)
	assert.NilError(t, err)
	assert.Equal(t, module.Path, "./broken.js")
	assert.Equal(t, importer.callCount(), 2)
}

func TestRegistryConcurrentGetsShareOneImport(t *testing.T) {
	importer := &recordingImporter{release: make(chan struct{})}
	registry := NewModuleRegistry(importer)
	ctx := context.Background()

	first := make(chan *Module)
	go func() {
		module, _ := registry.Get(ctx, "./slow.js", nil)
		first <- module
	}()

	// wait until the first fetch is registered as pending
	for {
		registry.mu.Lock()
		_, pending := registry.modules["./slow.js"][""]
		registry.mu.Unlock()
		if pending {
			break
		}
	}

	second := make(chan *Module)
	go func() {
		module, _ := registry.Get(ctx, "./slow.js", nil)
		second <- module
	}()

	close(importer.release)
	a, b := <-first, <-second

	assert.Assert(t, a != nil)
	assert.Assert(t, a == b)
	assert.Equal(t, importer.callCount(), 1)
}

func TestRegistryWithoutCacheAlwaysImports(t *testing.T) {
	importer := &recordingImporter{}
	registry := NewModuleRegistry(importer, WithCache(false))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := registry.Get(ctx, "./mod.js", nil)
		assert.NilError(t, err)
	}

	assert.Equal(t, importer.callCount(), 3)
}

func TestRegistryCacheBusterIsFresh(t *testing.T) {
	next := newCacheBuster()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		token := next()
		assert.Assert(t, !seen[token], "duplicate cache buster %s", token)
		seen[token] = true
	}
}

func TestRegistryCustomCacheBuster(t *testing.T) {
	var counter atomic.Int32
	importer := &recordingImporter{}
	registry := NewModuleRegistry(importer, WithCacheBuster(func() string {
		return fmt.Sprintf("v%d", counter.Add(1))
	}))
	ctx := context.Background()

	_, err := registry.Get(ctx, "./a.js", nil)
	assert.NilError(t, err)
	_, err = registry.Reload(ctx, "./a.js")
	assert.NilError(t, err)
	_, err = registry.Get(ctx, "./a.js", nil)
	assert.NilError(t, err)

	assert.DeepEqual(t, importer.cacheBusters, []string{"v1", "v2"})
}

func TestRegistryMetrics(t *testing.T) {
	metrics := NewMetrics()
	registry := NewModuleRegistry(&recordingImporter{}, WithRegistryMetrics(metrics))
	ctx := context.Background()

	_, _ = registry.Get(ctx, "./a.js", nil)
	_, _ = registry.Get(ctx, "./a.js", nil)

	families, err := metrics.Registry().Gather()
	assert.NilError(t, err)
	found := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "hotserve_module_imports_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			found[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.DeepEqual(t, found, map[string]float64{"fetched": 1, "cached": 1})
}

func TestHTTPImporter(t *testing.T) {
	var requested []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.RequestURI())
		switch r.URL.Path {
		case "/data.json":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"answer":42}`)
		case "/app.js":
			w.Header().Set("Content-Type", "text/javascript")
			fmt.Fprint(w, "export const a = 1;")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	importer := HTTPImporter{BaseURL: server.URL + "/"}
	ctx := context.Background()

	module, err := importer.Import(ctx, "./app.js", nil, "123")
	assert.NilError(t, err)
	assert.Equal(t, string(module.Source), "export const a = 1;")
	assert.Equal(t, module.Version, "123")

	data, err := importer.Import(ctx, "./data.json", map[string]string{"type": "json"}, "124")
	assert.NilError(t, err)
	assert.DeepEqual(t, data.Exports, map[string]any{"default": map[string]any{"answer": float64(42)}})

	_, err = importer.Import(ctx, "./missing.js", nil, "125")
	assert.ErrorContains(t, err, "404")

	assert.DeepEqual(t, requested, []string{"/app.js?noCache=123", "/data.json?noCache=124", "/missing.js?noCache=125"})
}
