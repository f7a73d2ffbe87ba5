package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

type fullReloadRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (f *fullReloadRecorder) reload(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func returning(result Acceptance) HotCallback {
	return func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		return result, nil
	}
}

func TestTriggerAcceptanceAggregation(t *testing.T) {
	tests := []struct {
		name             string
		mode             AcceptMode
		results          []Acceptance
		expectedAccepted bool
	}{
		{"every with one rejection", AcceptEvery, []Acceptance{Accepted, Accepted, NotAccepted}, false},
		{"every all accepted", AcceptEvery, []Acceptance{Accepted, Accepted, Accepted}, true},
		{"some with one acceptance", AcceptSome, []Acceptance{NotAccepted, NotAccepted, Accepted}, true},
		{"some none accepted", AcceptSome, []Acceptance{NotAccepted, NotAccepted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &fullReloadRecorder{}
			hot := NewHotReload(nil, WithAcceptMode(tt.mode), WithFullReload(recorder.reload))
			for _, result := range tt.results {
				hot.Subscribe("./mod.js", returning(result), SubscriptionMeta{})
			}

			accepted, err := hot.Trigger(context.Background(), "/mod.js")

			assert.NilError(t, err)
			assert.Equal(t, accepted, tt.expectedAccepted)
			if tt.expectedAccepted {
				assert.Equal(t, len(recorder.paths), 0)
			} else {
				assert.DeepEqual(t, recorder.paths, []string{"./mod.js"})
			}
		})
	}
}

func TestTriggerUnregisteredPath(t *testing.T) {
	recorder := &fullReloadRecorder{}
	hot := NewHotReload(nil, WithFullReload(recorder.reload))

	accepted, err := hot.Trigger(context.Background(), "./nobody.js")

	assert.NilError(t, err)
	assert.Assert(t, !accepted)
	assert.DeepEqual(t, recorder.paths, []string{"./nobody.js"})
}

func TestTriggerWithoutFallback(t *testing.T) {
	recorder := &fullReloadRecorder{}
	hot := NewHotReload(nil, WithFullReload(recorder.reload), WithFullReloadFallback(false))
	hot.Subscribe("./mod.js", returning(NotAccepted), SubscriptionMeta{})

	accepted, err := hot.Trigger(context.Background(), "./mod.js")

	assert.NilError(t, err)
	assert.Assert(t, !accepted)
	assert.Equal(t, len(recorder.paths), 0)
}

func TestTriggerCallbackErrorForcesFallback(t *testing.T) {
	recorder := &fullReloadRecorder{}
	errImport := errors.New("module failed to load")
	hot := NewHotReload(nil, WithFullReload(recorder.reload))
	hot.Subscribe("./mod.js", returning(Accepted), SubscriptionMeta{})
	hot.Subscribe("./mod.js", func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		return Accepted, errImport
	}, SubscriptionMeta{})

	accepted, err := hot.Trigger(context.Background(), "./mod.js")

	assert.Assert(t, errors.Is(err, errImport))
	assert.Assert(t, !accepted)
	assert.DeepEqual(t, recorder.paths, []string{"./mod.js"})
}

func TestTriggerPassesMeta(t *testing.T) {
	hot := NewHotReload(nil)
	var got SubscriptionMeta
	hot.Subscribe("./data.json", func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		got = meta
		return Accepted, nil
	}, SubscriptionMeta{Attributes: map[string]string{"type": "json"}})

	accepted, err := hot.Trigger(context.Background(), "./data.json")

	assert.NilError(t, err)
	assert.Assert(t, accepted)
	assert.DeepEqual(t, got.Attributes, map[string]string{"type": "json"})
}

func TestUnsubscribe(t *testing.T) {
	hot := NewHotReload(nil)
	calls := 0
	first := hot.Subscribe("./mod.js", func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		calls++
		return NotAccepted, nil
	}, SubscriptionMeta{})
	hot.Subscribe("./mod.js", returning(Accepted), SubscriptionMeta{})

	hot.Unsubscribe("./unknown.js", first)
	hot.Unsubscribe("/mod.js", first)

	assert.Equal(t, hot.SubscriberCount("./mod.js"), 1)
	accepted, err := hot.Trigger(context.Background(), "./mod.js")
	assert.NilError(t, err)
	assert.Assert(t, accepted)
	assert.Equal(t, calls, 0)
}

func TestUnsubscribeLastLeavesPathUnregistered(t *testing.T) {
	recorder := &fullReloadRecorder{}
	hot := NewHotReload(nil, WithFullReload(recorder.reload))
	id := hot.Subscribe("./mod.js", returning(Accepted), SubscriptionMeta{})

	hot.Unsubscribe("./mod.js", id)

	accepted, err := hot.Trigger(context.Background(), "./mod.js")
	assert.NilError(t, err)
	assert.Assert(t, !accepted)
	assert.Equal(t, hot.SubscriberCount("./mod.js"), 0)
}

func TestTriggerInvalidatesRegistryBeforeCallbacks(t *testing.T) {
	importer := &recordingImporter{}
	registry := NewModuleRegistry(importer)
	hot := NewHotReload(registry)
	ctx := context.Background()

	initial, err := registry.Get(ctx, "./mod.js", nil)
	assert.NilError(t, err)

	var received *Module
	hot.SubscribeModule("./mod.js", nil, func(ctx context.Context, module *Module) (Acceptance, error) {
		received = module
		return Accepted, nil
	})

	accepted, err := hot.Trigger(ctx, "./mod.js")

	assert.NilError(t, err)
	assert.Assert(t, accepted)
	assert.Assert(t, received != nil)
	assert.Assert(t, received != initial)
	assert.Assert(t, received.Version != initial.Version)
	assert.Equal(t, importer.callCount(), 2)
}

func TestSubscribeModuleWithAttributes(t *testing.T) {
	importer := &recordingImporter{}
	hot := NewHotReload(NewModuleRegistry(importer))

	hot.SubscribeModule("./data.json", map[string]string{"type": "json"}, func(ctx context.Context, module *Module) (Acceptance, error) {
		return Accepted, nil
	})

	accepted, err := hot.Trigger(context.Background(), "./data.json")

	assert.NilError(t, err)
	assert.Assert(t, accepted)
	assert.DeepEqual(t, importer.calls, []string{`./data.json{"type":"json"}`})
}

func TestSubscribeModuleImportErrorIsReturned(t *testing.T) {
	errMissing := errors.New("missing export")
	importer := &recordingImporter{fail: map[string]error{"./mod.js": errMissing}}
	recorder := &fullReloadRecorder{}
	hot := NewHotReload(NewModuleRegistry(importer), WithFullReload(recorder.reload))

	hot.SubscribeModule("./mod.js", nil, func(ctx context.Context, module *Module) (Acceptance, error) {
		return Accepted, nil
	})

	accepted, err := hot.Trigger(context.Background(), "./mod.js")

	assert.Assert(t, errors.Is(err, errMissing))
	assert.Assert(t, !accepted)
	assert.DeepEqual(t, recorder.paths, []string{"./mod.js"})
}

func TestTriggerRunsCallbacksConcurrently(t *testing.T) {
	hot := NewHotReload(nil)
	var started sync.WaitGroup
	started.Add(2)
	blocking := func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		started.Done()
		// both callbacks must be running for either to finish
		started.Wait()
		return Accepted, nil
	}
	hot.Subscribe("./mod.js", blocking, SubscriptionMeta{})
	hot.Subscribe("./mod.js", blocking, SubscriptionMeta{})

	accepted, err := hot.Trigger(context.Background(), "./mod.js")

	assert.NilError(t, err)
	assert.Assert(t, accepted)
}

func TestParseAcceptMode(t *testing.T) {
	mode, err := ParseAcceptMode("")
	assert.NilError(t, err)
	assert.Equal(t, mode, AcceptEvery)

	mode, err = ParseAcceptMode("some")
	assert.NilError(t, err)
	assert.Equal(t, mode, AcceptSome)

	_, err = ParseAcceptMode("most")
	assert.ErrorContains(t, err, "unknown accept mode")
}

func TestReloadMetrics(t *testing.T) {
	metrics := NewMetrics()
	hot := NewHotReload(nil, WithReloadMetrics(metrics))
	hot.Subscribe("./a.js", returning(Accepted), SubscriptionMeta{})

	_, _ = hot.Trigger(context.Background(), "./a.js")
	_, _ = hot.Trigger(context.Background(), "./b.js")

	families, err := metrics.Registry().Gather()
	assert.NilError(t, err)
	found := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "hotserve_reload_triggers_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			found[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.DeepEqual(t, found, map[string]float64{"accepted": 1, "unregistered": 1})
}

func TestTriggerRefreshesBindingsBeforeSubscribers(t *testing.T) {
	registry := NewModuleRegistry(&recordingImporter{})
	hot := NewHotReload(registry)
	ctx := context.Background()

	order := []string{}
	registry.OnReload("./mod.js", func(ctx context.Context) error {
		order = append(order, "binding")
		return nil
	})
	hot.Subscribe("./mod.js", func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		order = append(order, "subscriber")
		return Accepted, nil
	}, SubscriptionMeta{})

	accepted, err := hot.Trigger(ctx, "./mod.js")

	assert.NilError(t, err)
	assert.Assert(t, accepted)
	assert.DeepEqual(t, order, []string{"binding", "subscriber"})
}

func TestTriggerBindingErrorForcesFallback(t *testing.T) {
	recorder := &fullReloadRecorder{}
	registry := NewModuleRegistry(&recordingImporter{})
	hot := NewHotReload(registry, WithFullReload(recorder.reload))
	called := false

	registry.OnReload("./mod.js", func(ctx context.Context) error {
		return errors.New("binding failed")
	})
	hot.Subscribe("./mod.js", func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		called = true
		return Accepted, nil
	}, SubscriptionMeta{})

	accepted, err := hot.Trigger(context.Background(), "./mod.js")

	assert.ErrorContains(t, err, "hot reload of ./mod.js: binding failed")
	assert.Assert(t, !accepted)
	assert.Assert(t, !called)
	assert.DeepEqual(t, recorder.paths, []string{"./mod.js"})
}

func TestTriggerCountsBindingsAsAccepting(t *testing.T) {
	tests := []struct {
		name             string
		mode             AcceptMode
		subscribers      []Acceptance
		expectedAccepted bool
	}{
		{"binding only", AcceptEvery, nil, true},
		{"every with rejecting subscriber", AcceptEvery, []Acceptance{NotAccepted}, false},
		{"some with rejecting subscriber", AcceptSome, []Acceptance{NotAccepted}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &fullReloadRecorder{}
			registry := NewModuleRegistry(&recordingImporter{})
			hot := NewHotReload(registry, WithAcceptMode(tt.mode), WithFullReload(recorder.reload))
			registry.OnReload("./mod.js", func(ctx context.Context) error { return nil })
			for _, result := range tt.subscribers {
				hot.Subscribe("./mod.js", returning(result), SubscriptionMeta{})
			}

			accepted, err := hot.Trigger(context.Background(), "./mod.js")

			assert.NilError(t, err)
			assert.Equal(t, accepted, tt.expectedAccepted)
			assert.Equal(t, len(recorder.paths) == 0, tt.expectedAccepted)
		})
	}
}
