package main

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Acceptance is a subscriber's answer to a change of the module it watches.
type Acceptance uint8

const (
	NotAccepted Acceptance = iota
	Accepted
)

func (a Acceptance) String() string {
	if a == Accepted {
		return "accepted"
	}
	return "not accepted"
}

type AcceptMode uint8

const (
	// AcceptEvery accepts a change only when every subscriber accepts it.
	AcceptEvery AcceptMode = iota
	// AcceptSome accepts a change when at least one subscriber accepts it.
	AcceptSome
)

func (m AcceptMode) String() string {
	if m == AcceptSome {
		return "some"
	}
	return "every"
}

func ParseAcceptMode(value string) (AcceptMode, error) {
	switch value {
	case "", "every":
		return AcceptEvery, nil
	case "some":
		return AcceptSome, nil
	}
	return AcceptEvery, fmt.Errorf("unknown accept mode %q, expected \"every\" or \"some\"", value)
}

type SubscriptionID uint64

// SubscriptionMeta is handed back to the callback on every trigger.
type SubscriptionMeta struct {
	Attributes map[string]string
	Values     map[string]any
}

type HotCallback func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error)

// ModuleCallback receives the freshly imported module of a SubscribeModule
// subscription.
type ModuleCallback func(ctx context.Context, module *Module) (Acceptance, error)

type subscription struct {
	id       SubscriptionID
	callback HotCallback
	meta     SubscriptionMeta
}

type HotReloadOption func(*HotReload)

func WithAcceptMode(mode AcceptMode) HotReloadOption {
	return func(h *HotReload) {
		h.acceptMode = mode
	}
}

// WithFullReloadFallback toggles the full reload when a change is not
// accepted. Enabled by default.
func WithFullReloadFallback(enabled bool) HotReloadOption {
	return func(h *HotReload) {
		h.fullReloadFallback = enabled
	}
}

// WithFullReload sets the action performed on fallback.
func WithFullReload(fullReload func(canonicalPath string)) HotReloadOption {
	return func(h *HotReload) {
		h.fullReload = fullReload
	}
}

func WithReloadMetrics(metrics *Metrics) HotReloadOption {
	return func(h *HotReload) {
		h.metrics = metrics
	}
}

// HotReload decides whether a change to a module is absorbed by its
// subscribers or needs a full reload.
type HotReload struct {
	registry           *ModuleRegistry
	acceptMode         AcceptMode
	fullReloadFallback bool
	fullReload         func(canonicalPath string)
	metrics            *Metrics

	mu            sync.Mutex
	subscriptions map[string][]subscription
	nextID        SubscriptionID
}

// NewHotReload creates a protocol instance. registry may be nil when the
// subscribers fetch modules themselves.
func NewHotReload(registry *ModuleRegistry, opts ...HotReloadOption) *HotReload {
	h := &HotReload{
		registry:           registry,
		acceptMode:         AcceptEvery,
		fullReloadFallback: true,
		fullReload:         func(string) {},
		subscriptions:      map[string][]subscription{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HotReload) AcceptMode() AcceptMode {
	return h.acceptMode
}

// Subscribe registers callback for url and returns the id needed to remove it.
func (h *HotReload) Subscribe(url string, callback HotCallback, meta SubscriptionMeta) SubscriptionID {
	key := canonicalKey(url)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subscriptions[key] = append(h.subscriptions[key], subscription{id: h.nextID, callback: callback, meta: meta})
	return h.nextID
}

// SubscribeModule re-imports url (with attributes) through the registry on
// every trigger and passes the fresh module to callback.
func (h *HotReload) SubscribeModule(url string, attributes map[string]string, callback ModuleCallback) SubscriptionID {
	key := canonicalKey(url)
	wrapped := func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
		if h.registry == nil {
			return NotAccepted, fmt.Errorf("no module registry to import %s", key)
		}
		module, err := h.registry.Get(ctx, key, meta.Attributes)
		if err != nil {
			return NotAccepted, err
		}
		return callback(ctx, module)
	}
	return h.Subscribe(url, wrapped, SubscriptionMeta{Attributes: attributes})
}

// Unsubscribe removes a registration. Unknown urls and ids are ignored.
func (h *HotReload) Unsubscribe(url string, id SubscriptionID) {
	key := canonicalKey(url)

	h.mu.Lock()
	defer h.mu.Unlock()
	subscriptions, ok := h.subscriptions[key]
	if !ok {
		return
	}
	subscriptions = slices.DeleteFunc(slices.Clone(subscriptions), func(s subscription) bool {
		return s.id == id
	})
	if len(subscriptions) == 0 {
		delete(h.subscriptions, key)
		return
	}
	h.subscriptions[key] = subscriptions
}

// SubscriberCount returns the number of registrations for url.
func (h *HotReload) SubscriberCount(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscriptions[canonicalKey(url)])
}

func aggregate(mode AcceptMode, results []Acceptance) bool {
	switch mode {
	case AcceptSome:
		return slices.Contains(results, Accepted)
	default:
		return !slices.Contains(results, NotAccepted)
	}
}

func (h *HotReload) record(outcome string) {
	if h.metrics != nil {
		h.metrics.ReloadTriggers.WithLabelValues(outcome).Inc()
	}
}

// Trigger reloads url in the registry, which refreshes the bindings
// registered with OnReload, then runs its subscribers concurrently. Every
// refreshed binding counts as an accepting subscriber. It reports whether
// the change was accepted. A url with neither bindings nor subscribers is not
// accepted. A binding or subscriber error is returned and forces the
// fallback. When not accepted and the fallback is enabled, the full reload
// action runs before Trigger returns.
func (h *HotReload) Trigger(ctx context.Context, url string) (bool, error) {
	key := canonicalKey(url)

	bindings := 0
	if h.registry != nil {
		called, err := h.registry.Reload(ctx, key)
		if err != nil {
			h.record("error")
			h.fallback(key)
			return false, fmt.Errorf("hot reload of %s: %w", key, err)
		}
		bindings = called
	}

	h.mu.Lock()
	snapshot := slices.Clone(h.subscriptions[key])
	h.mu.Unlock()

	if len(snapshot) == 0 && bindings == 0 {
		h.record("unregistered")
		h.fallback(key)
		return false, nil
	}

	results := make([]Acceptance, bindings+len(snapshot))
	for i := range bindings {
		results[i] = Accepted
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for i, sub := range snapshot {
		group.Go(func() error {
			result, err := sub.callback(groupCtx, sub.meta)
			if err != nil {
				return fmt.Errorf("hot reload of %s: %w", key, err)
			}
			results[bindings+i] = result
			return nil
		})
	}
	err := group.Wait()

	accepted := err == nil && aggregate(h.acceptMode, results)
	switch {
	case err != nil:
		h.record("error")
	case accepted:
		h.record("accepted")
	default:
		h.record("rejected")
	}
	if !accepted {
		h.fallback(key)
	}
	return accepted, err
}

func (h *HotReload) fallback(key string) {
	if h.fullReloadFallback && h.fullReload != nil {
		h.fullReload(key)
	}
}
