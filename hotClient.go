package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// HotClient follows a running dev server the way the browser listener does:
// it keeps the watched modules in a registry and reloads them when the server
// announces a change. Changes nobody accepts end up in FullReload.
type HotClient struct {
	BaseURL    string
	Registry   *ModuleRegistry
	Reload     *HotReload
	Dialer     *websocket.Dialer
	OnUpdate   func(module *Module)
	FullReload func(canonicalPath string)

	mu      sync.Mutex
	current map[string]*Module
	unwatch []func()
}

func NewHotClient(baseURL string, acceptMode AcceptMode, metrics *Metrics) *HotClient {
	client := &HotClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Dialer:  websocket.DefaultDialer,
		current: map[string]*Module{},
	}
	client.Registry = NewModuleRegistry(HTTPImporter{BaseURL: client.BaseURL}, WithRegistryMetrics(metrics))
	client.Reload = NewHotReload(client.Registry,
		WithAcceptMode(acceptMode),
		WithReloadMetrics(metrics),
		WithFullReload(func(canonicalPath string) {
			if client.FullReload != nil {
				client.FullReload(canonicalPath)
				return
			}
			LogWarning("🔁 Full reload required after change of %s", canonicalPath)
		}),
	)
	return client
}

// Watch imports each path once and subscribes to its changes. The binding
// to the latest module is refreshed through the registry before the change
// is accepted.
func (c *HotClient) Watch(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		key := canonicalKey(path)
		module, err := c.Registry.Get(ctx, key, nil)
		if err != nil {
			return err
		}
		c.store(module)

		removeBinding := c.Registry.OnReload(key, func(ctx context.Context) error {
			module, err := c.Registry.Get(ctx, key, nil)
			if err != nil {
				return err
			}
			c.store(module)
			return nil
		})
		id := c.Reload.Subscribe(key, func(ctx context.Context, meta SubscriptionMeta) (Acceptance, error) {
			module, ok := c.Current(key)
			if !ok {
				return NotAccepted, nil
			}
			LogInfo("🔥 Reloaded %s (%d bytes)", module.Path, len(module.Source))
			if c.OnUpdate != nil {
				c.OnUpdate(module)
			}
			return Accepted, nil
		}, SubscriptionMeta{})

		c.mu.Lock()
		c.unwatch = append(c.unwatch, removeBinding, func() { c.Reload.Unsubscribe(key, id) })
		c.mu.Unlock()
	}
	return nil
}

// Close removes every registration made by Watch.
func (c *HotClient) Close() {
	c.mu.Lock()
	unwatch := c.unwatch
	c.unwatch = nil
	c.mu.Unlock()

	for _, remove := range unwatch {
		remove()
	}
}

func (c *HotClient) store(module *Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[module.Path] = module
}

// Current returns the latest imported version of path.
func (c *HotClient) Current(path string) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	module, ok := c.current[canonicalKey(path)]
	return module, ok
}

func socketURL(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q in %s", parsed.Scheme, baseURL)
	}
	parsed.Path = hotSocketPath
	parsed.RawQuery = ""
	return parsed.String(), nil
}

// Run connects to the server socket and handles messages until ctx is done
// or the connection drops.
func (c *HotClient) Run(ctx context.Context) error {
	address, err := socketURL(c.BaseURL)
	if err != nil {
		return err
	}
	conn, _, err := c.Dialer.DialContext(ctx, address, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer conn.Close()
	LogInfo("🔌 Connected to %s", address)

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.handleMessage(ctx, string(message))
	}
}

func (c *HotClient) handleMessage(ctx context.Context, message string) {
	switch {
	case message == liveReloadMessage:
		c.Reload.fallback(canonicalKey("/"))
	case strings.HasPrefix(message, hotReloadMessagePrefix):
		path := strings.TrimPrefix(message, hotReloadMessagePrefix)
		accepted, err := c.Reload.Trigger(ctx, path)
		if err != nil && !errors.Is(err, context.Canceled) {
			LogError("Hot reload of %s failed: %v", path, err)
			return
		}
		LogVerbose("Hot reload of %s: accepted=%t", path, accepted)
	default:
		LogVerbose("Ignoring socket message %q", message)
	}
}
