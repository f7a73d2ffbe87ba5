package main

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

//go:embed client/modules.js client/listener.js
var hotClientFiles embed.FS

const (
	hotRoutePrefix      = "/@hot/"
	hotModulesPath      = hotRoutePrefix + "modules.js"
	hotListenerPath     = hotRoutePrefix + "listener.js"
	hotSocketPath       = hotRoutePrefix + "ws"
	hotMetricsPath      = hotRoutePrefix + "metrics"
	rewriteCacheSize    = 512
	acceptModeTemplate  = "__HOTSERVE_ACCEPT_MODE__"
	listenerScriptTag   = `<script type="module" src="` + hotListenerPath + `"></script>`
	dependencyDirectory = "node_modules"
)

var defaultHotInclude = []string{"**/*.js", "**/*.html", "**/*.css"}

// HotReloadModule rewrites served JS for hot imports, serves the browser
// runtime and announces changed files over the socket. With LiveOnly it only
// serves and injects the listener, for live reloading.
type HotReloadModule struct {
	Include    []string
	AcceptMode AcceptMode
	LiveOnly   bool

	include  []GlobMatcher
	cache    *lru.Cache[string, string]
	rewriter HotImportRewriter
}

func NewHotReloadModule(include []string, acceptMode AcceptMode) (*HotReloadModule, error) {
	if len(include) == 0 {
		include = defaultHotInclude
	}
	matchers, err := CreateGlobMatchers(include, "")
	if err != nil {
		return nil, fmt.Errorf("hot reload include: %w", err)
	}
	cache, err := lru.New[string, string](rewriteCacheSize)
	if err != nil {
		return nil, err
	}
	return &HotReloadModule{
		Include:    include,
		AcceptMode: acceptMode,
		include:    matchers,
		cache:      cache,
		rewriter:   HotImportRewriter{RuntimePath: hotModulesPath},
	}, nil
}

func (h *HotReloadModule) Name() string { return "hot-reload" }

// servedRoots lists the directories static modules serve from, in the order
// they are asked for files.
func servedRoots(config *BuildConfig) []string {
	roots := []string{}
	for _, module := range config.Modules {
		if static, ok := module.(*ServeStaticFiles); ok {
			roots = append(roots, filepath.Join(config.Cwd, static.Path))
		}
	}
	if len(roots) == 0 {
		roots = append(roots, config.Cwd)
	}
	return roots
}

// CanonicalPathForFile maps a changed file to the canonical path the browser
// knows it by: relative to the first served root containing it.
func CanonicalPathForFile(absolutePath string, roots []string) (string, bool) {
	for _, root := range roots {
		rel, ok := RelativeSlashPath(root, absolutePath)
		if !ok {
			continue
		}
		return canonicalKey(rel), true
	}
	return "", false
}

func (h *HotReloadModule) OnWatch(ctx context.Context, config *BuildConfig) error {
	if h.LiveOnly {
		return nil
	}
	roots := servedRoots(config)

	config.Events.FileChanged.Subscribe(func(event *BuildEvent[FileChange]) {
		if !MatchesAnyGlobMatcher(event.Data.Relative, h.include) {
			return
		}
		canonicalPath, ok := CanonicalPathForFile(event.Data.Absolute, roots)
		if !ok {
			return
		}
		event.StopPropagation()
		LogVerbose("Sending hot reload for %s", canonicalPath)
		config.Events.WebSocketMessage.Publish(hotReloadMessagePrefix + canonicalPath)
	})

	LogInfo("🔥 Hot reloading enabled")
	return nil
}

func (h *HotReloadModule) clientFile(urlPath string) (*ResponseData, bool) {
	var name string
	switch urlPath {
	case hotModulesPath:
		name = "client/modules.js"
	case hotListenerPath:
		name = "client/listener.js"
	default:
		return nil, false
	}
	content, err := hotClientFiles.ReadFile(name)
	if err != nil {
		return nil, false
	}
	if urlPath == hotModulesPath {
		content = []byte(strings.Replace(string(content), acceptModeTemplate, h.AcceptMode.String(), 1))
	}
	return &ResponseData{Content: content, Type: ContentTypeJS}, true
}

func isDependencyPath(urlPath string) bool {
	for _, segment := range strings.Split(urlPath, "/") {
		if segment == dependencyDirectory {
			return true
		}
	}
	return false
}

func (h *HotReloadModule) OnHTTPResponse(r *http.Request, data *ResponseData, config *BuildConfig) (*ResponseData, error) {
	urlPath := r.URL.Path
	if strings.HasPrefix(urlPath, hotRoutePrefix) {
		if client, ok := h.clientFile(urlPath); ok {
			return client, nil
		}
		return data, nil
	}
	if data == nil {
		return nil, nil
	}

	switch data.Type {
	case ContentTypeHTML:
		data.Content = []byte(InjectIntoBody(string(data.Content), listenerScriptTag))
	case ContentTypeJS:
		if h.LiveOnly || isDependencyPath(urlPath) {
			return data, nil
		}
		data.Content = []byte(h.rewrite(urlPath, string(data.Content), config.Metrics))
	}
	return data, nil
}

// rewrite serves unmodified source when rewriting fails.
func (h *HotReloadModule) rewrite(urlPath string, source string, metrics *Metrics) string {
	key := fmt.Sprintf("%s:%016x", urlPath, xxhash.Sum64String(source))
	if cached, ok := h.cache.Get(key); ok {
		if metrics != nil {
			metrics.RewriteCache.WithLabelValues("hit").Inc()
		}
		return cached
	}
	if metrics != nil {
		metrics.RewriteCache.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	result, err := h.rewriter.Rewrite(source, urlPath, "/")
	if metrics != nil {
		metrics.RewriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		LogError("Failed to inject hot imports into %s: %v", urlPath, err)
		return source
	}
	h.cache.Add(key, result.Code)
	return result.Code
}
