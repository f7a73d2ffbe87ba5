package main

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type ServeOptions struct {
	Address string
	Port    int
	Open    bool
	Live    bool
	Hot     bool
}

func (s ServeOptions) URL() string {
	return fmt.Sprintf("http://%s:%d/", s.Address, s.Port)
}

var DefaultServeOptions = ServeOptions{
	Address: "localhost",
	Port:    8080,
	Hot:     true,
}

// BuildConfig is the resolved configuration of one run: the ordered modules
// and the shared state they see.
type BuildConfig struct {
	Modules        []PipelineModule
	Watch          bool
	Serve          *ServeOptions
	IgnoredFolders []string
	AcceptMode     AcceptMode
	Cwd            string
	Events         *BuildEvents
	Metrics        *Metrics
}

// PipelineModule is any build or serve step. The hooks it takes part in are
// picked by the optional interfaces below.
type PipelineModule interface {
	Name() string
}

// Builder runs when the project is built.
type Builder interface {
	OnBuild(ctx context.Context, config *BuildConfig) error
}

// WatchHandler runs once when watching starts, typically subscribing to
// config.Events.
type WatchHandler interface {
	OnWatch(ctx context.Context, config *BuildConfig) error
}

// RequestHandler may rewrite the request before any response is produced.
type RequestHandler interface {
	OnHTTPRequest(r *http.Request, config *BuildConfig)
}

// ResponseHandler produces or transforms the response body. data is nil when
// no earlier module produced a response.
type ResponseHandler interface {
	OnHTTPResponse(r *http.Request, data *ResponseData, config *BuildConfig) (*ResponseData, error)
}

type ResponseData struct {
	Content []byte
	Type    ContentType
}

func RunPipelineOnce(ctx context.Context, config *BuildConfig) error {
	LogInfo("🔧 Running build pipeline:")
	start := time.Now()

	for _, module := range config.Modules {
		builder, ok := module.(Builder)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := builder.OnBuild(ctx, config); err != nil {
			return fmt.Errorf("%s: %w", module.Name(), err)
		}
	}

	LogInfo("✅ Build completed in %.3f seconds", time.Since(start).Seconds())
	return nil
}

// RunPipelineContinuously starts every WatchHandler in module order, then
// watches config.Cwd until ctx is cancelled.
func RunPipelineContinuously(ctx context.Context, config *BuildConfig) error {
	LogInfo("👀 Watching files for changes...")

	for _, module := range config.Modules {
		handler, ok := module.(WatchHandler)
		if !ok {
			continue
		}
		if err := handler.OnWatch(ctx, config); err != nil {
			return fmt.Errorf("%s: %w", module.Name(), err)
		}
	}
	setupLiveReload(config)

	watcher, err := NewFileWatcher(config.Cwd, config.IgnoredFolders, config.Events)
	if err != nil {
		return err
	}
	watcher.Metrics = config.Metrics
	return watcher.Run(ctx)
}

// setupLiveReload subscribes after the modules so that a module handling a
// change hotly can stop propagation and prevent the page reload.
func setupLiveReload(config *BuildConfig) {
	if config.Serve == nil || !config.Serve.Live {
		return
	}
	config.Events.FileChanged.Subscribe(func(event *BuildEvent[FileChange]) {
		LogVerbose("Live reloading after change of %s", event.Data.Relative)
		config.Events.LiveReload.Publish(struct{}{})
	})
}
