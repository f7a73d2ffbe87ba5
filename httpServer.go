package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// NewHTTPHandler serves the pipeline: request modules first, then response
// modules in order. The socket and metrics routes bypass the pipeline.
func NewHTTPHandler(config *BuildConfig) http.Handler {
	mux := http.NewServeMux()

	if config.Serve != nil && (config.Serve.Hot || config.Serve.Live) {
		mux.Handle(hotSocketPath, &WebSocketServer{
			Events:  config.Events,
			Live:    config.Serve.Live,
			Metrics: config.Metrics,
		})
	}
	if config.Metrics != nil {
		mux.Handle(hotMetricsPath, config.Metrics.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := servePipeline(w, r, config)
		if config.Metrics != nil {
			config.Metrics.HTTPRequests.WithLabelValues(strconv.Itoa(code)).Inc()
		}
	})
	return mux
}

func servePipeline(w http.ResponseWriter, r *http.Request, config *BuildConfig) int {
	originalPath := r.URL.Path
	r = r.Clone(r.Context())

	for _, module := range config.Modules {
		if handler, ok := module.(RequestHandler); ok {
			handler.OnHTTPRequest(r, config)
		}
	}

	logMessage := fmt.Sprintf("%s %q", r.Method, r.URL.Path)
	if originalPath != r.URL.Path {
		logMessage += fmt.Sprintf(" (original: %q)", originalPath)
	}
	LogVerbose("%s", logMessage)

	var data *ResponseData
	for _, module := range config.Modules {
		handler, ok := module.(ResponseHandler)
		if !ok {
			continue
		}
		var err error
		data, err = handler.OnHTTPResponse(r, data, config)
		if err != nil {
			LogError("%s failed for %q: %v", module.Name(), r.URL.Path, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return http.StatusInternalServerError
		}
	}

	if data == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return http.StatusNotFound
	}

	w.Header().Set("Content-Type", data.Type.Header())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data.Content)
	}
	return http.StatusOK
}

// StartServer listens on the serve address and shuts down when ctx is done.
func StartServer(ctx context.Context, config *BuildConfig) error {
	options := config.Serve
	server := &http.Server{
		Addr:              net.JoinHostPort(options.Address, strconv.Itoa(options.Port)),
		Handler:           NewHTTPHandler(config),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}

	LogInfo("🌐 Dev server running at %s", options.URL())
	if options.Live {
		LogInfo("🔄 Live reloading enabled")
	}
	if options.Open {
		LogInfo("🚀 Opening in browser")
		if err := openBrowser(options.URL()); err != nil {
			LogWarning("Failed to open browser: %v", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
