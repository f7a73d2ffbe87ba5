package main

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ServeStaticFiles answers requests not answered by an earlier module with
// the file at the same path under Path.
type ServeStaticFiles struct {
	Path string
}

func (s *ServeStaticFiles) Name() string { return "serve-static-files" }

func (s *ServeStaticFiles) OnHTTPResponse(r *http.Request, data *ResponseData, config *BuildConfig) (*ResponseData, error) {
	if data != nil {
		return data, nil
	}
	urlPath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if urlPath == "" {
		return nil, nil
	}

	filePath := filepath.Join(config.Cwd, s.Path, DenormalizePathForOS(urlPath))
	if !fileExists(filePath) {
		return nil, nil
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return &ResponseData{Content: content, Type: ContentTypeByPath(urlPath)}, nil
}
