package main

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

// ExtensionlessHtml rewrites "/about" to "/about.html" or "/about/index.html"
// when the request has no extension and no such file exists. Files are looked
// up in Roots, the working directory when empty.
type ExtensionlessHtml struct {
	Roots []string
}

func (e *ExtensionlessHtml) Name() string { return "extensionless-html" }

func (e *ExtensionlessHtml) existsInRoots(config *BuildConfig, urlPath string) bool {
	roots := e.Roots
	if len(roots) == 0 {
		roots = []string{"."}
	}
	for _, root := range roots {
		if fileExists(filepath.Join(config.Cwd, root, DenormalizePathForOS(urlPath))) {
			return true
		}
	}
	return false
}

func (e *ExtensionlessHtml) OnHTTPRequest(r *http.Request, config *BuildConfig) {
	urlPath := strings.TrimPrefix(r.URL.Path, "/")

	if strings.Contains(path.Base("/"+urlPath), ".") {
		return
	}
	if urlPath != "" && e.existsInRoots(config, urlPath) {
		return
	}

	trimmed := strings.TrimSuffix(urlPath, "/")
	if trimmed != "" && e.existsInRoots(config, trimmed+".html") {
		r.URL.Path = "/" + trimmed + ".html"
		return
	}

	indexPath := urlPath
	if indexPath != "" && !strings.HasSuffix(indexPath, "/") {
		indexPath += "/"
	}
	r.URL.Path = "/" + indexPath + "index.html"
}
