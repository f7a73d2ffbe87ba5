package main

import (
	"path"
	"strings"
)

// ImportPathInfo classifies an import specifier and holds its canonical
// root-relative form.
type ImportPathInfo struct {
	IsBare        bool
	IsRelative    bool
	IsAbsolute    bool
	CanonicalPath string
}

func isRelativeImportPath(importPath string) bool {
	return importPath == "." || importPath == ".." ||
		strings.HasPrefix(importPath, "./") || strings.HasPrefix(importPath, "../")
}

// trimRootPrefix removes root from p only on a path segment boundary, so a
// root of "/src" never strips "/srcs/x.js".
func trimRootPrefix(p string, root string) string {
	if root == "" || root == "." || root == "./" {
		return p
	}
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		// root is "/"
		return p
	}
	if p == root {
		return ""
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root):]
	}
	return p
}

func isServedRootTrivial(root string) bool {
	return root == "" || root == "." || root == "./" || root == "/"
}

// toCanonical turns a resolved path into the "./"-prefixed, root-relative
// form used as the module key. An absolute path outside of the root is kept
// as it is, so it never shares a key with a module inside the root.
func toCanonical(resolved string, rootPath string) string {
	root := NormalizePathForInternal(rootPath)
	rel := trimRootPrefix(resolved, root)
	if rel == resolved && strings.HasPrefix(resolved, "/") && !isServedRootTrivial(root) {
		return resolved
	}
	rel = strings.TrimLeft(rel, "/")
	if rel == "" || rel == "." {
		return "./"
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return rel
	}
	if strings.HasPrefix(rel, "./") {
		return rel
	}
	return "./" + rel
}

// ClassifyImportPath classifies importPath as bare, relative or absolute and,
// for relative paths, resolves it against the directory of parentModulePath
// and makes it relative to rootPath. Absolute and bare paths are returned as
// written.
//
//	ClassifyImportPath("./mod.js", "/src/app.js", "/src")                 -> "./mod.js"
//	ClassifyImportPath("../shared/util.js", "/src/pages/index.js", "/src") -> "./shared/util.js"
func ClassifyImportPath(importPath string, parentModulePath string, rootPath string) ImportPathInfo {
	importPath = strings.ReplaceAll(importPath, "\\", "/")

	if strings.HasPrefix(importPath, "/") {
		return ImportPathInfo{IsAbsolute: true, CanonicalPath: importPath}
	}
	if !isRelativeImportPath(importPath) {
		return ImportPathInfo{IsBare: true, CanonicalPath: importPath}
	}

	parent := strings.ReplaceAll(parentModulePath, "\\", "/")
	resolved := path.Join(path.Dir(parent), importPath)

	return ImportPathInfo{IsRelative: true, CanonicalPath: toCanonical(resolved, strings.ReplaceAll(rootPath, "\\", "/"))}
}

// canonicalKey maps every spelling of a served module ("/a.js", "./a.js",
// "a.js", "/a.js?v=1") to a single registry key.
func canonicalKey(modulePath string) string {
	if idx := strings.IndexAny(modulePath, "?#"); idx >= 0 {
		modulePath = modulePath[:idx]
	}
	modulePath = strings.ReplaceAll(modulePath, "\\", "/")
	if modulePath == "" {
		return "./"
	}
	if strings.Contains(modulePath, "://") {
		return modulePath
	}
	if strings.HasPrefix(modulePath, "/") || strings.HasPrefix(modulePath, "./") {
		cleaned := path.Clean("/" + strings.TrimPrefix(modulePath, "."))
		return toCanonical(cleaned, "")
	}
	if isRelativeImportPath(modulePath) {
		return modulePath
	}
	return toCanonical(path.Clean("/"+modulePath), "")
}

// servedURL turns a canonical path into the URL path the dev server serves it on.
func servedURL(canonicalPath string) string {
	return "/" + strings.TrimPrefix(strings.TrimPrefix(canonicalPath, "."), "/")
}
