package main

import (
	"path/filepath"
	"runtime"
	"strings"
)

// NormalizePathForInternal converts any OS path into the internal
// representation using forward slashes.
// Examples:
// - "C:\\project\\src\\file.js" -> "C:/project/src/file.js"
// - "src/" -> "src"
func NormalizePathForInternal(p string) string {
	if runtime.GOOS != "windows" {
		return p
	}
	if p == "" {
		return ""
	}
	s := filepath.ToSlash(filepath.Clean(p))
	// Trim trailing slash except when path is root like "/" or "C:/"
	if len(s) > 1 && strings.HasSuffix(s, "/") && !strings.HasSuffix(s, ":/") {
		s = strings.TrimRight(s, "/")
	}
	return s
}

// DenormalizePathForOS converts an internal forward-slash path back to the
// OS-native representation for os.* calls.
func DenormalizePathForOS(internal string) string {
	if runtime.GOOS != "windows" {
		return internal
	}
	if internal == "" {
		return ""
	}
	return filepath.FromSlash(internal)
}

// NormalizeGlobPattern normalizes glob pattern separators to forward slashes.
func NormalizeGlobPattern(pattern string) string {
	if runtime.GOOS != "windows" {
		return pattern
	}
	return strings.ReplaceAll(pattern, "\\", "/")
}

// RelativeSlashPath returns target relative to base with forward slashes.
// ok is false when target is outside base.
func RelativeSlashPath(base string, target string) (rel string, ok bool) {
	r, err := filepath.Rel(base, target)
	if err != nil {
		return "", false
	}
	r = filepath.ToSlash(r)
	if r == ".." || strings.HasPrefix(r, "../") {
		return "", false
	}
	return r, true
}

// IsWithinDir reports whether target is dir itself or inside it.
func IsWithinDir(dir string, target string) bool {
	_, ok := RelativeSlashPath(dir, target)
	return ok
}
