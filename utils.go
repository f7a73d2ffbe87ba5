package main

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
)

// ResolveAbsoluteCwd resolves cwd against the process working directory.
func ResolveAbsoluteCwd(cwd string) (string, error) {
	if cwd == "" {
		cwd = "."
	}
	if filepath.IsAbs(cwd) {
		return filepath.Clean(cwd), nil
	}
	return filepath.Abs(cwd)
}

// fileExists reports whether path is an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

type KV[K any, V any] struct {
	k K
	v V
}

func GetSortedMap[K cmp.Ordered, V any](m map[K]V) []KV[K, V] {
	result := make([]KV[K, V], 0, len(m))

	for k, v := range m {
		result = append(result, KV[K, V]{k, v})
	}

	slices.SortFunc(result, func(a KV[K, V], b KV[K, V]) int {
		return cmp.Compare(a.k, b.k)
	})

	return result
}
