package main

import (
	"context"
	"os"
	"path/filepath"
)

// Clean removes a directory, usually the build output, before building.
type Clean struct {
	Path string
}

func (c *Clean) Name() string { return "clean" }

func (c *Clean) OnBuild(ctx context.Context, config *BuildConfig) error {
	LogInfo("🧹 Cleaning directory %q", c.Path)
	return os.RemoveAll(filepath.Join(config.Cwd, c.Path))
}
