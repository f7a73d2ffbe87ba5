package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var ErrNoPackageJson = errors.New("no package.json found")

var defaultNpmInstallCommand = []string{"npm", "install", "--omit=dev", "--install-links"}

const npmInstallDebounce = 100 * time.Millisecond

// NpmInstall installs the production dependencies of the package in Path and
// reinstalls them when its package.json changes.
type NpmInstall struct {
	Path    string
	Command []string
}

func (n *NpmInstall) Name() string { return "npm-install" }

func (n *NpmInstall) dir(config *BuildConfig) string {
	path := n.Path
	if path == "" {
		path = "."
	}
	return filepath.Join(config.Cwd, path)
}

func (n *NpmInstall) OnBuild(ctx context.Context, config *BuildConfig) error {
	LogInfo("📦 Installing npm dependencies in %q", n.Path)

	dir := n.dir(config)
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		return fmt.Errorf("%w in %q", ErrNoPackageJson, n.Path)
	}
	return n.install(ctx, dir)
}

func (n *NpmInstall) OnWatch(ctx context.Context, config *BuildConfig) error {
	dir := n.dir(config)
	packageJsonPath := filepath.Join(dir, "package.json")

	debouncer := NewDebouncer(npmInstallDebounce, 0, func() {
		if err := n.install(ctx, dir); err != nil {
			LogError("%v", err)
		}
	})
	go func() {
		<-ctx.Done()
		debouncer.Stop()
	}()

	config.Events.FileChanged.Subscribe(func(event *BuildEvent[FileChange]) {
		if event.Data.Absolute != packageJsonPath {
			return
		}
		LogVerbose("File \"package.json\" changed, running npm install")
		debouncer.Trigger()
	})
	return nil
}

func (n *NpmInstall) install(ctx context.Context, dir string) error {
	command := n.Command
	if len(command) == 0 {
		command = defaultNpmInstallCommand
	}
	LogVerbose("Executing %q", strings.Join(command, " "))

	stdout := &lineLogger{log: LogVerbose}
	stderr := &lineLogger{log: LogError}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}
	return nil
}

// lineLogger logs complete lines written to it.
type lineLogger struct {
	log func(format string, args ...any)
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) Flush() {
	l.emit(l.buf)
	l.buf = nil
}

func (l *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if strings.TrimSpace(text) != "" {
		l.log("%s", text)
	}
}
