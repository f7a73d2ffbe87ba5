package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Copy copies files matching Include (everything when empty) and not
// matching Exclude from From to To. Patterns are relative to From.
type Copy struct {
	From      string
	To        string
	Include   []string
	Exclude   []string
	Recursive bool

	include []GlobMatcher
	exclude []GlobMatcher
}

func NewCopy(from string, to string, include []string, exclude []string, recursive bool) (*Copy, error) {
	c := &Copy{From: from, To: to, Include: include, Exclude: exclude, Recursive: recursive}
	var err error
	if c.include, err = CreateGlobMatchers(include, ""); err != nil {
		return nil, fmt.Errorf("copy include: %w", err)
	}
	if c.exclude, err = CreateGlobMatchers(exclude, ""); err != nil {
		return nil, fmt.Errorf("copy exclude: %w", err)
	}
	return c, nil
}

func (c *Copy) Name() string { return "copy" }

func (c *Copy) OnBuild(ctx context.Context, config *BuildConfig) error {
	logMessage := fmt.Sprintf("📄 Copying files from %q to %q", c.From, c.To)
	if len(c.Include) > 0 {
		logMessage += fmt.Sprintf(", including %q", strings.Join(c.Include, ", "))
	}
	if len(c.Exclude) > 0 {
		logMessage += fmt.Sprintf(", excluding %q", strings.Join(c.Exclude, ", "))
	}
	LogInfo("%s", logMessage)

	from := filepath.Join(config.Cwd, c.From)
	to := filepath.Join(config.Cwd, c.To)

	somethingWasCopied := false
	err := filepath.WalkDir(from, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == from {
				return nil
			}
			if !c.Recursive || (from != to && IsWithinDir(to, path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		copied, err := c.copyFileIfIncluded(from, to, path)
		if err != nil {
			return err
		}
		somethingWasCopied = somethingWasCopied || copied
		return nil
	})
	if err != nil {
		return err
	}

	if !somethingWasCopied {
		LogWarning("No files were copied")
	}
	return nil
}

func (c *Copy) OnWatch(ctx context.Context, config *BuildConfig) error {
	from := filepath.Join(config.Cwd, c.From)
	to := filepath.Join(config.Cwd, c.To)

	config.Events.FileChanged.Subscribe(func(event *BuildEvent[FileChange]) {
		if !IsWithinDir(from, event.Data.Absolute) {
			return
		}
		if from != to && IsWithinDir(to, event.Data.Absolute) {
			return
		}
		if _, err := c.copyFileIfIncluded(from, to, event.Data.Absolute); err != nil {
			LogError("Failed to copy %s: %v", event.Data.Relative, err)
		}
	})
	return nil
}

// copyFileIfIncluded copies path, or removes its copy when path no longer
// exists. It reports whether the file matched the filters.
func (c *Copy) copyFileIfIncluded(from string, to string, path string) (bool, error) {
	relativeToFrom, ok := RelativeSlashPath(from, path)
	if !ok {
		return false, nil
	}
	if !c.Recursive && strings.Contains(relativeToFrom, "/") {
		return false, nil
	}
	matchesInclude := len(c.include) == 0 || MatchesAnyGlobMatcher(relativeToFrom, c.include)
	matchesExclude := MatchesAnyGlobMatcher(relativeToFrom, c.exclude)
	if !matchesInclude || matchesExclude {
		return false, nil
	}

	destination := filepath.Join(to, DenormalizePathForOS(relativeToFrom))

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if _, err := os.Stat(destination); err == nil {
			LogVerbose("Deleting %s", destination)
			return true, os.Remove(destination)
		}
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return false, err
	}
	LogVerbose("Copying %s to %s", path, destination)
	return true, copyFile(path, destination)
}

func copyFile(source string, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
