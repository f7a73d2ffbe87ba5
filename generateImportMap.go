package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrDependencyNotFound = errors.New("dependency not found")

const importMapScriptOpen = `<script type="importmap">`

type ImportMap struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes"`
}

// GenerateImportMap maps the dependencies of the package in PackagePath,
// recursively, to their files under node_modules. The map is written into
// the HTML files at OutputPath and, with Serve, into every served page.
type GenerateImportMap struct {
	OutputPath  string
	Serve       bool
	PackagePath string
	Exclude     []string

	exclude []GlobMatcher
}

func NewGenerateImportMap(outputPath string, serve bool, packagePath string, exclude []string) (*GenerateImportMap, error) {
	if packagePath == "" {
		packagePath = "."
	}
	matchers, err := CreateGlobMatchers(exclude, "")
	if err != nil {
		return nil, fmt.Errorf("import map exclude: %w", err)
	}
	return &GenerateImportMap{
		OutputPath:  outputPath,
		Serve:       serve,
		PackagePath: packagePath,
		Exclude:     exclude,
		exclude:     matchers,
	}, nil
}

func (g *GenerateImportMap) Name() string { return "generate-import-map" }

func (g *GenerateImportMap) OnBuild(ctx context.Context, config *BuildConfig) error {
	if g.OutputPath == "" {
		return nil
	}
	LogInfo("🗺️ Generating import map for HTML files in %q", g.OutputPath)

	script, err := g.GenerateScriptElement(config.Cwd)
	if err != nil {
		return err
	}

	outputPath := filepath.Join(config.Cwd, g.OutputPath)
	switch {
	case fileExists(outputPath):
		return writeImportMap(outputPath, script)
	case dirExists(outputPath):
		return filepath.WalkDir(outputPath, func(filePath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(filePath, ".html") {
				return nil
			}
			rel, _ := RelativeSlashPath(outputPath, filePath)
			if MatchesAnyGlobMatcher(rel, g.exclude) {
				return nil
			}
			return writeImportMap(filePath, script)
		})
	}
	return fmt.Errorf("no HTML file or directory found at %q", g.OutputPath)
}

func (g *GenerateImportMap) OnWatch(ctx context.Context, config *BuildConfig) error {
	if g.OutputPath == "" {
		return nil
	}
	outputPath := filepath.Join(config.Cwd, g.OutputPath)
	outputIsDir := dirExists(outputPath)

	config.Events.FileChanged.Subscribe(func(event *BuildEvent[FileChange]) {
		changed := event.Data.Absolute
		var shouldInject bool
		if outputIsDir {
			rel, inside := RelativeSlashPath(outputPath, changed)
			shouldInject = inside && strings.HasSuffix(changed, ".html") && !MatchesAnyGlobMatcher(rel, g.exclude)
		} else {
			shouldInject = changed == outputPath
		}
		if !shouldInject || !fileExists(changed) {
			return
		}

		script, err := g.GenerateScriptElement(config.Cwd)
		if err != nil {
			LogError("Failed to generate import map: %v", err)
			return
		}
		if err := writeImportMap(changed, script); err != nil {
			LogError("Failed to inject import map into %s: %v", event.Data.Relative, err)
		}
	})
	return nil
}

func (g *GenerateImportMap) OnHTTPResponse(r *http.Request, data *ResponseData, config *BuildConfig) (*ResponseData, error) {
	if !g.Serve || data == nil || data.Type != ContentTypeHTML {
		return data, nil
	}
	script, err := g.GenerateScriptElement(config.Cwd)
	if err != nil {
		return nil, err
	}
	LogVerbose("Injecting import map into HTML file %q", r.URL.Path)
	data.Content = []byte(UpsertImportMap(string(data.Content), script))
	return data, nil
}

// writeImportMap rewrites the file only when its content changes, so writing
// the map does not trigger another watch event forever.
func writeImportMap(filePath string, script string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	html := UpsertImportMap(string(content), script)
	if html == string(content) {
		return nil
	}
	LogVerbose("Injecting import map into HTML file %q", filePath)
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, []byte(html), info.Mode().Perm())
}

// UpsertImportMap replaces the first import map of html with script, or
// injects script into the head when there is none.
func UpsertImportMap(html string, script string) string {
	start := strings.Index(html, importMapScriptOpen)
	if start >= 0 {
		closing := strings.Index(html[start:], "</script>")
		if closing >= 0 {
			end := start + closing + len("</script>")
			lineStart := start
			for lineStart > 0 && (html[lineStart-1] == ' ' || html[lineStart-1] == '\t') {
				lineStart--
			}
			if (lineStart == 0 || html[lineStart-1] == '\n') && end < len(html) && html[end] == '\n' {
				start = lineStart
				end++
			}
			html = html[:start] + html[end:]
		}
	}
	return InjectIntoHead(html, script)
}

func (g *GenerateImportMap) GenerateScriptElement(cwd string) (string, error) {
	start := time.Now()

	importMap, err := g.Generate(cwd)
	if err != nil {
		return "", err
	}
	content, err := json.MarshalIndent(importMap, "", "  ")
	if err != nil {
		return "", err
	}
	script := importMapScriptOpen + "\n" + indentLines(string(content), "\t") + "\n</script>"

	LogVerbose("Generated import map in %.3f seconds", time.Since(start).Seconds())
	return script, nil
}

func (g *GenerateImportMap) Generate(cwd string) (ImportMap, error) {
	importMap := ImportMap{Imports: map[string]string{}, Scopes: map[string]map[string]string{}}
	root := path.Clean(NormalizePathForInternal(g.PackagePath))
	err := g.populate(cwd, root, root, importMap, map[string]bool{})
	return importMap, err
}

func urlForPackagePath(packagePath string) string {
	if packagePath == "." {
		return "/"
	}
	return "/" + strings.TrimPrefix(packagePath, "./")
}

// populate adds the dependencies of the package at packagePath, a slash
// path relative to cwd. Dependencies installed in the package's own
// node_modules go into a scope, the others into the top level imports.
func (g *GenerateImportMap) populate(cwd string, packagePath string, rootPackagePath string, importMap ImportMap, visited map[string]bool) error {
	if visited[packagePath] {
		return nil
	}
	visited[packagePath] = true

	pkg, err := ReadPackageJson(filepath.Join(cwd, DenormalizePathForOS(packagePath), "package.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w in %q", ErrNoPackageJson, packagePath)
		}
		return err
	}
	packageName := pkg.Name
	if packageName == "" {
		packageName = "unknown package"
	}

	for _, dependency := range GetSortedMap(pkg.Dependencies) {
		name, declaredRange := dependency.k, dependency.v

		pathInOwnModules := path.Join(packagePath, dependencyDirectory, name)
		pathInProjectModules := path.Join(rootPackagePath, dependencyDirectory, name)

		isInOwnModules := packagePath != rootPackagePath && dirExists(filepath.Join(cwd, DenormalizePathForOS(pathInOwnModules)))
		isInProjectModules := dirExists(filepath.Join(cwd, DenormalizePathForOS(pathInProjectModules)))

		if !isInOwnModules && !isInProjectModules {
			return fmt.Errorf("%w: %q for package %q", ErrDependencyNotFound, name, packageName)
		}

		dependencyPath := pathInProjectModules
		if isInOwnModules {
			dependencyPath = pathInOwnModules
		}
		dependencyPkg, err := ReadPackageJson(filepath.Join(cwd, DenormalizePathForOS(dependencyPath), "package.json"))
		if err != nil {
			return err
		}
		if ok, err := VersionSatisfies(declaredRange, dependencyPkg.Version); err == nil && !ok {
			LogWarning("Installed %s@%s does not satisfy %q required by %s", name, dependencyPkg.Version, declaredRange, packageName)
		}

		dependencyURL := urlForPackagePath(dependencyPath)
		target := importMap.Imports
		if isInOwnModules {
			scope := urlForPackagePath(packagePath) + "/"
			if importMap.Scopes[scope] == nil {
				importMap.Scopes[scope] = map[string]string{}
			}
			target = importMap.Scopes[scope]
		}
		target[name] = dependencyURL + "/" + dependencyPkg.EntryFile()
		target[name+"/"] = dependencyURL + "/"

		if err := g.populate(cwd, dependencyPath, rootPackagePath, importMap, visited); err != nil {
			return err
		}
	}
	return nil
}
