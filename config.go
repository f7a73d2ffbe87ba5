package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var ErrConfigNotFound = errors.New("no hotserve config found")

var configFileNames = []string{"hotserve.config.json", "hotserve.config.yaml", "hotserve.config.yml"}

const (
	envPort    = "HOTSERVE_PORT"
	envAddress = "HOTSERVE_ADDRESS"
	envRoot    = "HOTSERVE_ROOT"
)

type ModuleConfig struct {
	Type        string   `json:"type" yaml:"type"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
	From        string   `json:"from,omitempty" yaml:"from,omitempty"`
	To          string   `json:"to,omitempty" yaml:"to,omitempty"`
	Include     []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude     []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Recursive   *bool    `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	OutputPath  string   `json:"outputPath,omitempty" yaml:"outputPath,omitempty"`
	Serve       bool     `json:"serve,omitempty" yaml:"serve,omitempty"`
	PackagePath string   `json:"packagePath,omitempty" yaml:"packagePath,omitempty"`
	Roots       []string `json:"roots,omitempty" yaml:"roots,omitempty"`
	Command     []string `json:"command,omitempty" yaml:"command,omitempty"`
}

// ServeConfig is written either as a boolean or as an object, "serve": true
// being the same as "serve": {}.
type ServeConfig struct {
	Enabled bool   `json:"-" yaml:"-"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Open    bool   `json:"open,omitempty" yaml:"open,omitempty"`
	Live    bool   `json:"live,omitempty" yaml:"live,omitempty"`
	Hot     *bool  `json:"hot,omitempty" yaml:"hot,omitempty"`
}

type serveConfigFields ServeConfig

func (s *ServeConfig) UnmarshalJSON(data []byte) error {
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err == nil {
		*s = ServeConfig{Enabled: enabled}
		return nil
	}
	var fields serveConfigFields
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&fields); err != nil {
		return err
	}
	*s = ServeConfig(fields)
	s.Enabled = true
	return nil
}

func (s *ServeConfig) UnmarshalYAML(node *yaml.Node) error {
	var enabled bool
	if node.Kind == yaml.ScalarNode {
		if err := node.Decode(&enabled); err != nil {
			return err
		}
		*s = ServeConfig{Enabled: enabled}
		return nil
	}
	var fields serveConfigFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*s = ServeConfig(fields)
	s.Enabled = true
	return nil
}

type HotserveConfig struct {
	Preset         string         `json:"preset,omitempty" yaml:"preset,omitempty"`
	Root           string         `json:"root,omitempty" yaml:"root,omitempty"` // Working directory, relative to the config file
	Watch          bool           `json:"watch,omitempty" yaml:"watch,omitempty"`
	Serve          ServeConfig    `json:"serve,omitempty" yaml:"serve,omitempty"`
	IgnoredFolders []string       `json:"ignoredFolders,omitempty" yaml:"ignoredFolders,omitempty"`
	AcceptMode     string         `json:"acceptMode,omitempty" yaml:"acceptMode,omitempty"`
	Modules        []ModuleConfig `json:"modules,omitempty" yaml:"modules,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

var Presets = map[string]func() HotserveConfig{
	"dev": func() HotserveConfig {
		return HotserveConfig{
			Watch: true,
			Serve: ServeConfig{Enabled: true},
			Modules: []ModuleConfig{
				{Type: "extensionless-html", Roots: []string{"src", "."}},
				{Type: "serve-static-files", Path: "src"},
				{Type: "serve-static-files", Path: "."},
				{Type: "generate-import-map", Serve: true},
				{Type: "hot-reload"},
			},
		}
	},
	"web": func() HotserveConfig {
		return HotserveConfig{
			Modules: []ModuleConfig{
				{Type: "copy", From: "src", To: "build", Include: []string{"**/*.js", "**/*.html"}},
				{Type: "copy", From: ".", To: "build", Recursive: boolPtr(false), Include: []string{"package.json", "package-lock.json"}},
				{Type: "npm-install", Path: "build"},
			},
		}
	},
}

func presetNames() []string {
	names := []string{}
	for _, kv := range GetSortedMap(Presets) {
		names = append(names, kv.k)
	}
	return names
}

// FindConfigFile returns configPath when it is a file, or the first config
// file found in it when it is a directory.
func FindConfigFile(configPath string) (string, error) {
	fileInfo, err := os.Stat(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w at %q", ErrConfigNotFound, configPath)
		}
		return "", err
	}
	if !fileInfo.IsDir() {
		return configPath, nil
	}
	for _, name := range configFileNames {
		candidate := filepath.Join(configPath, name)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w in %q (expected one of %s)", ErrConfigNotFound, configPath, strings.Join(configFileNames, ", "))
}

// LoadConfig loads a config file (JSON with comments, or YAML) and returns it
// with the directory relative paths are resolved against. A preset name is
// accepted in place of a path.
func LoadConfig(configPath string) (HotserveConfig, string, error) {
	if preset, ok := Presets[configPath]; ok {
		return preset(), ".", nil
	}

	actualPath, err := FindConfigFile(configPath)
	if err != nil {
		return HotserveConfig{}, "", fmt.Errorf("%w. Create %s or use a preset (%s)", err, configFileNames[0], strings.Join(presetNames(), ", "))
	}

	content, err := os.ReadFile(actualPath)
	if err != nil {
		return HotserveConfig{}, "", err
	}

	var config HotserveConfig
	switch strings.ToLower(filepath.Ext(actualPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &config); err != nil {
			return HotserveConfig{}, "", fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(content)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&config); err != nil {
			return HotserveConfig{}, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if config.Preset != "" {
		preset, ok := Presets[config.Preset]
		if !ok {
			return HotserveConfig{}, "", fmt.Errorf("unknown preset %q (available presets: %s)", config.Preset, strings.Join(presetNames(), ", "))
		}
		config = mergePreset(preset(), config)
	}

	if err := ValidateConfig(config); err != nil {
		return HotserveConfig{}, "", err
	}
	return config, filepath.Dir(actualPath), nil
}

// mergePreset lets a config file override the preset it names.
func mergePreset(preset HotserveConfig, config HotserveConfig) HotserveConfig {
	merged := preset
	merged.Preset = config.Preset
	if config.Root != "" {
		merged.Root = config.Root
	}
	merged.Watch = merged.Watch || config.Watch
	if config.Serve.Enabled {
		hot := merged.Serve.Hot
		merged.Serve = config.Serve
		if merged.Serve.Hot == nil {
			merged.Serve.Hot = hot
		}
	}
	if len(config.IgnoredFolders) > 0 {
		merged.IgnoredFolders = config.IgnoredFolders
	}
	if config.AcceptMode != "" {
		merged.AcceptMode = config.AcceptMode
	}
	if len(config.Modules) > 0 {
		merged.Modules = config.Modules
	}
	return merged
}

func ValidateConfig(config HotserveConfig) error {
	if _, err := ParseAcceptMode(config.AcceptMode); err != nil {
		return fmt.Errorf("acceptMode: %w", err)
	}
	for i, p := range config.IgnoredFolders {
		if err := validatePattern(p); err != nil {
			return fmt.Errorf("ignoredFolders[%d]: %w", i, err)
		}
	}
	for i, module := range config.Modules {
		if _, ok := moduleFactories[module.Type]; !ok {
			return fmt.Errorf("modules[%d]: unknown module type %q", i, module.Type)
		}
		for k, p := range module.Include {
			if err := validatePattern(p); err != nil {
				return fmt.Errorf("modules[%d].include[%d]: %w", i, k, err)
			}
		}
		for k, p := range module.Exclude {
			if err := validatePattern(p); err != nil {
				return fmt.Errorf("modules[%d].exclude[%d]: %w", i, k, err)
			}
		}
	}
	return nil
}

// ApplyEnv loads .env files, when present, and applies the HOTSERVE_*
// variables. Existing environment variables win over .env values.
func ApplyEnv(config *HotserveConfig, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	if port := os.Getenv(envPort); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil || value < 0 || value > 65535 {
			return fmt.Errorf("%s: invalid port %q", envPort, port)
		}
		config.Serve.Port = value
	}
	if address := os.Getenv(envAddress); address != "" {
		config.Serve.Address = address
	}
	if root := os.Getenv(envRoot); root != "" {
		config.Root = root
	}
	return nil
}

type moduleFactory func(module ModuleConfig, config HotserveConfig) (PipelineModule, error)

var moduleFactories = map[string]moduleFactory{
	"clean": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		if m.Path == "" {
			return nil, errors.New("clean: path is required")
		}
		return &Clean{Path: m.Path}, nil
	},
	"copy": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		if m.From == "" || m.To == "" {
			return nil, errors.New("copy: from and to are required")
		}
		recursive := true
		if m.Recursive != nil {
			recursive = *m.Recursive
		}
		return NewCopy(m.From, m.To, m.Include, m.Exclude, recursive)
	},
	"npm-install": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		return &NpmInstall{Path: m.Path, Command: m.Command}, nil
	},
	"generate-import-map": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		return NewGenerateImportMap(m.OutputPath, m.Serve, m.PackagePath, m.Exclude)
	},
	"serve-static-files": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		path := m.Path
		if path == "" {
			path = "."
		}
		return &ServeStaticFiles{Path: path}, nil
	},
	"extensionless-html": func(m ModuleConfig, _ HotserveConfig) (PipelineModule, error) {
		return &ExtensionlessHtml{Roots: m.Roots}, nil
	},
	"hot-reload": func(m ModuleConfig, c HotserveConfig) (PipelineModule, error) {
		mode, err := ParseAcceptMode(c.AcceptMode)
		if err != nil {
			return nil, err
		}
		return NewHotReloadModule(m.Include, mode)
	},
}

// ResolveBuildConfig builds the pipeline described by config. baseDir is the
// directory of the config file.
func ResolveBuildConfig(config HotserveConfig, baseDir string) (*BuildConfig, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	cwd, err := ResolveAbsoluteCwd(filepath.Join(baseDir, config.Root))
	if err != nil {
		return nil, err
	}
	acceptMode, _ := ParseAcceptMode(config.AcceptMode)

	ignoredFolders := config.IgnoredFolders
	if len(ignoredFolders) == 0 {
		ignoredFolders = defaultIgnoredFolders
	}

	buildConfig := &BuildConfig{
		Watch:          config.Watch,
		IgnoredFolders: ignoredFolders,
		AcceptMode:     acceptMode,
		Cwd:            cwd,
		Events:         NewBuildEvents(),
		Metrics:        NewMetrics(),
	}

	for i, moduleConfig := range config.Modules {
		module, err := moduleFactories[moduleConfig.Type](moduleConfig, config)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		buildConfig.Modules = append(buildConfig.Modules, module)
	}

	if config.Serve.Enabled {
		options := DefaultServeOptions
		if config.Serve.Address != "" {
			options.Address = config.Serve.Address
		}
		if config.Serve.Port != 0 {
			options.Port = config.Serve.Port
		}
		if config.Serve.Hot != nil {
			options.Hot = *config.Serve.Hot
		}
		options.Open = config.Serve.Open
		options.Live = config.Serve.Live
		buildConfig.Serve = &options

		if err := ensureListenerModule(buildConfig); err != nil {
			return nil, err
		}
	}
	return buildConfig, nil
}

// ensureListenerModule adds the module serving the browser listener when
// reloading is on and the pipeline has none.
func ensureListenerModule(config *BuildConfig) error {
	if !config.Serve.Hot && !config.Serve.Live {
		return nil
	}
	for _, module := range config.Modules {
		if hot, ok := module.(*HotReloadModule); ok {
			hot.LiveOnly = !config.Serve.Hot
			return nil
		}
	}
	hot, err := NewHotReloadModule(nil, config.AcceptMode)
	if err != nil {
		return err
	}
	hot.LiveOnly = !config.Serve.Hot
	config.Modules = append(config.Modules, hot)
	return nil
}
