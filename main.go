package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
	"golang.org/x/sync/errgroup"
)

// Version is set at release time with -ldflags.
var Version = "dev"

var (
	verboseFlag bool
	quietFlag   bool

	rootCmd = &cobra.Command{
		Use:   "hotserve",
		Short: "Build pipeline and dev server with hot module replacement for native ES modules",
		Long: `Builds, watches and serves a web project made of native ES modules.
Served modules are rewritten so that their imports can be swapped at runtime,
and changed files are pushed to the browser over a websocket.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case quietFlag:
				SetLogLevel(slog.LevelWarn)
			case verboseFlag:
				SetLogLevel(LevelVerbose)
			default:
				SetLogLevel(slog.LevelInfo)
			}
		},
	}
)

var docsCmd = &cobra.Command{
	Use:   "doc-gen",
	Short: "Generate CLI documentation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return doc.GenMarkdownTree(rootCmd, "./docs")
	},
}

// ---------------- shared flags ----------------

type pipelineFlags struct {
	config     string
	cwd        string
	address    string
	port       int
	open       bool
	live       bool
	hot        bool
	watch      bool
	serve      bool
	acceptMode string
}

func addPipelineFlags(command *cobra.Command, flags *pipelineFlags) {
	command.Flags().StringVarP(&flags.config, "config", "c", ".",
		"Config file, directory containing one, or preset name ("+strings.Join(presetNames(), ", ")+")")
	command.Flags().StringVar(&flags.cwd, "cwd", "",
		"Project root, relative to the config file (default: directory of the config file)")
	command.Flags().StringVar(&flags.address, "address", "",
		"Address the dev server listens on (default: localhost)")
	command.Flags().IntVarP(&flags.port, "port", "p", 0,
		"Port the dev server listens on (default: 8080)")
	command.Flags().BoolVar(&flags.open, "open", false,
		"Open the served page in the browser")
	command.Flags().BoolVar(&flags.live, "live", false,
		"Reload the page when a change is not handled hotly")
	command.Flags().BoolVar(&flags.hot, "hot", true,
		"Hot reload changed modules")
	command.Flags().StringVar(&flags.acceptMode, "accept-mode", "",
		"How subscriber answers combine: every or some (default: every)")
}

// applyFlags overrides the loaded config with the flags set on the command line.
func applyFlags(cmd *cobra.Command, config *HotserveConfig, flags pipelineFlags) {
	changed := cmd.Flags().Changed
	if changed("cwd") {
		config.Root = flags.cwd
	}
	if changed("watch") {
		config.Watch = flags.watch
	}
	if flags.serve {
		config.Serve.Enabled = true
	}
	if changed("address") {
		config.Serve.Address = flags.address
	}
	if changed("port") {
		config.Serve.Port = flags.port
	}
	if changed("open") {
		config.Serve.Open = flags.open
	}
	if changed("live") {
		config.Serve.Live = flags.live
	}
	if changed("hot") {
		config.Serve.Hot = boolPtr(flags.hot)
	}
	if changed("accept-mode") {
		config.AcceptMode = flags.acceptMode
	}
}

// loadBuildConfig loads the project config, falling back to fallbackPreset
// when no config file exists and none was asked for explicitly.
func loadBuildConfig(cmd *cobra.Command, args []string, flags pipelineFlags, fallbackPreset string) (*BuildConfig, error) {
	configPath := flags.config
	explicit := cmd.Flags().Changed("config")
	if len(args) > 0 {
		configPath = args[0]
		explicit = true
	}

	config, baseDir, err := LoadConfig(configPath)
	if err != nil {
		if explicit || fallbackPreset == "" || !errors.Is(err, ErrConfigNotFound) {
			return nil, err
		}
		LogVerbose("No config found, using the %q preset", fallbackPreset)
		config, baseDir = Presets[fallbackPreset](), "."
	}

	if err := ApplyEnv(&config); err != nil {
		return nil, err
	}
	applyFlags(cmd, &config, flags)

	return ResolveBuildConfig(config, baseDir)
}

// runBuildConfig builds once, then keeps watching and serving while asked to.
func runBuildConfig(ctx context.Context, config *BuildConfig) error {
	if err := RunPipelineOnce(ctx, config); err != nil {
		return err
	}
	if config.Serve == nil && !config.Watch {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if config.Serve != nil {
		group.Go(func() error { return StartServer(groupCtx, config) })
	}
	group.Go(func() error { return RunPipelineContinuously(groupCtx, config) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ---------------- serve ----------------

var serveFlags pipelineFlags

var serveCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "Build, watch and serve the project with hot reloading",
	Long: `Runs the build pipeline, then serves the project and watches it for changes.
Without a config file the "dev" preset is used: files are served from src and the
project root, an import map for node_modules is injected, and modules are hot reloaded.`,
	Example: "hotserve serve --port 3000 --open",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serveFlags.serve = true
		config, err := loadBuildConfig(cmd, args, serveFlags, "dev")
		if err != nil {
			return err
		}
		config.Watch = true
		return runBuildConfig(cmd.Context(), config)
	},
}

// ---------------- build ----------------

var buildFlags pipelineFlags

var buildCmd = &cobra.Command{
	Use:   "build [config]",
	Short: "Run the build pipeline of the project",
	Long: `Runs every build step of the config once. With --watch the steps keep
running on file changes, with --serve the dev server is started as well.`,
	Example: "hotserve build web",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadBuildConfig(cmd, args, buildFlags, "")
		if err != nil {
			return err
		}
		return runBuildConfig(cmd.Context(), config)
	},
}

// ---------------- rewrite ----------------

var (
	rewriteCwd         string
	rewriteModulePath  string
	rewriteRoot        string
	rewriteNoSourceMap bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <file>",
	Short: "Print a module rewritten for hot imports",
	Long: `Prints the module the way the dev server serves it: static imports are
replaced by imports through the module runtime, with an inline source map.`,
	Example: "hotserve rewrite src/app.js",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := rewriteCmdFn(rewriteCwd, args[0], rewriteModulePath, rewriteRoot, rewriteNoSourceMap)
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	},
}

func rewriteCmdFn(cwd string, file string, modulePath string, rootPath string, noSourceMap bool) (string, error) {
	root, err := ResolveAbsoluteCwd(cwd)
	if err != nil {
		return "", err
	}
	filePath := file
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(root, filePath)
	}
	source, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	if modulePath == "" {
		rel, ok := RelativeSlashPath(root, filePath)
		if !ok {
			return "", fmt.Errorf("%s is outside of %s, pass --path", file, root)
		}
		modulePath = "/" + rel
	}

	rewriter := HotImportRewriter{RuntimePath: hotModulesPath, Token: rewriteToken, NoSourceMap: noSourceMap}
	result, err := rewriter.Rewrite(string(source), modulePath, rootPath)
	if err != nil {
		return "", err
	}
	return result.Code, nil
}

// rewriteToken is empty outside of tests, which pin it for stable output.
var rewriteToken string

// ---------------- parse-imports ----------------

var (
	parseImportsCwd  string
	parseImportsRoot string
)

var parseImportsCmd = &cobra.Command{
	Use:     "parse-imports <files...>",
	Short:   "List the static imports of modules",
	Example: "hotserve parse-imports src/app.js src/utils.js",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := parseImportsCmdFn(parseImportsCwd, args, parseImportsRoot)
		if err != nil {
			return err
		}
		fmt.Print(output)
		return nil
	},
}

func parseImportsCmdFn(cwd string, files []string, rootPath string) (string, error) {
	root, err := ResolveAbsoluteCwd(cwd)
	if err != nil {
		return "", err
	}
	filePaths := make([]string, 0, len(files))
	for _, file := range files {
		if !filepath.IsAbs(file) {
			file = filepath.Join(root, file)
		}
		filePaths = append(filePaths, NormalizePathForInternal(file))
	}

	var b bytes.Buffer
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "File\tSpecifier\tKind\tResolved\tExport\tLocal")
	fmt.Fprintln(w, "----\t---------\t----\t--------\t------\t-----")

	count := 0
	for _, fileImports := range ParseImportsFromFiles(filePaths) {
		if fileImports.Err != nil {
			return "", fileImports.Err
		}
		modulePath := "/" + filepath.Base(fileImports.FilePath)
		if rel, ok := RelativeSlashPath(root, DenormalizePathForOS(fileImports.FilePath)); ok {
			modulePath = "/" + rel
		}
		for _, imp := range fileImports.Imports {
			info := ClassifyImportPath(imp.Path, modulePath, rootPath)
			kind, resolved := "relative", info.CanonicalPath
			switch {
			case info.IsBare:
				kind, resolved = "package", GetNodeModuleName(imp.Path)
			case info.IsAbsolute:
				kind = "absolute"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", modulePath, imp.Path, kind, resolved, imp.ExportName, imp.ImportName)
			count++
		}
	}
	if count == 0 {
		return "No static imports found\n", nil
	}
	w.Flush()
	return b.String(), nil
}

// ---------------- hot-client ----------------

var hotClientAcceptMode string

var hotClientCmd = &cobra.Command{
	Use:   "hot-client <server-url> [modules...]",
	Short: "Follow a running dev server and reload modules on changes",
	Long: `Connects to the websocket of a running dev server, imports the given modules
and reloads them whenever the server announces a change.`,
	Example: "hotserve hot-client http://localhost:8080 ./src/config.json",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := ParseAcceptMode(hotClientAcceptMode)
		if err != nil {
			return err
		}
		client := NewHotClient(args[0], mode, nil)
		defer client.Close()
		if err := client.Watch(cmd.Context(), args[1:]...); err != nil {
			return err
		}
		return client.Run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log every step and request")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only log warnings and errors")

	addPipelineFlags(serveCmd, &serveFlags)

	addPipelineFlags(buildCmd, &buildFlags)
	buildCmd.Flags().BoolVarP(&buildFlags.watch, "watch", "w", false,
		"Keep running the build steps on file changes")
	buildCmd.Flags().BoolVarP(&buildFlags.serve, "serve", "s", false,
		"Start the dev server after building")

	rewriteCmd.Flags().StringVar(&rewriteCwd, "cwd", currentDirFallback(), "Project root the module is served from")
	rewriteCmd.Flags().StringVar(&rewriteModulePath, "path", "",
		"URL path the module is served at (default: path of the file relative to --cwd)")
	rewriteCmd.Flags().StringVar(&rewriteRoot, "root", "/", "URL path of the served root")
	rewriteCmd.Flags().BoolVar(&rewriteNoSourceMap, "no-source-map", false, "Do not append an inline source map")

	parseImportsCmd.Flags().StringVar(&parseImportsCwd, "cwd", currentDirFallback(), "Project root the module is served from")
	parseImportsCmd.Flags().StringVar(&parseImportsRoot, "root", "/", "URL path of the served root")

	hotClientCmd.Flags().StringVar(&hotClientAcceptMode, "accept-mode", "",
		"How subscriber answers combine: every or some (default: every)")

	rootCmd.AddCommand(serveCmd, buildCmd, rewriteCmd, parseImportsCmd, hotClientCmd, docsCmd)
}

func currentDirFallback() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		LogError("%v", err)
		stop()
		os.Exit(1)
	}
}
