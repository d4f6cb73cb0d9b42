// Command raglane manages retriever builds and serves the query API.
//
// Usage:
//
//	raglane serve --config config.yaml
//	raglane build <retriever-id> --config config.yaml
//	raglane query <retriever-id> "search text" --top-k 5
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/raglane/raglane/pkg/config"
	"github.com/raglane/raglane/pkg/logger"
	"github.com/raglane/raglane/pkg/metrics"
	"github.com/raglane/raglane/pkg/objectstore"
	"github.com/raglane/raglane/pkg/retriever"
	"github.com/raglane/raglane/pkg/server"
	"github.com/raglane/raglane/pkg/store"
	"github.com/raglane/raglane/pkg/vectordb"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Build    BuildCmd    `cmd:"" help:"Build a retriever's index."`
	Query    QueryCmd    `cmd:"" help:"Query an active retriever."`
	Stats    StatsCmd    `cmd:"" help:"Show a retriever's pipeline and index stats."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("raglane version %s\n", version)
	return nil
}

// app carries the wired core components shared by the commands.
type app struct {
	cfg     *config.Config
	store   *store.Store
	objects objectstore.Store
	service *retriever.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	objects, err := newObjectStore(&cfg.ObjectStore)
	if err != nil {
		return nil, err
	}

	svc := retriever.NewService(st, objects, cfg, retriever.DefaultEngineFactory(cfg))
	return &app{cfg: cfg, store: st, objects: objects, service: svc}, nil
}

func (a *app) Close() {
	if err := a.service.Close(); err != nil {
		slog.Warn("failed to close service", "error", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("no config file given, using defaults")
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded configuration", "path", path)
	return cfg, nil
}

func newObjectStore(cfg *config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Type {
	case "memory":
		return objectstore.NewMemoryStore(), nil
	default:
		fs, err := objectstore.NewFilesystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	app, err := newApp(cli.Config)
	if err != nil {
		return err
	}
	defer app.Close()

	if c.Port != 0 {
		app.cfg.Server.Port = c.Port
	}

	recorder, err := metrics.Init(context.Background())
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	metrics.SetGlobal(recorder)

	srv := server.New(app.cfg, app.store, app.objects, app.service)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	fmt.Printf("raglane server ready\n")
	fmt.Printf("   API:      http://%s/v1\n", srv.Address())
	fmt.Printf("   Health:   http://%s/healthz\n", srv.Address())
	fmt.Printf("   Metrics:  http://%s/metrics\n", srv.Address())
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start()
}

// BuildCmd builds a retriever's index.
type BuildCmd struct {
	RetrieverID string `arg:"" help:"Retriever to build."`
	Force       bool   `help:"Rebuild even if the retriever is active."`
}

func (c *BuildCmd) Run(cli *CLI) error {
	app, err := newApp(cli.Config)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.service.Build(context.Background(), c.RetrieverID, c.Force)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// QueryCmd queries an active retriever.
type QueryCmd struct {
	RetrieverID string            `arg:"" help:"Retriever to query."`
	Text        string            `arg:"" help:"Query text."`
	TopK        int               `name:"top-k" help:"Number of hits to return (0 = retriever default)."`
	Filter      map[string]string `help:"Payload filters as key=value pairs." mapsep:","`
}

func (c *QueryCmd) Run(cli *CLI) error {
	app, err := newApp(cli.Config)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.service.Query(context.Background(), c.RetrieverID, c.Text, c.TopK, vectordb.Filter(c.Filter))
	if err != nil {
		return err
	}
	return printJSON(result)
}

// StatsCmd shows a retriever's pipeline and index stats.
type StatsCmd struct {
	RetrieverID string `arg:"" help:"Retriever to inspect."`
}

func (c *StatsCmd) Run(cli *CLI) error {
	app, err := newApp(cli.Config)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.service.GetStats(context.Background(), c.RetrieverID)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Path string `arg:"" help:"Config file to validate." type:"path"`
}

func (c *ValidateCmd) Run() error {
	if _, err := config.Load(c.Path); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", c.Path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("raglane"),
		kong.Description("raglane - retriever build and vector index query engine"),
		kong.UsageOnError(),
	)

	var output *os.File = os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
