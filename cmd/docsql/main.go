// Package main implements the docsql binary. With -file it runs a script
// and prints one JSON result per statement; otherwise it serves the query
// API over HTTP until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/docsql/docsql/internal/app"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/engine"
	"github.com/docsql/docsql/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		backend     string
		httpAddr    string
		grpcAddr    string
		scriptFile  string
		database    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for data files")
	flag.StringVar(&backend, "backend", "", "Storage backend: memory, sqlite, mysql, mongodb, redis, s3, dynamodb")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (enables the gRPC server)")
	flag.StringVar(&scriptFile, "file", "", "Run the statements in this file (- for stdin) and exit")
	flag.StringVar(&database, "database", "", "Database the script session starts in")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docsql - SQL over a document store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: docsql [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  docsql --backend sqlite --data-dir /var/lib/docsql\n")
		fmt.Fprintf(os.Stderr, "  docsql --config /etc/docsql/config.yaml\n")
		fmt.Fprintf(os.Stderr, "  docsql --backend sqlite --file schema.sql\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DOCSQL_STORAGE_BACKEND  Storage backend\n")
		fmt.Fprintf(os.Stderr, "  DOCSQL_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  DOCSQL_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  DOCSQL_LOG_LEVEL        debug, info, warn or error\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("docsql version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configFile, dataDir, backend, httpAddr, grpcAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	ctx := context.Background()
	if scriptFile != "" {
		os.Exit(runScript(ctx, application, scriptFile, database))
	}

	logger.Info("starting docsql",
		zap.String("version", version),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("data_dir", cfg.DataDir),
		zap.String("addr", cfg.HTTP.Addr),
		zap.Bool("grpc", cfg.GRPC.Enabled))
	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}
	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// runScript executes a script file and returns the process exit code: 1 when
// any statement failed.
func runScript(ctx context.Context, application *app.App, path, database string) int {
	var (
		script []byte
		err    error
	)
	if path == "-" {
		script, err = io.ReadAll(os.Stdin)
	} else {
		script, err = os.ReadFile(path)
	}
	if err != nil {
		zap.S().Errorw("failed to read script", "path", path, "error", err)
		return 1
	}

	if err := application.Open(ctx); err != nil {
		zap.S().Errorw("failed to open document store", "error", err)
		return 1
	}
	defer application.Stop(ctx)

	results := application.Engine().ExecuteScript(ctx, engine.NewSession(database), string(script))
	enc := json.NewEncoder(os.Stdout)
	code := 0
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			zap.S().Errorw("failed to write result", "error", err)
			return 1
		}
		if res.Failed() {
			code = 1
		}
	}
	return code
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, backend, httpAddr, grpcAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Flags take precedence.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
		cfg.GRPC.Enabled = true
	}
	return cfg, nil
}
