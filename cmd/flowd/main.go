// Flowd is the orchestration daemon coordinating autonomous agents and
// bridging them to external MCP tool servers.
//
// The daemon starts the HTTP call surface, connects the tool servers
// declared in configuration, and shuts down gracefully on SIGINT/SIGTERM.
//
// Usage:
//
//	# Start with defaults
//	flowd
//
//	# Configure via file and environment
//	flowd --config /etc/flowd/config.yaml
//	FLOWD_SERVER_PORT=9990 flowd
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/flow"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			os.Exit(1)
		}
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flowd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting flowd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	br := bridge.New(bridge.Config{
		ClientName:    cfg.Bridge.ClientName,
		ClientVersion: cfg.Bridge.ClientVersion,
		InvokeRate:    cfg.Bridge.InvokeRate,
		InvokeBurst:   cfg.Bridge.InvokeBurst,
		Logger:        logger,
	})
	defer func() {
		if err := br.DisconnectAll(); err != nil {
			logger.Warn("tool teardown", zap.Error(err))
		}
	}()

	// Connect declared tool servers. A failing server is logged and skipped
	// so one bad entry does not keep the daemon down.
	for _, entry := range cfg.Bridge.Servers {
		tools, err := br.Connect(ctx, entry.ID, entry.Transport)
		if err != nil {
			logger.Error("tool server connect failed",
				zap.String("server_id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		logger.Info("tool server ready",
			zap.String("server_id", entry.ID),
			zap.Int("tools", len(tools)),
		)
	}

	manager := flow.NewManager(flow.ManagerConfig{
		MaxErrors: cfg.Flow.MaxErrors,
		Bridge:    br,
		Logger:    logger,
	})

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	}, manager)

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("flowd stopped")
	return nil
}

func printVersion() {
	fmt.Printf("flowd %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}
