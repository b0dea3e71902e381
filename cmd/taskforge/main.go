package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskforge/internal/backend"
	"taskforge/internal/config"
	"taskforge/internal/logging"
	"taskforge/internal/operation"
	"taskforge/internal/operation/calc"
	"taskforge/internal/operation/fileops"
	"taskforge/internal/operation/netops"
	"taskforge/internal/operation/shell"
	"taskforge/internal/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "taskforge - sandboxed agent task engine",
	Long: `taskforge drives an LLM backend through an ask/decide/act loop,
executing the operations it requests inside a per-session filesystem
sandbox. Every conversation is confined to its own session root;
operations are retried with backoff and fall back to alternative
execution methods before giving up.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run a single task to completion from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTask,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP chat API",
	RunE:  serve,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [session-id...]",
	Short: "Delete session sandboxes from the cache root",
	RunE:  cleanupSessions,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("taskforge", Version)
	},
}

var cleanupAll bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "taskforge.yaml", "Configuration file path")

	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Delete every session under the cache root")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRegistry assembles the operation catalog. Registration must
// finish before the first conversation starts.
func buildRegistry(cfg *config.Config) *operation.Registry {
	registry := operation.NewRegistry()
	if err := fileops.RegisterAll(registry); err != nil {
		panic(err)
	}
	registry.MustRegister(shell.CommandRun{DefaultTimeout: cfg.ShellTimeout()})
	registry.MustRegister(netops.RepoDownload{MirrorBaseURL: cfg.Engine.MirrorBaseURL})
	registry.MustRegister(calc.Calculate{})
	return registry
}

func buildEngine(cfg *config.Config, logger *zap.Logger) *server.Engine {
	client := backend.NewOllamaClient(cfg.Backend.Model, logger,
		backend.WithBaseURL(cfg.Backend.BaseURL),
		backend.WithTimeout(cfg.BackendTimeout()))
	return server.NewEngine(cfg, client, buildRegistry(cfg), logger)
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	request := strings.Join(args, " ")
	engine := buildEngine(cfg, logger)

	chatID := uuid.NewString()
	if err := engine.InitSession(chatID, "", ""); err != nil {
		return err
	}
	defer func() {
		if err := engine.Teardown(chatID); err != nil {
			logger.Warn("session teardown failed", zap.Error(err))
		}
	}()

	logger.Info("running task",
		zap.String("session_id", chatID),
		zap.String("request", request))

	outcome, err := engine.Process(ctx, chatID, request, nil)
	if err != nil {
		return err
	}

	fmt.Println(outcome.Response)
	if !outcome.Completed {
		fmt.Fprintf(os.Stderr, "warning: completion not confirmed after %d iterations\n", outcome.Iterations)
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := buildEngine(cfg, logger)
	handlers := server.NewHandlers(engine, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Hot-reload is limited to settings the engine reads per request;
	// address changes need a restart. Reloads are published atomically,
	// in-flight requests keep their snapshot.
	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		engine.UpdateConfig(next)
	}, logger)
	if err == nil {
		if werr := watcher.Start(ctx); werr != nil {
			logger.Warn("config watcher disabled", zap.Error(werr))
		} else {
			defer watcher.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving HTTP API", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func cleanupSessions(cmd *cobra.Command, args []string) error {
	if !cleanupAll && len(args) == 0 {
		return fmt.Errorf("pass session ids or --all")
	}

	ids := args
	if cleanupAll {
		entries, err := os.ReadDir(cfg.Sandbox.CacheRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		ids = nil
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
	}

	for _, id := range ids {
		dir := filepath.Join(cfg.Sandbox.CacheRoot, filepath.Base(id))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove session %s: %w", id, err)
		}
		logger.Info("session removed", zap.String("session_id", id))
	}
	return nil
}
