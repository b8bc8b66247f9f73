package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/chimerabot/qqgate/internal/config"
	"github.com/chimerabot/qqgate/internal/dispatch"
	"github.com/chimerabot/qqgate/internal/handlers"
	"github.com/chimerabot/qqgate/internal/lock"
	"github.com/chimerabot/qqgate/internal/log"
	"github.com/chimerabot/qqgate/internal/queue"
	"github.com/chimerabot/qqgate/internal/signature"
	"github.com/chimerabot/qqgate/internal/storage"
	"github.com/chimerabot/qqgate/internal/webhook"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "check":
		os.Exit(runCheck(args))
	case "version":
		fmt.Printf("qqgate version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`qqgate - signature-verified QQ bot webhook gateway

Usage:
  qqgate start  --config PATH    Run the callback server and dispatch worker
  qqgate check  --config PATH    Validate config and print the verification key
  qqgate version                 Print version
  qqgate help                    Show this help`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("qqgate starting", "version", version, "config", *configPath)

	sig, err := signature.New(cfg.Bot.AppSecret)
	if err != nil {
		logger.Error("failed to initialize signing keypair", "error", err)
		return 1
	}
	logger.Info("signing keypair derived", "verify_key", sig.PublicKey())

	pidLockPath := cfg.Service.LockPath
	if pidLockPath == "" {
		pidLockPath = filepath.Join(filepath.Dir(cfg.State.Path), "qqgate.lock")
	}
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	q := queue.New(db)

	registry := dispatch.NewRegistry()
	handlers.Register(registry, handlers.NewLogReplier())
	logger.Info("handlers registered", "event_types", registry.EventTypes())

	worker := dispatch.NewWorker(q, registry, dispatch.WorkerConfig{
		PollInterval:   cfg.Queue.PollInterval,
		HandlerTimeout: cfg.Queue.HandlerTimeout,
		RetryBackoff:   cfg.Queue.RetryBackoff,
	})

	server := webhook.New(webhook.Config{
		Listen:       cfg.Server.Listen,
		CallbackPath: cfg.Server.CallbackPath,
		MaxBodySize:  cfg.Server.MaxBodySize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	}, sig, q, log.WithComponent("webhook"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("worker: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	logger.Info("qqgate running (press Ctrl+C to stop)", "listen", cfg.Server.Listen, "path", cfg.Server.CallbackPath)

	select {
	case s := <-sigCh:
		logger.Info("received shutdown signal", "signal", s)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		wg.Wait()
		return 1
	}

	// Let the server drain and the worker finish its in-flight event.
	wg.Wait()

	logger.Info("qqgate stopped")
	return 0
}

// runCheck loads the config, derives the keypair, and prints the
// verification key so operators can cross-check the platform registration.
func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	sig, err := signature.New(cfg.Bot.AppSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Key derivation error: %v\n", err)
		return 1
	}

	fmt.Printf("config:       OK (%s)\n", *configPath)
	fmt.Printf("app_id:       %s\n", cfg.Bot.AppID)
	fmt.Printf("callback:     %s%s\n", cfg.Server.Listen, cfg.Server.CallbackPath)
	fmt.Printf("verify key:   %s\n", sig.PublicKey())
	return 0
}
