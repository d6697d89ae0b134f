package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"worldsd/approval"
	"worldsd/config"
	"worldsd/provider"
	"worldsd/server"
	"worldsd/storage"
	"worldsd/tools"
	"worldsd/worlds"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worldsd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	log, err := storage.NewConversationLog(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to open conversation log: %w", err)
	}
	defer func() {
		if err := log.Close(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("Warning: failed to close conversation log: %v", err)
		}
	}()

	store, err := worlds.NewClient(cfg.WorldsBaseURL, cfg.WorldsAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create worlds client: %w", err)
	}

	registry, err := tools.NewDefaultRegistry(store, cfg.IRIBaseURL())
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	providers := provider.InitializeProviders(cfg)
	if len(providers) == 0 {
		return fmt.Errorf("no providers available: configure ollama or add an API key to the credential store")
	}
	if _, ok := providers[cfg.DefaultProvider]; !ok {
		fmt.Fprintf(os.Stderr, "Warning: default provider %q is not available\n", cfg.DefaultProvider)
	}

	gate := approval.NewGate()
	srv := server.New(cfg, log, providers, registry, gate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("worldsd %s listening on %s\n", Version, cfg.Listen)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
