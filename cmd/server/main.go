package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iac-sandbox/stackd/internal/api"
	"github.com/iac-sandbox/stackd/internal/api/handler"
	"github.com/iac-sandbox/stackd/internal/auth"
	"github.com/iac-sandbox/stackd/internal/config"
	"github.com/iac-sandbox/stackd/internal/engine"
	"github.com/iac-sandbox/stackd/internal/events"
	"github.com/iac-sandbox/stackd/internal/files"
	"github.com/iac-sandbox/stackd/internal/orchestrator"
	"github.com/iac-sandbox/stackd/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize engine client (or local fake for testing)
	var engineClient engine.Client
	if cfg.UseFakeEngine() {
		log.Printf("Using local fake engine, no cloud resources will be provisioned")
		engineClient = engine.NewLocalFake()
	} else {
		engineClient = engine.NewPulumiClient(cfg.Engine.WorkDir)
	}

	// Initialize infrastructure source directory and file service
	if err := os.MkdirAll(cfg.Files.Dir, 0755); err != nil {
		log.Fatalf("Failed to create infrastructure directory: %v", err)
	}
	fileSvc, err := files.NewService(cfg.Files.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize file service: %v", err)
	}

	// Event hub for websocket subscribers
	hub := events.NewHub()

	// Initialize orchestrator
	orch := orchestrator.New(engineClient, orchestrator.Options{
		Workers: cfg.Engine.Workers,
		Defaults: orchestrator.Defaults{
			Project:      cfg.Engine.Project,
			CloudProject: cfg.Engine.CloudProject,
			Region:       cfg.Engine.Region,
			AppImage:     cfg.Engine.AppImage,
		},
		Publisher: hub,
		Recorder:  store,
	})
	defer orch.Close()

	// Optional browser login via OIDC
	var oidcHandler *handler.OIDCHandler
	var sessions *auth.SessionManager
	if cfg.OIDC.Enabled {
		secret, err := cfg.OIDC.GetSessionSecretBytes()
		if err != nil {
			log.Fatalf("Invalid OIDC session secret: %v", err)
		}
		provider, err := auth.NewOIDCProvider(context.Background(),
			cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret,
			cfg.OIDC.RedirectURL, cfg.OIDC.GetScopes(), cfg.OIDC.GetAllowedDomains())
		if err != nil {
			log.Fatalf("Failed to initialize OIDC provider: %v", err)
		}
		sessions, err = auth.NewSessionManager(secret, cfg.OIDC.SessionDuration, true)
		if err != nil {
			log.Fatalf("Failed to initialize session manager: %v", err)
		}
		states, err := auth.NewStateStore(secret, true)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC state store: %v", err)
		}
		oidcHandler = handler.NewOIDCHandler(provider, sessions, states, cfg.OIDC.LogoutURL)
		log.Printf("OIDC login enabled for issuer %s", cfg.OIDC.IssuerURL)
	}

	// Create router
	router := api.NewRouter(store, orch, fileSvc, hub, cfg.Auth.BootstrapAPIKey, oidcHandler, sessions)

	// Create HTTP server. Write timeout is generous because lifecycle
	// endpoints block until the engine operation finishes.
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting stackd on http://%s", cfg.Server.Addr())
	log.Printf("Press Ctrl+C to stop")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
