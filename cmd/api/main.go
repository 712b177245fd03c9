package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"toolforge/api/internal/alert"
	"toolforge/api/internal/app"
	"toolforge/api/internal/archive"
	"toolforge/api/internal/collab"
	"toolforge/api/internal/config"
	"toolforge/api/internal/history"
	"toolforge/api/internal/persist"
	"toolforge/api/internal/presence"
	"toolforge/api/internal/search"
	"toolforge/api/internal/store"
	"toolforge/api/internal/transport"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	alertService := alert.NewService(alert.Config{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		Recipients: splitRecipients(cfg.AlertRecipients),
	})

	writer := persist.NewWriter(dataStore, cfg.FlushDebounce).
		WithIndexer(searchService).
		WithNotifier(alertService)

	var historyService *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			log.Fatalf("failed to create history dir: %v", err)
		}
		historyService = history.New(cfg.HistoryDir)
		writer = writer.WithMirror(historyService)
		log.Printf("history mirror enabled at %s", cfg.HistoryDir)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveService, err := archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("snapshot archive init failed: %v", err)
		}
		writer = writer.WithArchiver(archiveService)
		log.Printf("snapshot archive enabled at %s/%s", cfg.MinioEndpoint, cfg.MinioBucket)
	}

	var presenceStore collab.PresenceStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		registry, err := presence.NewRegistry(cfg.RedisURL, 2*cfg.HeartbeatTimeout)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer registry.Close()
		presenceStore = registry
		log.Printf("presence registry enabled")
	}

	engine := collab.NewEngine(collab.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SessionBuffer:    cfg.SessionBuffer,
		DedupWindow:      cfg.DedupWindow,
	}, writer, writer, presenceStore)

	var historyReader app.HistoryReader
	if historyService != nil {
		historyReader = historyService
	}
	service := app.New(cfg, dataStore, engine, searchService, historyReader)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	wsHandler := transport.NewHandler(engine)
	httpServer := app.NewHTTPServer(service, wsHandler, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Toolforge API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// Sessions first, then whatever their ops left behind.
	engine.Close()
	if err := writer.FlushAll(shutdownCtx); err != nil {
		log.Printf("final flush error: %v", err)
	}
	writer.Close()
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
