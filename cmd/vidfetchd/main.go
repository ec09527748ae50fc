package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpAdapter "vidfetchd/internal/adapter/http"
	"vidfetchd/internal/adapter/ytdlp"
	"vidfetchd/internal/config"
	"vidfetchd/internal/domain"
	"vidfetchd/internal/fs"
	"vidfetchd/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	log.Printf("starting vidfetchd on port %d", cfg.Port)
	log.Printf("download dir: %s (sandboxed under %s)", cfg.DownloadDir, cfg.AllowedBaseDir)

	// Make sure the default download dir exists and is inside the sandbox.
	if _, err := fs.ResolveTargetDir("", cfg.DownloadDir, cfg.AllowedBaseDir); err != nil {
		log.Fatalf("invalid download directory: %v", err)
	}

	engine := ytdlp.New(cfg.YtdlpPath)

	// Explicitly constructed and injected; no ambient global state.
	registry := domain.NewRegistry()

	wk := worker.New(registry, engine, worker.Options{
		AllowedBaseDir:   cfg.AllowedBaseDir,
		HostDownloadsDir: cfg.HostDownloadsDir,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(registry, wk, engine, httpAdapter.Options{
		Addr:               addr,
		DefaultDownloadDir: cfg.DownloadDir,
		AllowedBaseDir:     cfg.AllowedBaseDir,
		StaticDir:          cfg.StaticDir,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("shutdown complete")
}
