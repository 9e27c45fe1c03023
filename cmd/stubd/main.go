package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vadim/prodesk/internal/config"
	"github.com/vadim/prodesk/internal/database"
	"github.com/vadim/prodesk/internal/storage"
	"github.com/vadim/prodesk/internal/stub"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Select the room store: Postgres when a DSN is configured, memory
	// otherwise.
	var store stub.RoomStore
	if dsn := cfg.Stub.PostgresDSN; dsn != "" {
		pool, err := database.NewPostgresPool(ctx, dsn, cfg.Stub.MaxOpenConns)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		pg := stub.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to prepare schema: %v", err)
		}
		store = pg
		logger.Info("using postgres room store")
	} else {
		store = stub.NewMemoryStore()
		logger.Info("using in-memory room store")
	}

	// Select attachment storage: S3/MinIO when an endpoint is configured,
	// local directory otherwise.
	var (
		files    storage.Store
		localDir string
	)
	if cfg.Stub.S3.Endpoint != "" {
		s3Store, err := storage.NewS3Storage(cfg.Stub.S3)
		if err != nil {
			log.Fatalf("failed to initialize s3 storage: %v", err)
		}
		files = s3Store
		logger.Info("using s3 attachment storage", "bucket", cfg.Stub.S3.Bucket)
	} else {
		local, err := storage.NewLocalStorage(cfg.Stub.UploadDir)
		if err != nil {
			log.Fatalf("failed to initialize local storage: %v", err)
		}
		files = local
		localDir = local.Dir()
		logger.Info("using local attachment storage", "dir", localDir)
	}

	server := stub.NewServer(store, files, stub.ParseTokens(cfg.Stub.Tokens), localDir, logger)

	httpServer := &http.Server{
		Addr:         cfg.Stub.Address(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Stub.ReadTimeout,
		WriteTimeout: cfg.Stub.WriteTimeout,
		IdleTimeout:  cfg.Stub.IdleTimeout,
	}

	go func() {
		logger.Info("starting stub server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
