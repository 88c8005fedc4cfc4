// Command server runs the collaboration server: the socket gateway and
// the HTTP surface share one bind address.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/collab-docs/roomserver/internal/api"
	"github.com/collab-docs/roomserver/internal/collab"
	"github.com/collab-docs/roomserver/internal/config"
	"github.com/collab-docs/roomserver/internal/logger"
	"github.com/collab-docs/roomserver/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger.SetDefaultLevel(logger.ParseLevel(cfg.LogLevel))
	log := logger.New("server")
	log.Info("starting with storage=%s port=%s", cfg.StorageType, cfg.Port)

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()

	registry := collab.NewRegistry(logger.New("registry"))
	gateway := collab.NewGateway(registry, logger.New("gateway"))
	handler := api.NewHandler(store, registry, logger.New("api"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler.RegisterRoutes(r)
	r.GET("/socket", func(c *gin.Context) {
		gateway.HandleWebSocket(c.Writer, c.Request)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	registry.Shutdown()
	log.Info("stopped")
	return nil
}

func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageType {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil
	case config.StorageFilesystem:
		return storage.NewFilesystemStore(cfg.LocalStoragePath)
	case config.StorageSQLite:
		return storage.NewSQLiteStore(cfg.DataSourceName)
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
}
