package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pos-sync/internal/api"
	"pos-sync/internal/config"
	"pos-sync/internal/gateway"
	"pos-sync/internal/logger"
	"pos-sync/internal/netmon"
	"pos-sync/internal/notify"
	"pos-sync/internal/orders"
	"pos-sync/internal/store"
	syncengine "pos-sync/internal/sync"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, using environment defaults")
	}
	cfg := config.Load()

	appLog := logger.NewLogger()
	defer appLog.Close()

	// --- Local Store Setup ---
	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		log.Fatalf("❌ Failed to open local store: %v", err)
	}
	defer st.Close()
	log.Println("📦 Local store ready at " + cfg.StorePath)

	// --- Connectivity Monitor ---
	monitor := netmon.New(true)
	if cfg.ProbeURL != "" {
		monitor.StartProbe(ctx, cfg.ProbeURL, cfg.ProbeInterval, nil)
	}

	// --- Remote Gateway ---
	gw := gateway.New(gateway.Config{
		BaseURL:     cfg.RemoteBaseURL,
		APIKey:      cfg.RemoteAPIKey,
		Timeout:     cfg.RemoteTimeout,
		FeedBrokers: cfg.FeedBrokers,
		FeedTopic:   cfg.FeedTopic,
	}, appLog)

	// --- Sync Engine ---
	emitter := notify.NewEmitter()
	engine := syncengine.New(syncengine.Config{
		TenantID:      cfg.TenantID,
		MaxRetries:    cfg.MaxRetries,
		FlushInterval: cfg.FlushInterval,
	}, st, gw, monitor, emitter, appLog)

	log.Println("🔄 Starting sync engine for tenant " + cfg.TenantID)
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("❌ Failed to start sync engine: %v", err)
	}
	defer engine.Stop()

	// --- Order Service & Router ---
	service := orders.NewService(st, gw, monitor, engine, appLog, cfg.TenantID)
	handler := api.NewHandler(service, engine, monitor, emitter, appLog)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Println("🚀 POS terminal running on " + cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("📦 Shutdown signal received. Cleaning up...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Terminal exited gracefully")
}
