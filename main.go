package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smilecare/voice-reception/config"
	"github.com/smilecare/voice-reception/gateway"
	"github.com/smilecare/voice-reception/server"
	"github.com/smilecare/voice-reception/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Backend gateway
	gw, err := gateway.NewClient(cfg.BackendURL, cfg.HTTPTimeout)
	if err != nil {
		log.Fatalf("Failed to create gateway client: %v", err)
	}

	// Best-effort Redis session mirror
	store := session.NewStore(cfg.RedisURL, cfg.RedisPassword, 30*time.Minute)
	defer store.Close()

	// The appointment-list collaborator: refetch on every booking signal.
	onRefresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		appointments, err := gw.ListAppointments(ctx)
		if err != nil {
			log.Printf("⚠️ appointment refresh failed: %v", err)
			return
		}
		log.Printf("📅 appointment list refreshed: %d booked", len(appointments))
	}

	srv := server.NewServer(cfg, gw, store, onRefresh)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Bridge stopped")
}
