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

	"github.com/mantonx/captiond/internal/config"
	"github.com/mantonx/captiond/internal/database"
	"github.com/mantonx/captiond/internal/logger"
	"github.com/mantonx/captiond/internal/server"
)

func main() {
	fmt.Println("=======================================")
	fmt.Println("  captiond - image captioning service  ")
	fmt.Println("=======================================")

	// Initialize configuration system first
	configPath := os.Getenv("CAPTIOND_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./captiond.yaml"); err == nil {
			configPath = "./captiond.yaml"
		}
	}

	if err := config.Load(configPath); err != nil {
		log.Printf("⚠️  Warning: Failed to load configuration from %s: %v", configPath, err)
		log.Printf("Using default configuration")
	} else if configPath != "" {
		log.Printf("✅ Configuration loaded from: %s", configPath)
	} else {
		log.Printf("✅ Using default configuration")
	}

	cfg := config.Get()
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	// Initialize database
	if err := database.Initialize(&cfg.Database); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Setup router with modules
	r := server.SetupRouter()

	// Create a context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\nShutting down gracefully...")

		// Create a deadline for shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		// Shutdown HTTP server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		// Shutdown modules and the event bus
		if err := server.Shutdown(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}

		cancel()
	}()

	// Start the server
	log.Printf("🚀 Starting captiond on %s:%d", cfg.Server.Host, cfg.Server.Port)
	err := srv.ListenAndServe()

	// Handle server startup errors
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
