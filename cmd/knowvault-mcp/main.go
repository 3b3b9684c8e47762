// Package main provides the MCP server entry point for the knowledge store.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/knowvault/knowvault/internal/crypto"
	"github.com/knowvault/knowvault/internal/embedding"
	mcpserver "github.com/knowvault/knowvault/internal/mcp"
	"github.com/knowvault/knowvault/internal/store"
	"github.com/knowvault/knowvault/internal/vectorstore"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Configuration from environment
	qdrantHost := getEnv("QDRANT_HOST", "localhost")
	qdrantPort := getEnvInt("QDRANT_PORT", 6334)
	port := getEnv("PORT", "8080")
	root := getEnv("KNOWVAULT_ROOT", "./databases")

	passphrase := os.Getenv("KNOWVAULT_PASSPHRASE")
	if passphrase == "" {
		log.Fatal("KNOWVAULT_PASSPHRASE is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	embedder, err := embedding.NewOpenAI(getEnv("EMBEDDING_MODEL", embedding.DefaultModel), 0)
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}

	vectors, err := vectorstore.NewQdrantProvider(qdrantHost, qdrantPort, embedder)
	if err != nil {
		log.Fatalf("failed to connect to Qdrant: %v", err)
	}
	defer vectors.Close()

	manager, err := store.NewManager(root, crypto.NewKeyring(passphrase), vectors, store.NewRegistry(), logger)
	if err != nil {
		log.Fatalf("failed to open databases root: %v", err)
	}

	// Create MCP server
	server := mcpserver.NewServer(&mcpserver.Config{
		Manager: manager,
		Logger:  logger,
	})

	// Create HTTP server with multiple endpoints
	mux := http.NewServeMux()

	// Landing page and health endpoint
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(vectors))

	// MCP HTTP endpoint (for remote client connections)
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	// Check if running in server mode (HTTP) or stdio mode (local development)
	serverMode := getEnv("SERVER_MODE", "false") == "true"

	if serverMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		addr := "0.0.0.0:" + port
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	} else {
		// Stdio mode: run MCP server over stdin/stdout for local clients
		// Also start HTTP health endpoint in background for local testing
		go func() {
			addr := "0.0.0.0:" + port
			log.Printf("Starting health server on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Health server error: %v", err)
			}
		}()

		log.Println("Starting knowledge store MCP server (stdio mode)...")
		if err := server.Run(ctx); err != nil {
			log.Printf("server error: %v", err)
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
