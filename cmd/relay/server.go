package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/llmrelay/llm-relay/internal/config"
	"github.com/llmrelay/llm-relay/internal/logging"
	"github.com/llmrelay/llm-relay/internal/server"
	"github.com/llmrelay/llm-relay/internal/store"
)

// Server command flags
var (
	serverEnvFile    string
	serverListenAddr string
	serverBackend    string
	serverLogLevel   string
	serverLogFile    string
	debugMode        bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the relay server",
	Long:  `Start the relay server using the configuration from setup.`,
	Run:   runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverEnvFile, "env", ".env", "Path to .env file")
	serverCmd.Flags().StringVar(&serverListenAddr, "addr", "", "Address to listen on (overrides env var)")
	serverCmd.Flags().StringVar(&serverBackend, "store", "", "Store backend: memory, sqlite, postgres, redis (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides env var)")
	serverCmd.Flags().StringVar(&serverLogFile, "log-file", "", "Path to log file (overrides env var, default: stdout)")
	serverCmd.Flags().BoolVarP(&debugMode, "debug", "v", false, "Enable debug logging (overrides log-level)")
}

func runServer(cmd *cobra.Command, args []string) {
	// Load .env file if it exists
	if _, err := os.Stat(serverEnvFile); err == nil {
		if err := godotenv.Load(serverEnvFile); err != nil {
			log.Printf("Warning: Error loading %s file: %v", serverEnvFile, err)
		} else {
			log.Printf("Loaded environment from %s", serverEnvFile)
		}
	}

	// Apply command line overrides to environment variables
	overrides := map[string]string{
		"LISTEN_ADDR":   serverListenAddr,
		"STORE_BACKEND": serverBackend,
		"LOG_LEVEL":     serverLogLevel,
		"LOG_FILE":      serverLogFile,
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			log.Fatalf("Failed to set %s environment variable: %v", key, err)
		}
	}
	if debugMode {
		_ = os.Setenv("LOG_LEVEL", "debug")
		fmt.Println("Debug logging enabled")
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			if !strings.Contains(err.Error(), "inappropriate ioctl for device") {
				log.Printf("Error syncing zap logger: %v", err)
			}
		}
	}()

	// Handle graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Fail fast if the configured address is already in use
	if ln, err := net.Listen("tcp", cfg.ListenAddr); err != nil {
		zapLogger.Fatal("Listen address unavailable (already in use?)", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	} else {
		_ = ln.Close()
	}

	operationalStore, err := store.New(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize store", zap.Error(err))
	}

	var profiles *config.TargetProfiles
	if cfg.TargetProfilesPath != "" {
		profiles, err = config.LoadTargetProfiles(cfg.TargetProfilesPath)
		if err != nil {
			zapLogger.Fatal("Failed to load target profiles",
				zap.String("path", cfg.TargetProfilesPath), zap.Error(err))
		}
		zapLogger.Info("target profiles loaded", zap.String("path", cfg.TargetProfilesPath))
	}

	s, err := server.New(cfg, operationalStore, profiles, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize server", zap.Error(err))
	}

	zapLogger.Info("Server starting",
		zap.String("addr", cfg.ListenAddr),
		zap.String("store", cfg.StoreBackend),
		zap.String("default_target", cfg.DefaultAPIURL),
		zap.String("default_key", logging.ObfuscateSecret(cfg.DefaultAPIKey)),
	)

	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server error", zap.Error(err))
		}
	}()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("Press Ctrl+C to stop")
	}

	// Wait for interrupt signal
	<-done
	zapLogger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		zapLogger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited gracefully")
}
