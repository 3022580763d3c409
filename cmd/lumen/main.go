// Package main implements the unified lumen binary.
// This binary can run the HTTP API and the expiry janitor concurrently
// or individual services based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumenapm/lumen/internal/app"
	"github.com/lumenapm/lumen/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "all", "Service mode: all, serve, index, janitor")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP server address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Lumen - Artifact Bundle Indexing and Metrics Expression Service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lumen [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lumen --data-dir /data/lumen\n")
		fmt.Fprintf(os.Stderr, "  lumen --mode serve --http-addr :8080\n")
		fmt.Fprintf(os.Stderr, "  lumen --config /etc/lumen/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  LUMEN_MODE           Service mode (all, serve, index, janitor)\n")
		fmt.Fprintf(os.Stderr, "  LUMEN_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  LUMEN_HTTP_ADDR      HTTP server address\n")
		fmt.Fprintf(os.Stderr, "  LUMEN_STORAGE_TYPE   Storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("lumen version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, mode, httpAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, mode, httpAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags win over file and environment.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("Lumen - Artifact Bundle Indexing and Metrics Expression Service")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("")

	if cfg.ShouldRunServe() {
		log.Printf("HTTP API:")
		log.Printf("  Addr: %s", cfg.HTTP.Addr)
		log.Printf("  Max Upload: %dMB", cfg.HTTP.MaxUploadSizeMB)
	}

	if cfg.ShouldRunJanitor() {
		log.Printf("Janitor:")
		log.Printf("  Interval: %v", cfg.Bundles.JanitorInterval)
		log.Printf("  TTL: %d days", cfg.Bundles.TTLDays)
	}

	log.Printf("")
}
