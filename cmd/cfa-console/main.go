package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/orchestrator"
)

const (
	defaultConfigPath = "/etc/cfa/console.json"
	version           = "1.0.0"
)

var (
	configPath  = flag.String("config", defaultConfigPath, "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
	showHelp    = flag.Bool("help", false, "Show help information")
	enrollOnly  = flag.Bool("enroll", false, "Run one enrollment attempt and exit")
	rotateOnly  = flag.Bool("rotate", false, "Delete the stored credential and exit")
)

func main() {
	// Parse command-line flags
	flag.Parse()

	// Show version if requested
	if *showVersion {
		fmt.Printf("CFA Console v%s\n", version)
		os.Exit(0)
	}

	// Show help if requested
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// Set up panic recovery
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC: %v", r)
			log.Printf("Stack trace:\n%s", debug.Stack())
			os.Exit(1)
		}
	}()

	// Load configuration; a missing file means defaults
	log.Printf("Loading configuration from: %s", *configPath)
	cfg, err := config.LoadConfigOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	if err := logger.Initialize(cfg.Logging.File, cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	logger.Info("=== CFA Console v%s ===", version)
	logger.Info("Log level: %s", cfg.Logging.Level)
	logger.Info("Agent: %s, AI service: %s", cfg.Agent.BaseURL, cfg.AI.BaseURL)

	orch, err := orchestrator.NewOrchestrator(cfg, version)
	if err != nil {
		logger.Error("Failed to create orchestrator: %v", err)
		os.Exit(1)
	}

	if *enrollOnly || *rotateOnly {
		os.Exit(runOnce(orch))
	}

	// Run orchestrator (blocks until shutdown signal)
	logger.Info("Starting orchestrator...")
	if err := orch.Run(); err != nil {
		logger.Error("Orchestrator error: %v", err)
		os.Exit(1)
	}

	logger.Info("CFA Console exited cleanly")
}

// runOnce performs a single credential operation without starting the services
func runOnce(orch *orchestrator.Orchestrator) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := orch.Initialize(ctx); err != nil {
		logger.Error("Initialization failed: %v", err)
		return 1
	}
	defer orch.Close()

	if *rotateOnly {
		if err := orch.RotateCredential(ctx); err != nil {
			logger.Error("Rotation failed: %v", err)
			return 1
		}
		fmt.Println("Credential removed; the device must enroll again.")
		return 0
	}

	if err := orch.EnrollOnce(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Enrollment failed: %v\n", err)
		return 1
	}
	fmt.Printf("Enrolled as %s\n", orch.Session().DeviceID())
	return 0
}

// printHelp displays usage information
func printHelp() {
	fmt.Printf("CFA Console v%s\n\n", version)
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n\n", os.Args[0])
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println("\nDescription:")
	fmt.Println("  The CFA console enrolls this device with the local CFA agent and keeps")
	fmt.Println("  a live view of field telemetry and AI insights, falling back to")
	fmt.Println("  synthetic data while the services are unavailable.")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s\n", os.Args[0])
	fmt.Printf("  %s --config /path/to/console.json\n", os.Args[0])
	fmt.Printf("  %s --enroll\n", os.Args[0])
	fmt.Printf("  %s --rotate\n", os.Args[0])
}
