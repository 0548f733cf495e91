package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/inboxhunter/signup-agent/internal/api"
	"github.com/inboxhunter/signup-agent/internal/config"
	"github.com/inboxhunter/signup-agent/internal/logger"
	"github.com/inboxhunter/signup-agent/internal/services"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

var (
	flagConfig      string
	flagCredentials string
	flagSource      string
	flagMaxSignups  int
	flagHeadless    bool
	flagDebug       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signup-agent",
		Short: "Autonomous signup and newsletter form completion agent",
		Long: `signup-agent drives a real Chrome browser through signup and newsletter
forms using an LLM planner. URLs come from a CSV file or the internal
database queue; outcomes are persisted to SQLite.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}

	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to JSON config file")
	rootCmd.Flags().StringVar(&flagCredentials, "credentials", "", "credentials as inline JSON")
	rootCmd.Flags().StringVar(&flagSource, "source", "", "data source: csv, meta or database")
	rootCmd.Flags().IntVar(&flagMaxSignups, "max-signups", 0, "stop after this many successful signups")
	rootCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run the browser headless")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if flagConfig != "" {
		fc, err := config.LoadFile(flagConfig)
		if err != nil {
			return err
		}
		cfg.ApplyFile(fc)
	}

	overrides := config.Overrides{
		CredentialsJSON: flagCredentials,
		Source:          flagSource,
		MaxSignups:      flagMaxSignups,
		Headless:        flagHeadless,
		HeadlessSet:     cmd.Flags().Changed("headless"),
		Debug:           flagDebug,
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logg := logger.New(cfg.Log.Level, cfg.Log.Format)
	logg.Info("Starting signup agent...")

	// A stale stop file from a previous run would stop this one immediately.
	if err := utils.RemoveStopFile(); err != nil {
		logg.WithError(err).Warn("Could not remove stop file")
	}

	container, err := services.NewContainer(cfg, logg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer container.Close()

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg, logg, container)
		server.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logg.Info("Interrupt received, finishing current URL...")
		container.StopController.RequestStop()
		// A second signal forces an immediate exit.
		<-quit
		logg.Warn("Second interrupt, aborting now")
		cancel()
	}()

	summary, runErr := container.PipelineService.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.WithError(err).Warn("Status server shutdown failed")
		}
	}

	if runErr != nil {
		return fmt.Errorf("run ended with error: %w", runErr)
	}
	logg.WithField("successful", summary.Successful).Info("Done")
	return nil
}
