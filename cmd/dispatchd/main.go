package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlexGrek/offloadmq/pkg/agentregistry"
	"github.com/AlexGrek/offloadmq/pkg/apikeys"
	"github.com/AlexGrek/offloadmq/pkg/broker"
	"github.com/AlexGrek/offloadmq/pkg/config"
	"github.com/AlexGrek/offloadmq/pkg/durabletask"
	"github.com/AlexGrek/offloadmq/pkg/httpapi"
	"github.com/AlexGrek/offloadmq/pkg/log"
	"github.com/AlexGrek/offloadmq/pkg/metrics"
	"github.com/AlexGrek/offloadmq/pkg/scheduler"
	"github.com/AlexGrek/offloadmq/pkg/urgenttask"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dispatchd",
	Short:   "offloadmq - capability-routed task broker",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("shuffle-queue", false, "Shuffle regular-task candidates before tier filtering")
	rootCmd.PersistentFlags().Bool("allow-same-top-tier", false, "Relax tier suppression from > to >= for regular tasks")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		shuffle, _ := cmd.Flags().GetBool("shuffle-queue")
		allowSameTier, _ := cmd.Flags().GetBool("allow-same-top-tier")
		scheduler.InitPreferences(scheduler.Preferences{
			ShuffleQueue:                shuffle,
			AllowAssigningToSameTopTier: allowSameTier,
		})

		cfg := config.Load()
		metrics.SetVersion(Version)

		agents, err := agentregistry.Open(cfg.DataDir, agentregistry.DefaultCacheTTL)
		if err != nil {
			return fmt.Errorf("open agent registry: %w", err)
		}
		defer agents.Close()

		keys, err := apikeys.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open api key registry: %w", err)
		}
		defer keys.Close()
		if err := keys.InitializeFromList(cfg.ClientAPIKeys); err != nil {
			return fmt.Errorf("seed client api keys: %w", err)
		}

		durable, err := durabletask.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open durable task store: %w", err)
		}
		defer durable.Close()

		urgent := urgenttask.New()

		metrics.RegisterComponent("kv", true, "")
		b := broker.New(agents, keys, durable, urgent, cfg.JWTSecret, cfg.AgentAPIKeys)
		server := httpapi.New(b, cfg.ManagementToken)

		stopWorkers := startBackgroundWorkers(agents, durable, urgent)
		defer stopWorkers()

		httpServer := &http.Server{
			Addr:    cfg.Addr(),
			Handler: server,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Logger.Info().Str("addr", cfg.Addr()).Msg("starting broker HTTP server")
			metrics.RegisterComponent("httpapi", true, "")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			log.Logger.Error().Err(err).Msg("http server error")
		}

		metrics.RegisterComponent("httpapi", false, "shutting down")
		if err := httpServer.Close(); err != nil {
			log.Logger.Warn().Err(err).Msg("error closing http server")
		}
		return nil
	},
}
