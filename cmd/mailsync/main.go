package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsync/internal/api"
	"mailsync/internal/app"
	"mailsync/internal/config"
	"mailsync/internal/job"
	"mailsync/internal/logger"
	"mailsync/internal/mailbox"
	"mailsync/internal/metrics"
	"mailsync/internal/progress"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Replicate mail from one IMAP account to another",
	Long: `A concurrent IMAP-to-IMAP mailbox replicator with folder exclusion, date filtering,
dry-run simulation, cooperative cancellation and live progress reporting.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync job and print its progress",
	RunE:  runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().Int("max-workers", 10, "Upper bound for per-job concurrency")
	rootCmd.PersistentFlags().Int("retries", 3, "Attempts per operation on transient faults")
	rootCmd.PersistentFlags().Int("retry-delay-ms", 2000, "Delay between attempts in milliseconds")

	serveCmd.Flags().String("listen", ":3000", "HTTP listen address")
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	serveCmd.Flags().Int("rate-limit", 100, "Requests per client IP per 15 minutes on /api (0 disables)")

	// Source flags
	runCmd.Flags().String("src-host", "", "Source IMAP host")
	runCmd.Flags().Int("src-port", mailbox.DefaultPort, "Source IMAP port")
	runCmd.Flags().String("src-user", "", "Source username")
	runCmd.Flags().String("src-pass", "", "Source password")
	runCmd.Flags().Bool("src-secure", true, "Use implicit TLS for source")
	runCmd.Flags().Bool("src-insecure-skip-verify", true, "Skip source certificate verification")

	// Destination flags
	runCmd.Flags().String("dst-host", "", "Destination IMAP host")
	runCmd.Flags().Int("dst-port", mailbox.DefaultPort, "Destination IMAP port")
	runCmd.Flags().String("dst-user", "", "Destination username")
	runCmd.Flags().String("dst-pass", "", "Destination password")
	runCmd.Flags().Bool("dst-secure", true, "Use implicit TLS for destination")
	runCmd.Flags().Bool("dst-insecure-skip-verify", true, "Skip destination certificate verification")

	// Sync flags
	runCmd.Flags().String("job-id", "", "Job id (generated when empty)")
	runCmd.Flags().Int("concurrency", 1, "Number of concurrent workers")
	runCmd.Flags().Bool("dry-run", false, "Fetch messages without writing to the destination")
	runCmd.Flags().String("since-date", "", "Only messages on or after this date (DD-Mon-YYYY)")
	runCmd.Flags().String("exclude-folders", "", "Comma-separated folder names to skip")
	runCmd.Flags().Bool("show-progress", true, "Show progress bar")

	rootCmd.AddCommand(serveCmd, runCmd)
}

// setup loads the configuration and builds the shared components
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, *app.Syncer, *metrics.Collector, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	collector := metrics.New()
	syncer := app.New(cfg, mailbox.IMAPDialer{}, job.NewRegistry(), collector, log)
	return cfg, log, syncer, collector, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, syncer, collector, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           api.New(cfg, syncer, collector, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Received shutdown signal, gracefully stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	// Running jobs are stopped first so their event streams end and the
	// server can drain the open SSE responses.
	if err := syncer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Sync jobs did not finish in time", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, log, syncer, collector, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	since, err := app.ParseSinceDate(cfg.Sync.SinceDate)
	if err != nil {
		return err
	}

	req := app.Request{
		JobID:       cfg.Sync.JobID,
		Concurrency: cfg.Sync.Concurrency,
		Source:      cfg.SourceMailbox(),
		Target:      cfg.TargetMailbox(),
		Options: app.Options{
			DryRun:         cfg.Sync.DryRun,
			Since:          since,
			ExcludeFolders: cfg.Sync.ExcludeFolders,
		},
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}

	stream, err := syncer.Start(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
		case <-done:
			return
		}
		log.Info("Received shutdown signal, stopping sync...")
		if err := syncer.Stop(req.JobID); err != nil && !errors.Is(err, job.ErrJobNotFound) {
			log.Error("Failed to stop sync", zap.Error(err))
		}
	}()

	display := progress.NewDisplay(os.Stdout, cfg.Sync.ShowProgress && progress.IsTerminalSupported())
	summary := display.Run(stream)

	stats := collector.Stats()
	fmt.Printf("Synced:   %d messages (%s)\n", stats.TotalEmails, progress.FormatBytes(stats.TotalBytes))

	if summary.LastProgress != 100 {
		return fmt.Errorf("sync did not complete: %s", summary.LastMessage)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
