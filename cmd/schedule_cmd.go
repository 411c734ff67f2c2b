package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run automatic backups on the configured schedule",
	Long: `schedule runs in the foreground, triggering a backup at every tick of
backup.schedule until interrupted. When metrics.address is set, Prometheus
metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Backup.Schedule == "" {
			return fmt.Errorf("%w: backup.schedule is not set", backup.ErrConfiguration)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, &cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		sched, err := scheduler.New(a.orchestrator, cfg.Backup.Schedule, backup.Options{
			IncludeFiles:  cfg.Backup.IncludeFiles,
			IncludeLogs:   cfg.Backup.IncludeLogs,
			Encrypt:       cfg.Backup.Encrypt,
			RetentionDays: cfg.Backup.RetentionDays,
		}, scheduler.WithLogger(log.With("component", "scheduler")))
		if err != nil {
			return fmt.Errorf("%w: %v", backup.ErrConfiguration, err)
		}

		var srv *http.Server
		if cfg.Metrics.Address != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", a.metrics.Handler())
			srv = &http.Server{
				Addr:              cfg.Metrics.Address,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				log.Info("Serving metrics", "address", cfg.Metrics.Address)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server stopped", "error", err)
				}
			}()
		}

		sched.Start(ctx)
		<-ctx.Done()

		log.Info("Shutdown requested, waiting for running backup")
		<-sched.Stop().Done()

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("Metrics server shutdown", "error", err)
			}
		}
		return nil
	},
}
