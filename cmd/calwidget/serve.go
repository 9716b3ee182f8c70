package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"calwidget/internal/config"
	"calwidget/internal/ics"
	appLog "calwidget/internal/log"
	"calwidget/internal/metrics"
	"calwidget/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API that serves parsed events and grid layouts.

Configured feeds are refreshed in the background on the "refresh" cron
schedule so requests are answered from a warm cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, listen)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "./config.yaml", "Path to config file")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(ctx context.Context, configPath, listen string) error {
	conf, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		return err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if listen != "" {
		conf.Listen = listen
	}

	appLog.Info("calwidget starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_ttl", conf.CacheTTL.String(),
		"visible_rows", conf.VisibleRows,
		"calendars", len(conf.Calendars),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := web.NewServer(conf, ics.NewFetcher(conf.CacheDir, conf.CacheTTL), metrics.New())

	if conf.RefreshCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(conf.RefreshCron, func() { srv.Refresh(ctx) }); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", conf.RefreshCron, err)
		}
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
	}

	// Warm the cache once without waiting for the first tick.
	go srv.Refresh(ctx)

	err = web.StartServer(ctx, srv)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	appLog.Info("calwidget exiting")
	return err
}
