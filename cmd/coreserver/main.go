// Package main provides the entry point for the core server: the admin
// API, test runner, crawler and self-healing engine that drive a remote
// headless-browser server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // registers pprof handlers on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Zeeeepa/browserqa/internal/adminapi"
	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/crawler"
	"github.com/Zeeeepa/browserqa/internal/dsl"
	"github.com/Zeeeepa/browserqa/internal/healing"
	"github.com/Zeeeepa/browserqa/internal/metrics"
	"github.com/Zeeeepa/browserqa/internal/pool"
	"github.com/Zeeeepa/browserqa/internal/resource"
	"github.com/Zeeeepa/browserqa/internal/runner"
	"github.com/Zeeeepa/browserqa/internal/transport"
	"github.com/Zeeeepa/browserqa/pkg/version"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "coreserver",
		Short: "Drives a remote headless-browser server: crawling, self-healing test execution, and adaptive scheduling.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newCrawlCommand(&configPath),
		newHealthcheckCommand(&configPath),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("browserqa %s\n", version.Full())
			return nil
		},
	}
}

func loadConfig(configPath string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.LogLevel)
	return cfg
}

func newHealthcheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the remote browser server's health endpoint and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			tr, err := transport.New(cfg.Remote)
			if err != nil {
				return fmt.Errorf("build transport: %w", err)
			}
			defer tr.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.BaseTimeout)
			defer cancel()

			resp, err := tr.HealthCheck(ctx)
			if err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}

func newCrawlCommand(configPath *string) *cobra.Command {
	var seedURL string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a one-shot crawl against a seed URL and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seedURL == "" {
				return fmt.Errorf("--seed-url is required")
			}
			cfg := loadConfig(*configPath)

			tr, err := transport.New(cfg.Remote)
			if err != nil {
				return fmt.Errorf("build transport: %w", err)
			}
			defer tr.Close()

			p := pool.New(cfg.Pool, tr, nil)
			if err := p.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start pool: %w", err)
			}
			defer p.Close(context.Background())

			cr, err := crawler.New(cfg.Crawl)
			if err != nil {
				return fmt.Errorf("build crawler: %w", err)
			}

			bctx, err := p.Acquire(cmd.Context(), "crawl-cli")
			if err != nil {
				return fmt.Errorf("acquire context: %w", err)
			}
			defer p.Release(context.Background(), bctx)

			result, err := cr.Crawl(cmd.Context(), tr, seedURL, bctx.ID.String(), nil)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&seedURL, "seed-url", "", "URL to start crawling from")
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the core server: resource monitor, context pool, crawler, test runner and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	cfg := loadConfig(configPath)
	printBanner()
	metrics.SetBuildInfo(version.Version, version.GoVersion())

	monitor, err := resource.New(cfg.Resource)
	if err != nil {
		return fmt.Errorf("build resource monitor: %w", err)
	}
	monitor.Start()
	defer monitor.Stop()

	tr, err := transport.New(cfg.Remote)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	defer tr.Close()

	p := pool.New(cfg.Pool, tr, monitor)
	if err := p.Start(context.Background()); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	healer, err := healing.New(cfg.Healing)
	if err != nil {
		return fmt.Errorf("build healing engine: %w", err)
	}

	cr, err := crawler.New(cfg.Crawl)
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}

	executor := dsl.NewStubExecutor(tr, healer)
	rn := runner.New(cfg.Runner, p, executor, monitor)
	rn.Start()

	stopCh := make(chan struct{})
	metrics.StartMemoryCollector(cfg.Resource.SampleInterval, stopCh)

	admin := adminapi.NewServer(adminapi.Deps{
		Config:    cfg,
		Pool:      p,
		Runner:    rn,
		Crawler:   cr,
		Monitor:   monitor,
		Transport: tr,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           admin.Handler,
		ReadTimeout:       cfg.RequestTimeout + 10*time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort)
		pprofServer = &http.Server{
			Addr:         pprofAddr,
			Handler:      http.DefaultServeMux,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		}
		go func() {
			log.Warn().Str("addr", pprofAddr).Msg("pprof server started - exposes runtime internals, use for debugging only")
			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		log.Info().Str("address", addr).
			Int("pool_min_size", cfg.Pool.MinSize).Int("pool_max_size", cfg.Pool.MaxSize).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("core server ready to accept requests")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}
	if pprofServer != nil {
		if err := pprofServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}
	admin.Close()
	rn.Stop()
	if err := p.Close(ctx); err != nil {
		log.Error().Err(err).Msg("pool close error")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printBanner() {
	banner := `
 _                                                            _
| |__  _ __ _____      _____  ___ _ __ __ _  __ _  __ _    __| |
| '_ \| '__/ _ \ \ /\ / / __|/ _ \ '__/ _' |/ _' |/ _' |  / _' |
| |_) | | | (_) \ V  V /\__ \  __/ | | (_| | (_| | (_| | | (_| |
|_.__/|_|  \___/ \_/\_/ |___/\___|_|  \__,_|\__, |\__,_|  \__,_|
                                            |___/
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("starting core server")
}
