package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/udpburst/internal/burst"
	"github.com/zsiec/udpburst/internal/config"
	"github.com/zsiec/udpburst/internal/health"
	"github.com/zsiec/udpburst/internal/logger"
	"github.com/zsiec/udpburst/internal/server"
	"github.com/zsiec/udpburst/pkg/version"
)

type options struct {
	configPath  string
	showVersion bool
	args        []string
}

// parseFlags parses the command line. Any parse failure, including a
// flag-shaped port such as "-1", is reported as an error so the caller
// exits 1 before binding.
func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("udpburst", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] [port]\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.args = fs.Args()
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(1)
	}

	if opts.showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := applyPortArg(cfg, opts.args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Usage: udpburst [flags] [port]")
		os.Exit(1)
	}

	logrusLogger, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.FromLogrus(logrusLogger)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	log.Info("Server shutdown complete")
}

// applyPortArg overrides the UDP port with the optional positional
// argument.
func applyPortArg(cfg *config.Config, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: not a number", args[0])
		}
		if err := config.ValidatePort(port); err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.Burst.Port = port
		return nil
	default:
		return fmt.Errorf("expected at most one argument, got %d", len(args))
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	log.WithFields(map[string]interface{}{
		"version":  version.GetInfo().Short(),
		"udp_addr": cfg.Burst.Addr(),
		"results":  cfg.Results.Backend,
	}).Info("Starting UDP burst measurement server")

	var redisClient *redis.Client
	if cfg.Results.Backend == "redis" {
		var err error
		if redisClient, err = connectRedis(&cfg.Redis); err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
		log.Info("Connected to Redis")
	}

	store, err := burst.NewStore(&cfg.Results, redisClient)
	if err != nil {
		return err
	}

	manager := burst.NewManager(&cfg.Burst, &cfg.Results, store, log)
	if err := manager.Start(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Stop(ctx); err != nil {
			log.WithError(err).Error("Failed to stop burst manager cleanly")
		}
	}()

	srv := server.New(&cfg.Server, log)
	srv.Health().Register(health.NewListenerChecker(manager.Listener(), cfg.Burst.MaxSessions))
	srv.Health().Register(health.NewQueueChecker(manager.Publisher()))
	if redisClient != nil {
		srv.Health().Register(health.NewRedisChecker(redisClient))
	}
	srv.RegisterRoutes(burst.NewHandlers(manager, log).RegisterRoutes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, &cfg.Metrics, log)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info("Received shutdown signal")
	}
	return err
}

func connectRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func serveMetrics(ctx context.Context, cfg *config.MetricsConfig, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
