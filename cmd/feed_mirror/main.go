// Package main implements the feed_mirror binary that mirrors a remote item
// feed into PostgreSQL.
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

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/feed_mirror/internal/db"
	"github.com/cybertec-postgresql/feed_mirror/internal/etcd"
	"github.com/cybertec-postgresql/feed_mirror/internal/log"
	"github.com/cybertec-postgresql/feed_mirror/internal/metrics"
	"github.com/cybertec-postgresql/feed_mirror/internal/retry"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
	"github.com/cybertec-postgresql/feed_mirror/internal/sync"
)

// Config holds the application configuration
type Config struct {
	SourceURL       string `short:"s" env:"FEED_MIRROR_SOURCE_URL" long:"source-url" description:"Base URL of the item feed" default:"https://hacker-news.firebaseio.com/v0"`
	PostgresDSN     string `short:"p" env:"FEED_MIRROR_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string"`
	EtcdDSN         string `short:"e" env:"FEED_MIRROR_ETCD_DSN" long:"etcd-dsn" description:"etcd connection string, keeps the high-water mark in etcd when set"`
	LogLevel        string `short:"l" env:"FEED_MIRROR_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	PollingInterval string `long:"polling-interval" description:"Pause between two synchronization ticks" default:"1s"`
	FetchTimeout    string `long:"fetch-timeout" description:"Upper bound for collecting one batch of concurrent fetches" default:"60s"`
	BatchSize       int64  `long:"batch-size" description:"Number of ids fetched concurrently during catch-up" default:"50"`
	MaxInFlight     int    `long:"max-in-flight" description:"Maximum number of concurrent item requests, 0 for one per id" default:"0"`
	MetricsAddr     string `env:"FEED_MIRROR_METRICS_ADDR" long:"metrics-addr" description:"Listen address of the Prometheus endpoint, disabled when empty"`
	Version         bool   `short:"v" long:"version" description:"Show version information"`
	Help            bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// SyncConfig validates the engine options and converts them
func (c *Config) SyncConfig() (sync.Config, error) {
	pollingInterval, err := time.ParseDuration(c.PollingInterval)
	if err != nil {
		return sync.Config{}, fmt.Errorf("invalid polling interval: %w", err)
	}
	fetchTimeout, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return sync.Config{}, fmt.Errorf("invalid fetch timeout: %w", err)
	}
	if pollingInterval <= 0 || fetchTimeout <= 0 {
		return sync.Config{}, errors.New("polling interval and fetch timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return sync.Config{}, fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxInFlight < 0 {
		return sync.Config{}, fmt.Errorf("max in flight must not be negative, got %d", c.MaxInFlight)
	}
	return sync.Config{
		PollingInterval: pollingInterval,
		FetchTimeout:    fetchTimeout,
		BatchSize:       c.BatchSize,
		MaxInFlight:     c.MaxInFlight,
	}, nil
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("feed_mirror version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("feed_mirror logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. The in-progress batch is
// finished before the sync loop returns.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Stopping synchronization...")
		cancel()
	}()
}

// ConnectSource creates the feed client and waits until the feed answers
func ConnectSource(ctx context.Context, baseURL string) (*source.Client, error) {
	client, err := source.New(baseURL)
	if err != nil {
		return nil, err
	}
	err = retry.WithOperation(ctx, retry.SourceDefaults(), func() error {
		return client.Ping(ctx)
	}, "Item feed probe")
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ServeMetrics exposes the Prometheus endpoint on addr until ctx is done
func ServeMetrics(ctx context.Context, addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.WithField("addr", addr).Info("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Metrics endpoint failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	syncConfig, err := config.SyncConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid synchronization settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	pgPool, err := db.NewWithRetry(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to PostgreSQL after retries")
	}
	defer pgPool.Close()

	if err := db.MigratePool(ctx, pgPool); err != nil {
		logrus.WithError(err).Fatal("Failed to apply database migrations")
	}
	store := db.NewStore(pgPool)

	var cursor sync.Cursor = store
	if config.EtcdDSN != "" {
		etcdClient, err := etcd.NewEtcdClientWithRetry(ctx, config.EtcdDSN)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to etcd after retries")
		}
		defer etcdClient.Close()
		cursor = etcd.NewCursor(etcdClient)
		logrus.WithField("key", etcd.CursorKey(etcdClient.Prefix())).Info("Keeping high-water mark in etcd")
	}

	src, err := ConnectSource(ctx, config.SourceURL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to reach item feed after retries")
	}

	var opts []sync.ServiceOption
	if config.MetricsAddr != "" {
		opts = append(opts, sync.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
		ServeMetrics(ctx, config.MetricsAddr, promhttp.Handler())
	}

	syncService := sync.NewService(src, store, cursor, syncConfig, opts...)
	if err := syncService.Start(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Synchronization failed")
	}

	logrus.Info("Graceful shutdown completed")
}
