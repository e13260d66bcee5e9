package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer/consumer"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/resilience"
)

var (
	servePort    int
	directWrites bool
)

func init() {
	rootCmd.AddCommand(serveCmd, consumeCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().BoolVar(&directWrites, "direct-writes", false,
		"apply HTTP writes to the local engine even when Kafka is enabled")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the search and entry API over HTTP.

With Kafka enabled, entry writes are queued on the entry-upsert topic
and applied by the consumer this process runs alongside the server.
With Redis enabled, search results are cached and the cache is
invalidated on every write.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		ctx, stop := signalContext()
		defer stop()
		return runServe(ctx)
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Apply entry events from Kafka to the local index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		m := metrics.New(nil)
		stopMetrics := startMetrics()
		defer stopMetrics()

		opts := []indexer.Option{indexer.WithMetrics(m)}
		if qc, closeCache := openCache(m); qc != nil {
			defer closeCache()
			opts = append(opts, invalidateOnWrite(qc))
		}
		return withEngine(ctx, func(e *indexer.Engine) error {
			e.StartCheckpointLoop(ctx)
			return runConsumer(ctx, e)
		}, opts...)
	},
}

func runServe(ctx context.Context) error {
	m := metrics.New(nil)
	stopMetrics := startMetrics()
	defer stopMetrics()

	opts := []indexer.Option{indexer.WithMetrics(m)}
	queryCache, closeCache := openCache(m)
	if queryCache != nil {
		defer closeCache()
		opts = append(opts, invalidateOnWrite(queryCache))
	}

	return withEngine(ctx, func(e *indexer.Engine) error {
		e.StartCheckpointLoop(ctx)

		checker := health.NewChecker()
		checker.Register("store", health.PingCheck(e.Ping))

		var queue ingesthandler.Queue
		if cfg.Kafka.Enabled && !directWrites {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.EntryUpsert)
			defer producer.Close()
			queue = publisher.New(producer)
		}

		mux := http.NewServeMux()
		searchhandler.New(e, queryCache, m).Register(mux)
		ingesthandler.New(e, queue).Register(mux)
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
		if queryCache != nil {
			checker.Register("cache", health.OptionalCheck(queryCache.Ping))
		}

		chain := []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.CORS(middleware.DefaultCORSConfig()),
		}
		if cfg.Server.RateLimit > 0 {
			limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
			limiter.StartCleanup(ctx)
			chain = append(chain, middleware.RateLimit(limiter))
		}
		chain = append(chain, middleware.Timeout(cfg.Server.WriteTimeout))

		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      middleware.Chain(mux, chain...),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout + time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			slog.Info("wikindex listening", "addr", server.Addr, "data_dir", cfg.Storage.DataDir)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			slog.Info("shutting down http server")
			return server.Shutdown(shutdownCtx)
		})
		if cfg.Kafka.Enabled {
			g.Go(func() error { return runConsumer(gctx, e) })
		}
		return g.Wait()
	}, opts...)
}

func runConsumer(ctx context.Context, e *indexer.Engine) error {
	if !cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; set kafka.enabled or WIKINDEX_KAFKA_BROKERS")
	}
	notify := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer notify.Close()

	handler := consumer.HandleMessage(e, notify, resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	})
	ic := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.EntryUpsert, handler))
	return ic.Start(ctx)
}

// openCache connects to Redis when it is enabled. A failed connection
// disables caching rather than failing the command.
func openCache(m *metrics.Metrics) (*cache.QueryCache, func()) {
	if !cfg.Redis.Enabled {
		return nil, func() {}
	}
	client, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "addr", cfg.Redis.Addr, "error", err)
		return nil, func() {}
	}
	slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	return cache.New(client, cfg.Redis.CacheTTL, m), func() { client.Close() }
}

func invalidateOnWrite(qc *cache.QueryCache) indexer.Option {
	return indexer.WithWriteHook(func(ctx context.Context, docID string) {
		if err := qc.Invalidate(ctx); err != nil {
			slog.Warn("search cache invalidation failed", "doc_id", docID, "error", err)
		}
	})
}

func startMetrics() func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	shutdown := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}
}
