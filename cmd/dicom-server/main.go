// Package main implements the entry point for the dicom-server storage
// engine node. It provisions the JetStream buckets, wires the
// NATS-backed stores into the ingestion and retrieval pipelines, and
// supervises the schema version watcher and the metrics endpoint until
// shutdown.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/sroyama/dicom-server/blob"
	"github.com/sroyama/dicom-server/config"
	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/engine"
	"github.com/sroyama/dicom-server/index"
	"github.com/sroyama/dicom-server/ingest"
	"github.com/sroyama/dicom-server/metric"
	"github.com/sroyama/dicom-server/natsclient"
	"github.com/sroyama/dicom-server/pkg/cache"
	"github.com/sroyama/dicom-server/retrieve"
	"github.com/sroyama/dicom-server/schema"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dicom-server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	if cli.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting dicom-server",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()

	client, err := buildNATSClient(cfg, logger, registry)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			slog.Warn("NATS close failed", "error", err)
		}
	}()

	deps, err := buildStores(ctx, cfg, client, logger)
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg, deps, logger, registry)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			slog.Warn("Engine stop failed", "error", err)
		}
	}()

	return supervise(ctx, cfg, deps, logger, registry)
}

// stores bundles the NATS-backed storage layer.
type stores struct {
	blobs    blob.Store
	index    index.Store
	resolver *schema.Resolver[index.Store]
	control  *natsclient.KVStore
}

// buildNATSClient creates the client with reconnect and health
// instrumentation wired in.
func buildNATSClient(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(cfg.NATS.ClientName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	return natsclient.NewClient(cfg.NATS.URL, opts...)
}

// buildStores provisions the buckets and assembles the versioned store
// stack on top of them.
func buildStores(ctx context.Context, cfg *config.Config, client *natsclient.Client, logger *slog.Logger) (*stores, error) {
	blobBucket, err := client.ObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
		Bucket:   cfg.Buckets.Blob.Name,
		MaxBytes: cfg.Buckets.Blob.MaxBytes,
		Replicas: cfg.Buckets.Blob.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("provision blob bucket %s: %w", cfg.Buckets.Blob.Name, err)
	}

	indexBucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Buckets.Index.Name,
		MaxBytes: cfg.Buckets.Index.MaxBytes,
		Replicas: cfg.Buckets.Index.Replicas,
		History:  history(cfg.Buckets.Index.History),
	})
	if err != nil {
		return nil, fmt.Errorf("provision index bucket %s: %w", cfg.Buckets.Index.Name, err)
	}

	controlBucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Buckets.Control.Name,
		MaxBytes: cfg.Buckets.Control.MaxBytes,
		Replicas: cfg.Buckets.Control.Replicas,
		History:  history(cfg.Buckets.Control.History),
	})
	if err != nil {
		return nil, fmt.Errorf("provision control bucket %s: %w", cfg.Buckets.Control.Name, err)
	}

	indexKV := client.NewKVStore(indexBucket)
	controlKV := client.NewKVStore(controlBucket)

	if err := bootstrapSchema(ctx, controlKV, cfg.Schema.ActiveVersionKey); err != nil {
		return nil, err
	}

	source := schema.NewKVVersionSource(controlKV, cfg.Schema.ActiveVersionKey)
	resolver, err := schema.NewResolver(source, index.Registrations(indexKV, logger)...)
	if err != nil {
		return nil, fmt.Errorf("create schema resolver: %w", err)
	}

	// Fail fast on an unreadable or unserved schema version.
	if _, err := resolver.Resolve(ctx); err != nil {
		return nil, fmt.Errorf("resolve active schema: %w", err)
	}
	if v, ok := resolver.ResolvedVersion(); ok {
		slog.Info("Storage schema resolved", "version", v.String())
	}

	return &stores{
		blobs:    blob.NewObjectStore(blobBucket, logger),
		index:    index.NewVersionedStore(resolver),
		resolver: resolver,
		control:  controlKV,
	}, nil
}

// bootstrapSchema publishes the current schema version on first boot.
// A concurrent node winning the create is fine; the value is the same.
func bootstrapSchema(ctx context.Context, control *natsclient.KVStore, key string) error {
	_, err := control.Create(ctx, key, []byte(index.CurrentSchemaVersion.String()))
	if err != nil && !stderrors.Is(err, natsclient.ErrKVKeyExists) {
		return fmt.Errorf("bootstrap schema version: %w", err)
	}
	return nil
}

// buildEngine assembles the pipelines with metrics-instrumented caches.
func buildEngine(cfg *config.Config, deps *stores, logger *slog.Logger, registry *metric.MetricsRegistry) (*engine.Engine, error) {
	metaCache, err := cache.NewFromConfig(cfg.Retrieve.MetadataCache,
		cache.WithMetrics[[]dicom.InstanceMetadata](registry, "retrieve_metadata"))
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	frameCache, err := cache.NewFromConfig(cfg.Retrieve.FrameRangeCache,
		cache.WithMetrics[dicom.FrameRangeIndex](registry, "retrieve_frames"))
	if err != nil {
		return nil, fmt.Errorf("create frame range cache: %w", err)
	}

	return engine.New(deps.index, deps.blobs, engine.Config{
		Ingest: ingest.Config{
			Lenient:             cfg.Ingest.Lenient,
			MaxEntrySizeBytes:   cfg.Ingest.MaxEntrySizeBytes,
			DisposalWorkers:     cfg.Ingest.Disposal.Workers,
			DisposalQueueSize:   cfg.Ingest.Disposal.QueueSize,
			DisposalStopTimeout: cfg.Ingest.Disposal.StopTimeout,
		},
		Retrieve: retrieve.Config{
			MaxObjectSizeBytes: cfg.Retrieve.MaxObjectSizeBytes,
		},
	},
		engine.WithLogger(logger),
		engine.WithMetrics(registry.CoreMetrics()),
		engine.WithMetadataCache(metaCache),
		engine.WithFrameRangeCache(frameCache),
	), nil
}

// supervise runs the long-lived side services until a shutdown signal
// arrives or one of them fails.
func supervise(ctx context.Context, cfg *config.Config, deps *stores, logger *slog.Logger, registry *metric.MetricsRegistry) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		g.Go(func() error {
			slog.Info("Metrics server listening", "address", srv.Address())
			return srv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop()
		})
	}

	if cfg.Schema.WatchEnabled {
		watcher := schema.NewWatcher(deps.control, cfg.Schema.ActiveVersionKey, logger, deps.resolver)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	// Keeps the group alive when both side services are disabled.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	slog.Info("dicom-server started")

	err := g.Wait()
	slog.Info("dicom-server shutdown complete")
	return err
}

// history clamps the configured KV history depth to a valid value.
func history(n int) uint8 {
	if n <= 0 {
		return 1
	}
	if n > 64 {
		return 64
	}
	return uint8(n)
}
