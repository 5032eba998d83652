// Package metric provides Prometheus-based observability for the engine.
//
// A single MetricsRegistry owns the Prometheus registry, the core engine
// metrics (request counts, ingestion outcomes, transcode bookkeeping,
// NATS connection state) and any component-specific metrics registered at
// runtime. The Server type exposes everything over HTTP for scraping.
package metric
