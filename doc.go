// Package dicomserver provides a server-side engine for a DICOM-style
// medical-imaging object store: durable ingestion of multi-part binary
// instances and content-negotiated retrieval of instances and frames.
//
// # Architecture
//
// Instances are immutable and versioned. Every physical copy is addressed by a
// VersionedInstanceIdentifier: a tenant partition, the study/series/SOP UID
// hierarchy, and a monotonically increasing watermark. Bytes live in a NATS
// JetStream ObjectStore bucket; index rows, frame-range indexes, and the
// active schema version live in JetStream KeyValue buckets.
//
// The engine is split into small packages:
//
//   - dicom: identifiers, datasets, transfer syntax registry
//   - ingest: the batch ingestion pipeline (validate, store, commit)
//   - retrieve: the retrieval pipeline (negotiate, stream, transcode)
//   - index: versioned instance index over JetStream KV
//   - blob: instance bytes over JetStream ObjectStore
//   - schema: active-version signal and versioned store resolution
//   - pkg/cache: generic caches plus single-flight population
//   - pkg/worker: bounded worker pool (background disposal)
//
// HTTP routing, authentication, and the query language are deliberately out of
// scope; the pipelines are designed to sit behind any transport layer.
package dicomserver
