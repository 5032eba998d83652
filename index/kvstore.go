package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/natsclient"
)

// kvBucket is the subset of the KV client the index uses.
// natsclient.KVStore satisfies it.
type kvBucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, filter string) ([]string, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
}

// KVStore implements Store over a key-value bucket. The two schema
// versions share this implementation and differ only in which
// properties they record: v1 predates transfer syntax and frame layout
// recording, v2 records both.
type KVStore struct {
	kv     kvBucket
	logger *slog.Logger

	recordsTransferSyntax bool
	recordsFrameRanges    bool
}

// NewKVStoreV1 creates the legacy store. Rows written by it carry no
// transfer syntax and no frame layout, matching data committed before
// those were recorded.
func NewKVStoreV1(kv kvBucket, logger *slog.Logger) *KVStore {
	return newKVStore(kv, logger, false, false)
}

// NewKVStoreV2 creates the current store.
func NewKVStoreV2(kv kvBucket, logger *slog.Logger) *KVStore {
	return newKVStore(kv, logger, true, true)
}

func newKVStore(kv kvBucket, logger *slog.Logger, recordsTS, recordsFrames bool) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		kv:                    kv,
		logger:                logger,
		recordsTransferSyntax: recordsTS,
		recordsFrameRanges:    recordsFrames,
	}
}

// CreateProvisional allocates a version from the partition watermark and
// writes a pending row.
func (s *KVStore) CreateProvisional(ctx context.Context, partitionKey int, ds *dicom.Dataset) (int64, error) {
	id := ds.Identifier(partitionKey)

	version, err := s.nextVersion(ctx, partitionKey)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "allocate version")
	}

	rec := s.newRecord(statePending, version, ds)
	body, err := rec.encode()
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "encode row")
	}

	key := instanceKey(id)
	if _, err := s.kv.Create(ctx, key, body); err != nil {
		if !natsclient.IsKVConflictError(err) {
			return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "write pending row")
		}
		return s.takeOverRow(ctx, key, body)
	}

	s.logger.Debug("provisional index row created", "id", id.String(), "version", version)
	return version, nil
}

// takeOverRow handles an existing row found during provisional create.
// Committed rows are duplicates, pending rows belong to a concurrent
// writer, and deleted rows are reclaimed for the new version.
func (s *KVStore) takeOverRow(ctx context.Context, key string, pendingBody []byte) (int64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "read existing row")
	}

	existing, err := decodeRecord(entry.Value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "decode existing row")
	}

	switch existing.State {
	case stateCommitted:
		return 0, errors.WrapConflict(errors.ErrConflict, "KVStore", "CreateProvisional",
			"create pending row")
	case statePending:
		return 0, errors.WrapConflict(errors.ErrPendingConflict, "KVStore", "CreateProvisional",
			"create pending row")
	}

	// Deleted row: reclaim it under the new version. Losing the CAS means
	// another writer reclaimed it first.
	if _, err := s.kv.Update(ctx, key, pendingBody, entry.Revision); err != nil {
		if natsclient.IsKVConflictError(err) {
			return 0, errors.WrapConflict(errors.ErrPendingConflict, "KVStore", "CreateProvisional",
				"reclaim deleted row")
		}
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "reclaim deleted row")
	}

	rec, err := decodeRecord(pendingBody)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "CreateProvisional", "decode pending row")
	}
	return rec.Version, nil
}

// Commit flips the pending row to committed, recording the frame layout
// first so a committed row never references an absent layout.
func (s *KVStore) Commit(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	id := ds.Identifier(partitionKey)
	key := instanceKey(id)

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Commit", "read pending row")
	}

	rec, err := decodeRecord(entry.Value)
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Commit", "decode pending row")
	}

	switch {
	case rec.State == stateCommitted:
		return errors.WrapConflict(errors.ErrConflict, "KVStore", "Commit", "commit row")
	case rec.State != statePending || rec.Version != version:
		return errors.WrapConflict(errors.ErrPendingConflict, "KVStore", "Commit", "commit row")
	}

	if s.recordsFrameRanges && len(ds.FrameRanges) > 0 {
		vid := dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: version}
		layout, err := json.Marshal(ds.FrameRanges)
		if err != nil {
			return errors.WrapTransient(err, "KVStore", "Commit", "encode frame layout")
		}
		if _, err := s.kv.Put(ctx, framesKey(vid), layout); err != nil {
			return errors.WrapTransient(err, "KVStore", "Commit", "write frame layout")
		}
	}

	rec.State = stateCommitted
	rec.UpdatedAt = time.Now().UTC()
	body, err := rec.encode()
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Commit", "encode committed row")
	}

	if _, err := s.kv.Update(ctx, key, body, entry.Revision); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapConflict(errors.ErrPendingConflict, "KVStore", "Commit", "commit row")
		}
		return errors.WrapTransient(err, "KVStore", "Commit", "commit row")
	}

	s.logger.Debug("index row committed", "id", id.String(), "version", version)
	return nil
}

// Discard removes a pending row after a failed ingestion. The row is
// only removed while it is still pending under the given version, so a
// slow cleanup cannot disturb a row reclaimed by a later writer.
func (s *KVStore) Discard(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	key := instanceKey(ds.Identifier(partitionKey))

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return errors.WrapTransient(err, "KVStore", "Discard", "read row")
	}

	rec, err := decodeRecord(entry.Value)
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Discard", "decode row")
	}
	if rec.State != statePending || rec.Version != version {
		return nil
	}

	if err := s.kv.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "KVStore", "Discard", "remove pending row")
	}
	return nil
}

// Metadata returns committed instances at the identifier's granularity.
func (s *KVStore) Metadata(ctx context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error) {
	if id.Level() == dicom.LevelInstance {
		rec, err := s.committedRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		return []dicom.InstanceMetadata{rec.metadata(id)}, nil
	}

	// An empty listing is not an error; the len check below maps it to
	// NotFound. Listing failures stay transient.
	keys, err := s.kv.Keys(ctx, instanceFilter(id))
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Metadata", "list instances")
	}
	sort.Strings(keys)

	results := make([]dicom.InstanceMetadata, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "KVStore", "Metadata", "read row")
		}
		rec, err := decodeRecord(entry.Value)
		if err != nil {
			return nil, errors.WrapTransient(err, "KVStore", "Metadata", "decode row")
		}
		if rec.State != stateCommitted {
			continue
		}
		rowID, err := parseInstanceKey(key)
		if err != nil {
			return nil, errors.WrapTransient(err, "KVStore", "Metadata", "parse row key")
		}
		results = append(results, rec.metadata(rowID))
	}

	if len(results) == 0 {
		return nil, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "Metadata",
			fmt.Sprintf("find instances under %s", id.String()))
	}
	return results, nil
}

// FrameRanges returns the frame layout recorded for one version.
func (s *KVStore) FrameRanges(ctx context.Context, id dicom.VersionedInstanceIdentifier) (dicom.FrameRangeIndex, error) {
	if !s.recordsFrameRanges {
		return nil, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "FrameRanges",
			"read frame layout (not recorded by this schema version)")
	}

	entry, err := s.kv.Get(ctx, framesKey(id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "FrameRanges",
				"read frame layout")
		}
		return nil, errors.WrapTransient(err, "KVStore", "FrameRanges", "read frame layout")
	}

	var layout dicom.FrameRangeIndex
	if err := json.Unmarshal(entry.Value, &layout); err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "FrameRanges", "decode frame layout")
	}
	return layout, nil
}

// Delete marks the committed row deleted. The blob is disposed by the
// caller out of band.
func (s *KVStore) Delete(ctx context.Context, id dicom.InstanceIdentifier) (dicom.VersionedInstanceIdentifier, error) {
	var zero dicom.VersionedInstanceIdentifier
	key := instanceKey(id)

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return zero, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "Delete", "read row")
		}
		return zero, errors.WrapTransient(err, "KVStore", "Delete", "read row")
	}

	rec, err := decodeRecord(entry.Value)
	if err != nil {
		return zero, errors.WrapTransient(err, "KVStore", "Delete", "decode row")
	}
	if rec.State != stateCommitted {
		return zero, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "Delete", "delete row")
	}

	rec.State = stateDeleted
	rec.UpdatedAt = time.Now().UTC()
	body, err := rec.encode()
	if err != nil {
		return zero, errors.WrapTransient(err, "KVStore", "Delete", "encode row")
	}
	if _, err := s.kv.Update(ctx, key, body, entry.Revision); err != nil {
		if natsclient.IsKVConflictError(err) {
			return zero, errors.WrapConflict(errors.ErrPendingConflict, "KVStore", "Delete", "delete row")
		}
		return zero, errors.WrapTransient(err, "KVStore", "Delete", "delete row")
	}

	return dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: rec.Version}, nil
}

// committedRecord reads one row and fails with NotFound unless it is
// committed.
func (s *KVStore) committedRecord(ctx context.Context, id dicom.InstanceIdentifier) (instanceRecord, error) {
	entry, err := s.kv.Get(ctx, instanceKey(id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return instanceRecord{}, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "Metadata",
				fmt.Sprintf("find instance %s", id.String()))
		}
		return instanceRecord{}, errors.WrapTransient(err, "KVStore", "Metadata", "read row")
	}

	rec, err := decodeRecord(entry.Value)
	if err != nil {
		return instanceRecord{}, errors.WrapTransient(err, "KVStore", "Metadata", "decode row")
	}
	if rec.State != stateCommitted {
		return instanceRecord{}, errors.WrapNotFound(errors.ErrNotFound, "KVStore", "Metadata",
			fmt.Sprintf("find instance %s", id.String()))
	}
	return rec, nil
}

// nextVersion increments the partition watermark and returns the
// allocated value. Versions are unique and strictly increasing per
// partition.
func (s *KVStore) nextVersion(ctx context.Context, partitionKey int) (int64, error) {
	var allocated int64
	err := s.kv.UpdateWithRetry(ctx, watermarkKey(partitionKey), func(current []byte) ([]byte, error) {
		var cur int64
		if len(current) > 0 {
			parsed, err := strconv.ParseInt(string(current), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt watermark %q: %w", string(current), err)
			}
			cur = parsed
		}
		allocated = cur + 1
		return []byte(strconv.FormatInt(allocated, 10)), nil
	})
	if err != nil {
		return 0, err
	}
	return allocated, nil
}

// newRecord builds a row body, recording only the properties this
// schema version knows about.
func (s *KVStore) newRecord(state recordState, version int64, ds *dicom.Dataset) instanceRecord {
	rec := instanceRecord{
		State:      state,
		Version:    version,
		FrameCount: ds.FrameCount(),
		UpdatedAt:  time.Now().UTC(),
	}
	if s.recordsTransferSyntax {
		rec.TransferSyntaxUID = ds.TransferSyntax()
	}
	if s.recordsFrameRanges {
		rec.HasFrameMetadata = len(ds.FrameRanges) > 0
	}
	return rec
}
