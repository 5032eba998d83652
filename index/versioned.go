package index

import (
	"context"
	"log/slog"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/schema"
)

// CurrentSchemaVersion is the newest storage schema this build knows
// how to write.
const CurrentSchemaVersion schema.Version = 2

// Registrations returns one registration per supported storage schema
// version, all over the same bucket.
func Registrations(kv kvBucket, logger *slog.Logger) []schema.Registration[Store] {
	return []schema.Registration[Store]{
		{Version: 1, Impl: NewKVStoreV1(kv, logger)},
		{Version: 2, Impl: NewKVStoreV2(kv, logger)},
	}
}

// VersionedStore routes every call to the store implementation matching
// the active schema version. Resolution is cached by the resolver and
// invalidated when the active version signal changes, so dispatch cost
// is a cached read in steady state.
type VersionedStore struct {
	resolver *schema.Resolver[Store]
}

// NewVersionedStore creates a store dispatching through the resolver.
func NewVersionedStore(resolver *schema.Resolver[Store]) *VersionedStore {
	return &VersionedStore{resolver: resolver}
}

func (v *VersionedStore) CreateProvisional(ctx context.Context, partitionKey int, ds *dicom.Dataset) (int64, error) {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	return store.CreateProvisional(ctx, partitionKey, ds)
}

func (v *VersionedStore) Commit(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	return store.Commit(ctx, partitionKey, ds, version)
}

func (v *VersionedStore) Discard(ctx context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	return store.Discard(ctx, partitionKey, ds, version)
}

func (v *VersionedStore) Metadata(ctx context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error) {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return store.Metadata(ctx, id)
}

func (v *VersionedStore) FrameRanges(ctx context.Context, id dicom.VersionedInstanceIdentifier) (dicom.FrameRangeIndex, error) {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return store.FrameRanges(ctx, id)
}

func (v *VersionedStore) Delete(ctx context.Context, id dicom.InstanceIdentifier) (dicom.VersionedInstanceIdentifier, error) {
	store, err := v.resolver.Resolve(ctx)
	if err != nil {
		return dicom.VersionedInstanceIdentifier{}, err
	}
	return store.Delete(ctx, id)
}
