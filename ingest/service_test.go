package ingest

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/testutil"
)

func newTestService(t *testing.T, idx *testutil.InMemoryIndex, blobs *testutil.InMemoryBlob, cfg Config) *Service {
	t.Helper()
	svc := NewService(idx, blobs, cfg)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func makeEntry(study, series, sop string, payload []byte) *BytesEntry {
	ds := dicom.NewDataset()
	ds.Set(dicom.AttrStudyInstanceUID, study)
	ds.Set(dicom.AttrSeriesInstanceUID, series)
	ds.Set(dicom.AttrSOPInstanceUID, sop)
	ds.Set(dicom.AttrSOPClassUID, dicom.CTImageStorage)
	ds.Set(dicom.AttrPatientID, "patient-1")
	ds.Set(dicom.AttrTransferSyntaxUID, dicom.ExplicitVRLittleEndian)
	return NewBytesEntry(ds, payload)
}

// brokenEntry fails to materialize.
type brokenEntry struct{}

func (brokenEntry) Dataset(_ context.Context) (*dicom.Dataset, error) {
	return nil, errors.ErrBadRequest
}
func (brokenEntry) Content() (io.Reader, error) { return nil, errors.ErrBadRequest }
func (brokenEntry) Length() int64               { return 0 }
func (brokenEntry) Dispose() error              { return nil }

func TestIngest_AllSucceed(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	payload := []byte("instance bytes")
	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries: []Entry{
			makeEntry("1.2", "1.2.1", "1.2.1.1", payload),
			makeEntry("1.2", "1.2.1", "1.2.1.2", []byte("more bytes")),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchComplete, resp.Status)
	assert.Equal(t, 200, resp.Status.HTTPStatus())
	assert.NotEmpty(t, resp.BatchID)
	require.Len(t, resp.Outcomes, 2)
	for i, outcome := range resp.Outcomes {
		assert.Equal(t, i, outcome.Sequence)
		assert.Equal(t, EntrySucceeded, outcome.Status)
		assert.NotZero(t, outcome.Version)
	}

	// Stored bytes are readable back through the index row's version.
	metas, err := idx.Metadata(context.Background(), dicom.InstanceIdentifier{
		PartitionKey: 1, StudyUID: "1.2", SeriesUID: "1.2.1", SOPUID: "1.2.1.1",
	})
	require.NoError(t, err)
	stream, err := blobs.Stream(context.Background(), metas[0].VersionedInstanceIdentifier)
	require.NoError(t, err)
	stored, _ := io.ReadAll(stream)
	_ = stream.Close()
	assert.Equal(t, payload, stored)
}

func TestIngest_PartialFailurePreservesOrder(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	invalid := makeEntry("1.2", "1.2.1", "1.2.1.3", []byte("x"))
	ds, _ := invalid.Dataset(context.Background())
	ds.Remove(dicom.AttrPatientID)

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries: []Entry{
			makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a")),
			makeEntry("1.2", "1.2.1", "1.2.1.2", []byte("b")),
			invalid,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchPartial, resp.Status)
	assert.Equal(t, 202, resp.Status.HTTPStatus())
	require.Len(t, resp.Outcomes, 3)
	assert.Equal(t, EntrySucceeded, resp.Outcomes[0].Status)
	assert.Equal(t, EntrySucceeded, resp.Outcomes[1].Status)
	assert.Equal(t, EntryFailed, resp.Outcomes[2].Status)
	assert.Equal(t, FailureValidation, resp.Outcomes[2].Failure.Code)
}

func TestIngest_DuplicateYieldsConflict(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	entry := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := entry.Dataset(context.Background())
	idx.Seed(1, ds)

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchConflict, resp.Status)
	assert.Equal(t, 409, resp.Status.HTTPStatus())
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, EntryFailed, resp.Outcomes[0].Status)
	assert.Equal(t, FailureConflict, resp.Outcomes[0].Failure.Code)
}

func TestIngest_PendingConflictSurfaced(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	entry := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := entry.Dataset(context.Background())
	_, err := idx.CreateProvisional(context.Background(), 1, ds)
	require.NoError(t, err)

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))},
	})
	require.NoError(t, err)
	assert.Equal(t, FailurePendingConflict, resp.Outcomes[0].Failure.Code)
}

func TestIngest_WholeBatchRejected(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	bad := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := bad.Dataset(context.Background())
	ds.Remove(dicom.AttrSOPClassUID)

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{bad, brokenEntry{}},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchRejected, resp.Status)
	assert.Equal(t, 204, resp.Status.HTTPStatus())
	assert.Equal(t, FailureValidation, resp.Outcomes[0].Failure.Code)
	assert.Equal(t, FailureProcessing, resp.Outcomes[1].Failure.Code)
}

func TestIngest_UnknownSOPClassWarnsButStores(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	entry := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := entry.Dataset(context.Background())
	ds.Set(dicom.AttrSOPClassUID, "1.2.840.99999.1")

	resp, err := svc.Ingest(context.Background(), Request{PartitionKey: 1, Entries: []Entry{entry}})
	require.NoError(t, err)

	assert.Equal(t, BatchComplete, resp.Status)
	assert.Equal(t, EntrySucceeded, resp.Outcomes[0].Status)
	assert.Contains(t, resp.Outcomes[0].Warnings, WarningUnknownSOPClass)
}

func TestIngest_MultiValuedAttributeAdvisory(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	entry := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := entry.Dataset(context.Background())
	ds.Set(dicom.AttrModality, `CT\MR`)

	resp, err := svc.Ingest(context.Background(), Request{PartitionKey: 1, Entries: []Entry{entry}})
	require.NoError(t, err)

	assert.Equal(t, BatchComplete, resp.Status)
	assert.NotEmpty(t, resp.Advisory)
	assert.Empty(t, resp.Outcomes[0].Warnings)
}

func TestIngest_LenientModeStrips(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{Lenient: true})

	entry := makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))
	ds, _ := entry.Dataset(context.Background())
	ds.Set(dicom.AttrStudyDate, "not a date")

	resp, err := svc.Ingest(context.Background(), Request{PartitionKey: 1, Entries: []Entry{entry}})
	require.NoError(t, err)
	assert.Equal(t, EntrySucceeded, resp.Outcomes[0].Status)
	_, present := ds.Get(dicom.AttrStudyDate)
	assert.False(t, present)
}

func TestIngest_OversizedEntryRejected(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{MaxEntrySizeBytes: 4})

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("too large payload"))},
	})
	require.NoError(t, err)
	assert.Equal(t, FailureValidation, resp.Outcomes[0].Failure.Code)
}

func TestIngest_StorageFailureCleansUp(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	blobs.PutErr = errors.WrapTransient(errors.ErrStorageUnavailable, "InMemoryBlob", "Put", "persist payload")
	svc := newTestService(t, idx, blobs, Config{})

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))},
	})
	require.NoError(t, err)
	assert.Equal(t, FailureStorage, resp.Outcomes[0].Failure.Code)

	// Draining the disposal pool removes the stale pending row, so the
	// instance can be resubmitted.
	require.NoError(t, svc.Stop())
	blobs.PutErr = nil

	svc2 := newTestService(t, idx, blobs, Config{})
	resp, err = svc2.Ingest(context.Background(), Request{
		PartitionKey: 1,
		Entries:      []Entry{makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a"))},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchComplete, resp.Status)
}

func TestIngest_RequiredStudyConstraint(t *testing.T) {
	idx := testutil.NewInMemoryIndex()
	blobs := testutil.NewInMemoryBlob()
	svc := newTestService(t, idx, blobs, Config{})

	resp, err := svc.Ingest(context.Background(), Request{
		PartitionKey: 1,
		StudyUID:     "1.2",
		Entries: []Entry{
			makeEntry("1.2", "1.2.1", "1.2.1.1", []byte("a")),
			makeEntry("9.9", "9.9.1", "9.9.1.1", []byte("b")),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchPartial, resp.Status)
	assert.Equal(t, EntrySucceeded, resp.Outcomes[0].Status)
	assert.Equal(t, FailureValidation, resp.Outcomes[1].Failure.Code)
}

func TestIngest_EmptyBatch(t *testing.T) {
	svc := newTestService(t, testutil.NewInMemoryIndex(), testutil.NewInMemoryBlob(), Config{})

	_, err := svc.Ingest(context.Background(), Request{PartitionKey: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBadRequest)
}
