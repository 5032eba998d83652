package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

type rowState int

const (
	rowPending rowState = iota
	rowCommitted
	rowDeleted
)

type indexRow struct {
	state   rowState
	version int64
	props   dicom.InstanceProperties
}

// InMemoryIndex implements index.Store with the same lifecycle
// semantics as the KV-backed store.
type InMemoryIndex struct {
	mu        sync.Mutex
	rows      map[dicom.InstanceIdentifier]*indexRow
	frames    map[dicom.VersionedInstanceIdentifier]dicom.FrameRangeIndex
	watermark map[int]int64

	// Error injection, checked before the corresponding operation.
	CreateErr error
	CommitErr error
}

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		rows:      make(map[dicom.InstanceIdentifier]*indexRow),
		frames:    make(map[dicom.VersionedInstanceIdentifier]dicom.FrameRangeIndex),
		watermark: make(map[int]int64),
	}
}

func (s *InMemoryIndex) CreateProvisional(_ context.Context, partitionKey int, ds *dicom.Dataset) (int64, error) {
	if s.CreateErr != nil {
		return 0, s.CreateErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ds.Identifier(partitionKey)
	if row, ok := s.rows[id]; ok {
		switch row.state {
		case rowCommitted:
			return 0, errors.WrapConflict(errors.ErrConflict, "InMemoryIndex", "CreateProvisional",
				"create pending row")
		case rowPending:
			return 0, errors.WrapConflict(errors.ErrPendingConflict, "InMemoryIndex", "CreateProvisional",
				"create pending row")
		}
	}

	s.watermark[partitionKey]++
	version := s.watermark[partitionKey]
	s.rows[id] = &indexRow{state: rowPending, version: version, props: ds.Properties()}
	return version, nil
}

func (s *InMemoryIndex) Commit(_ context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	if s.CommitErr != nil {
		return s.CommitErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ds.Identifier(partitionKey)
	row, ok := s.rows[id]
	if !ok {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "InMemoryIndex", "Commit",
			"read pending row")
	}
	if row.state == rowCommitted {
		return errors.WrapConflict(errors.ErrConflict, "InMemoryIndex", "Commit", "commit row")
	}
	if row.state != rowPending || row.version != version {
		return errors.WrapConflict(errors.ErrPendingConflict, "InMemoryIndex", "Commit", "commit row")
	}

	if len(ds.FrameRanges) > 0 {
		vid := dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: version}
		s.frames[vid] = ds.FrameRanges
	}
	row.state = rowCommitted
	return nil
}

func (s *InMemoryIndex) Discard(_ context.Context, partitionKey int, ds *dicom.Dataset, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ds.Identifier(partitionKey)
	if row, ok := s.rows[id]; ok && row.state == rowPending && row.version == version {
		delete(s.rows, id)
	}
	return nil
}

func (s *InMemoryIndex) Metadata(_ context.Context, id dicom.InstanceIdentifier) ([]dicom.InstanceMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []dicom.InstanceMetadata
	for rowID, row := range s.rows {
		if row.state != rowCommitted || !matches(id, rowID) {
			continue
		}
		results = append(results, dicom.InstanceMetadata{
			VersionedInstanceIdentifier: dicom.VersionedInstanceIdentifier{
				InstanceIdentifier: rowID,
				Version:            row.version,
			},
			InstanceProperties: row.props,
		})
	}

	if len(results) == 0 {
		return nil, errors.WrapNotFound(errors.ErrNotFound, "InMemoryIndex", "Metadata",
			fmt.Sprintf("find instances under %s", id.String()))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].InstanceIdentifier.String() < results[j].InstanceIdentifier.String()
	})
	return results, nil
}

func (s *InMemoryIndex) FrameRanges(_ context.Context, id dicom.VersionedInstanceIdentifier) (dicom.FrameRangeIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layout, ok := s.frames[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrNotFound, "InMemoryIndex", "FrameRanges",
			"read frame layout")
	}
	return layout, nil
}

func (s *InMemoryIndex) Delete(_ context.Context, id dicom.InstanceIdentifier) (dicom.VersionedInstanceIdentifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.state != rowCommitted {
		return dicom.VersionedInstanceIdentifier{}, errors.WrapNotFound(errors.ErrNotFound,
			"InMemoryIndex", "Delete", "delete row")
	}
	row.state = rowDeleted
	return dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: row.version}, nil
}

// Seed commits an instance directly, bypassing the pending state.
func (s *InMemoryIndex) Seed(partitionKey int, ds *dicom.Dataset) dicom.VersionedInstanceIdentifier {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ds.Identifier(partitionKey)
	s.watermark[partitionKey]++
	version := s.watermark[partitionKey]
	s.rows[id] = &indexRow{state: rowCommitted, version: version, props: ds.Properties()}

	vid := dicom.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: version}
	if len(ds.FrameRanges) > 0 {
		s.frames[vid] = ds.FrameRanges
	}
	return vid
}

// matches reports whether a committed row falls under a possibly
// partial identifier.
func matches(query, row dicom.InstanceIdentifier) bool {
	if query.PartitionKey != row.PartitionKey || query.StudyUID != row.StudyUID {
		return false
	}
	if query.SeriesUID != "" && query.SeriesUID != row.SeriesUID {
		return false
	}
	if query.SOPUID != "" && query.SOPUID != row.SOPUID {
		return false
	}
	return true
}
