// Package dicom defines the core data model for the object store engine:
// instance identifiers, versioned identifiers, instance properties and
// metadata snapshots, frame range indexes, and transfer syntax handling.
package dicom

import (
	"fmt"
	"regexp"
)

// uidPattern matches a valid UID: dot-separated non-negative integer
// components, at most 64 characters total.
var uidPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// maxUIDLength is the DICOM limit for UID values.
const maxUIDLength = 64

// ValidUID reports whether s is a well-formed UID.
func ValidUID(s string) bool {
	return len(s) > 0 && len(s) <= maxUIDLength && uidPattern.MatchString(s)
}

// ResourceLevel is the granularity of an identifier or request.
type ResourceLevel int

// Resource granularities, coarsest first.
const (
	LevelStudy ResourceLevel = iota
	LevelSeries
	LevelInstance
	LevelFrames
)

// String returns the string representation of ResourceLevel.
func (l ResourceLevel) String() string {
	switch l {
	case LevelStudy:
		return "study"
	case LevelSeries:
		return "series"
	case LevelInstance:
		return "instance"
	case LevelFrames:
		return "frames"
	default:
		return "unknown"
	}
}

// InstanceIdentifier identifies a logical instance regardless of version.
// Equality is by all fields. SeriesUID and SOPUID may be empty for
// study- or series-level lookups.
type InstanceIdentifier struct {
	PartitionKey int    `json:"partition_key"`
	StudyUID     string `json:"study_uid"`
	SeriesUID    string `json:"series_uid"`
	SOPUID       string `json:"sop_uid"`
}

// Level returns the granularity implied by the populated UID fields.
func (id InstanceIdentifier) Level() ResourceLevel {
	switch {
	case id.SOPUID != "":
		return LevelInstance
	case id.SeriesUID != "":
		return LevelSeries
	default:
		return LevelStudy
	}
}

// Validate checks that the populated UID fields are well-formed and that
// no level is skipped (a SOP UID requires a series UID, and so on).
func (id InstanceIdentifier) Validate() error {
	if !ValidUID(id.StudyUID) {
		return fmt.Errorf("study UID %q is not a valid UID", id.StudyUID)
	}
	if id.SOPUID != "" && id.SeriesUID == "" {
		return fmt.Errorf("SOP UID given without series UID")
	}
	if id.SeriesUID != "" && !ValidUID(id.SeriesUID) {
		return fmt.Errorf("series UID %q is not a valid UID", id.SeriesUID)
	}
	if id.SOPUID != "" && !ValidUID(id.SOPUID) {
		return fmt.Errorf("SOP UID %q is not a valid UID", id.SOPUID)
	}
	return nil
}

// String renders the identifier for logging.
func (id InstanceIdentifier) String() string {
	return fmt.Sprintf("p%d/%s/%s/%s", id.PartitionKey, id.StudyUID, id.SeriesUID, id.SOPUID)
}

// VersionedInstanceIdentifier identifies one immutable physical copy of
// an instance. Version numbers are unique and strictly increasing per
// partition.
type VersionedInstanceIdentifier struct {
	InstanceIdentifier
	Version int64 `json:"version"`
}

// String renders the versioned identifier for logging.
func (id VersionedInstanceIdentifier) String() string {
	return fmt.Sprintf("%s@v%d", id.InstanceIdentifier.String(), id.Version)
}

// InstanceProperties records what the index knows about the stored bytes.
// TransferSyntaxUID is empty for legacy instances committed before the
// index recorded it.
type InstanceProperties struct {
	TransferSyntaxUID string `json:"transfer_syntax_uid,omitempty"`
	HasFrameMetadata  bool   `json:"has_frame_metadata"`
	FrameCount        int    `json:"frame_count"`
}

// InstanceMetadata is a read-only snapshot of one committed instance,
// produced by index queries and cached.
type InstanceMetadata struct {
	VersionedInstanceIdentifier
	InstanceProperties
}

// FrameRange is the byte range of one frame inside the object's pixel
// data stream.
type FrameRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// FrameRangeIndex maps 0-based frame numbers to byte ranges. It is
// built once per instance version; a version's bytes never change, so
// the index never goes stale.
type FrameRangeIndex map[int]FrameRange
