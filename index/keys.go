package index

import (
	"fmt"
	"strings"

	"github.com/sroyama/dicom-server/dicom"
)

// Key layout. KV subjects are dot-separated, so dots inside UID values
// are escaped to underscores. UIDs contain only digits and dots, which
// makes the escaping reversible.
//
//	instance.p<partition>.<study>.<series>.<sop>   one row per instance
//	frames.p<partition>.<study>.<series>.<sop>.v<n> frame layout per version
//	watermark.p<partition>                          version counter

func escapeUID(uid string) string {
	return strings.ReplaceAll(uid, ".", "_")
}

func unescapeUID(s string) string {
	return strings.ReplaceAll(s, "_", ".")
}

func instanceKey(id dicom.InstanceIdentifier) string {
	return fmt.Sprintf("instance.p%d.%s.%s.%s",
		id.PartitionKey, escapeUID(id.StudyUID), escapeUID(id.SeriesUID), escapeUID(id.SOPUID))
}

// instanceFilter returns the subject filter matching all instance rows
// under a study- or series-level identifier.
func instanceFilter(id dicom.InstanceIdentifier) string {
	switch id.Level() {
	case dicom.LevelSeries:
		return fmt.Sprintf("instance.p%d.%s.%s.>",
			id.PartitionKey, escapeUID(id.StudyUID), escapeUID(id.SeriesUID))
	default:
		return fmt.Sprintf("instance.p%d.%s.>", id.PartitionKey, escapeUID(id.StudyUID))
	}
}

func framesKey(id dicom.VersionedInstanceIdentifier) string {
	return fmt.Sprintf("frames.p%d.%s.%s.%s.v%d",
		id.PartitionKey, escapeUID(id.StudyUID), escapeUID(id.SeriesUID), escapeUID(id.SOPUID),
		id.Version)
}

func watermarkKey(partitionKey int) string {
	return fmt.Sprintf("watermark.p%d", partitionKey)
}

// parseInstanceKey reconstructs the identifier from an instance row key.
func parseInstanceKey(key string) (dicom.InstanceIdentifier, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 5 || parts[0] != "instance" || !strings.HasPrefix(parts[1], "p") {
		return dicom.InstanceIdentifier{}, fmt.Errorf("malformed instance key %q", key)
	}

	var partition int
	if _, err := fmt.Sscanf(parts[1], "p%d", &partition); err != nil {
		return dicom.InstanceIdentifier{}, fmt.Errorf("malformed partition in key %q: %w", key, err)
	}

	return dicom.InstanceIdentifier{
		PartitionKey: partition,
		StudyUID:     unescapeUID(parts[2]),
		SeriesUID:    unescapeUID(parts[3]),
		SOPUID:       unescapeUID(parts[4]),
	}, nil
}
