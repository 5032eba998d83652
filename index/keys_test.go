package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/dicom"
)

func TestInstanceKey_RoundTrip(t *testing.T) {
	id := dicom.InstanceIdentifier{
		PartitionKey: 42,
		StudyUID:     "1.2.840.10008.1",
		SeriesUID:    "1.2.840.10008.1.1",
		SOPUID:       "1.2.840.10008.1.1.7",
	}

	key := instanceKey(id)
	assert.Equal(t, "instance.p42.1_2_840_10008_1.1_2_840_10008_1_1.1_2_840_10008_1_1_7", key)

	parsed, err := parseInstanceKey(key)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseInstanceKey_Malformed(t *testing.T) {
	for _, key := range []string{
		"",
		"instance.p1.1_2",
		"frames.p1.1_2.1_2_1.1_2_1_1.v3",
		"instance.x1.1_2.1_2_1.1_2_1_1",
	} {
		_, err := parseInstanceKey(key)
		assert.Error(t, err, key)
	}
}

func TestInstanceFilter(t *testing.T) {
	study := dicom.InstanceIdentifier{PartitionKey: 1, StudyUID: "1.2"}
	assert.Equal(t, "instance.p1.1_2.>", instanceFilter(study))

	series := dicom.InstanceIdentifier{PartitionKey: 1, StudyUID: "1.2", SeriesUID: "1.2.1"}
	assert.Equal(t, "instance.p1.1_2.1_2_1.>", instanceFilter(series))
}

func TestFramesKey(t *testing.T) {
	vid := dicom.VersionedInstanceIdentifier{
		InstanceIdentifier: dicom.InstanceIdentifier{
			PartitionKey: 1, StudyUID: "1.2", SeriesUID: "1.2.1", SOPUID: "1.2.1.1",
		},
		Version: 7,
	}
	assert.Equal(t, "frames.p1.1_2.1_2_1.1_2_1_1.v7", framesKey(vid))
}
