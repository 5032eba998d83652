package index

import (
	"encoding/json"
	"time"

	"github.com/sroyama/dicom-server/dicom"
)

type recordState string

const (
	statePending   recordState = "pending"
	stateCommitted recordState = "committed"
	stateDeleted   recordState = "deleted"
)

// instanceRecord is the JSON body of one instance row.
type instanceRecord struct {
	State             recordState `json:"state"`
	Version           int64       `json:"version"`
	TransferSyntaxUID string      `json:"transfer_syntax_uid,omitempty"`
	HasFrameMetadata  bool        `json:"has_frame_metadata,omitempty"`
	FrameCount        int         `json:"frame_count"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (r instanceRecord) encode() ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (instanceRecord, error) {
	var r instanceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return instanceRecord{}, err
	}
	return r, nil
}

// metadata builds the query snapshot for a committed row.
func (r instanceRecord) metadata(id dicom.InstanceIdentifier) dicom.InstanceMetadata {
	return dicom.InstanceMetadata{
		VersionedInstanceIdentifier: dicom.VersionedInstanceIdentifier{
			InstanceIdentifier: id,
			Version:            r.Version,
		},
		InstanceProperties: dicom.InstanceProperties{
			TransferSyntaxUID: r.TransferSyntaxUID,
			HasFrameMetadata:  r.HasFrameMetadata,
			FrameCount:        r.FrameCount,
		},
	}
}
