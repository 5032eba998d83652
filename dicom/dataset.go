package dicom

import (
	"strconv"
	"strings"
)

// Attribute keywords the engine indexes. Values are stored as their
// string representation; multi-valued attributes join components with
// the standard backslash delimiter.
const (
	AttrStudyInstanceUID  = "StudyInstanceUID"
	AttrSeriesInstanceUID = "SeriesInstanceUID"
	AttrSOPInstanceUID    = "SOPInstanceUID"
	AttrSOPClassUID       = "SOPClassUID"
	AttrPatientID         = "PatientID"
	AttrPatientName       = "PatientName"
	AttrStudyDate         = "StudyDate"
	AttrModality          = "Modality"
	AttrAccessionNumber   = "AccessionNumber"
	AttrTransferSyntaxUID = "TransferSyntaxUID"
	AttrNumberOfFrames    = "NumberOfFrames"
)

// MultiValueDelimiter separates components of a multi-valued attribute.
const MultiValueDelimiter = `\`

// CoreAttributes are the identifying attributes that must never be
// stripped, even in lenient mode. A validation failure on any of these
// aborts the entry.
var CoreAttributes = map[string]bool{
	AttrStudyInstanceUID:  true,
	AttrSeriesInstanceUID: true,
	AttrSOPInstanceUID:    true,
	AttrSOPClassUID:       true,
	AttrPatientID:         true,
}

// Dataset is the structured attribute view of one submitted instance.
// It carries the attributes the index records plus frame layout
// information parsed from the payload.
type Dataset struct {
	attrs map[string]string

	// FrameRanges is the byte layout of the pixel data frames, when the
	// submitting parser extracted one. Nil means no frame metadata.
	FrameRanges FrameRangeIndex
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{attrs: make(map[string]string)}
}

// Set stores an attribute value.
func (d *Dataset) Set(keyword, value string) {
	d.attrs[keyword] = value
}

// Get returns an attribute value and whether it is present.
func (d *Dataset) Get(keyword string) (string, bool) {
	v, ok := d.attrs[keyword]
	return v, ok
}

// GetString returns an attribute value or "" if absent.
func (d *Dataset) GetString(keyword string) string {
	return d.attrs[keyword]
}

// Remove deletes an attribute. Used by lenient ingestion to strip
// invalid non-core attributes.
func (d *Dataset) Remove(keyword string) {
	delete(d.attrs, keyword)
}

// Keywords returns the present attribute keywords in unspecified order.
func (d *Dataset) Keywords() []string {
	keys := make([]string, 0, len(d.attrs))
	for k := range d.attrs {
		keys = append(keys, k)
	}
	return keys
}

// IsMultiValued reports whether the attribute holds more than one
// component.
func (d *Dataset) IsMultiValued(keyword string) bool {
	v, ok := d.attrs[keyword]
	return ok && strings.Contains(v, MultiValueDelimiter)
}

// TransferSyntax returns the payload's transfer syntax UID, or "" if
// the submission did not declare one.
func (d *Dataset) TransferSyntax() string {
	return d.attrs[AttrTransferSyntaxUID]
}

// FrameCount returns the declared number of frames, defaulting to 1
// when the attribute is absent or unparsable.
func (d *Dataset) FrameCount() int {
	v, ok := d.attrs[AttrNumberOfFrames]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Identifier builds the instance identifier from the dataset's
// identifying attributes within the given partition.
func (d *Dataset) Identifier(partitionKey int) InstanceIdentifier {
	return InstanceIdentifier{
		PartitionKey: partitionKey,
		StudyUID:     d.attrs[AttrStudyInstanceUID],
		SeriesUID:    d.attrs[AttrSeriesInstanceUID],
		SOPUID:       d.attrs[AttrSOPInstanceUID],
	}
}

// Properties builds the index properties recorded for this dataset.
func (d *Dataset) Properties() InstanceProperties {
	return InstanceProperties{
		TransferSyntaxUID: d.TransferSyntax(),
		HasFrameMetadata:  len(d.FrameRanges) > 0,
		FrameCount:        d.FrameCount(),
	}
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	clone := NewDataset()
	for k, v := range d.attrs {
		clone.attrs[k] = v
	}
	if d.FrameRanges != nil {
		clone.FrameRanges = make(FrameRangeIndex, len(d.FrameRanges))
		for k, v := range d.FrameRanges {
			clone.FrameRanges[k] = v
		}
	}
	return clone
}
