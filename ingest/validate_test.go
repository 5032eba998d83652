package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

func validDataset() *dicom.Dataset {
	ds := dicom.NewDataset()
	ds.Set(dicom.AttrStudyInstanceUID, "1.2.3")
	ds.Set(dicom.AttrSeriesInstanceUID, "1.2.3.1")
	ds.Set(dicom.AttrSOPInstanceUID, "1.2.3.1.1")
	ds.Set(dicom.AttrSOPClassUID, dicom.CTImageStorage)
	ds.Set(dicom.AttrPatientID, "patient-1")
	return ds
}

func TestValidate_Valid(t *testing.T) {
	result, err := NewValidator(false).Validate(validDataset(), "")
	require.NoError(t, err)
	assert.Empty(t, result.EntryWarnings)
	assert.Empty(t, result.Advisories)
	assert.Empty(t, result.Stripped)
}

func TestValidate_MissingCoreAttributes(t *testing.T) {
	for _, keyword := range []string{
		dicom.AttrStudyInstanceUID,
		dicom.AttrSeriesInstanceUID,
		dicom.AttrSOPInstanceUID,
		dicom.AttrSOPClassUID,
		dicom.AttrPatientID,
	} {
		t.Run(keyword, func(t *testing.T) {
			ds := validDataset()
			ds.Remove(keyword)

			// Core attributes fail hard even in lenient mode.
			_, err := NewValidator(true).Validate(ds, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrValidationFailure)
		})
	}
}

func TestValidate_MalformedUID(t *testing.T) {
	ds := validDataset()
	ds.Set(dicom.AttrSOPInstanceUID, "not-a-uid")

	_, err := NewValidator(true).Validate(ds, "")
	assert.ErrorIs(t, err, errors.ErrValidationFailure)
}

func TestValidate_RequiredStudyMismatch(t *testing.T) {
	_, err := NewValidator(false).Validate(validDataset(), "9.9.9")
	assert.ErrorIs(t, err, errors.ErrValidationFailure)

	_, err = NewValidator(false).Validate(validDataset(), "1.2.3")
	assert.NoError(t, err)
}

func TestValidate_UnknownSOPClassWarns(t *testing.T) {
	ds := validDataset()
	ds.Set(dicom.AttrSOPClassUID, "1.2.840.99999.1")

	result, err := NewValidator(false).Validate(ds, "")
	require.NoError(t, err)
	assert.Contains(t, result.EntryWarnings, WarningUnknownSOPClass)
}

func TestValidate_MultiValuedIndexedAttributeAdvisory(t *testing.T) {
	ds := validDataset()
	ds.Set(dicom.AttrModality, `CT\MR`)

	result, err := NewValidator(false).Validate(ds, "")
	require.NoError(t, err)
	assert.Contains(t, result.Advisories, WarningMultiValuedAttribute)
	assert.Empty(t, result.EntryWarnings)
}

func TestValidate_InvalidNonCoreAttribute(t *testing.T) {
	ds := validDataset()
	ds.Set(dicom.AttrStudyDate, "last tuesday")

	_, err := NewValidator(false).Validate(ds, "")
	assert.ErrorIs(t, err, errors.ErrValidationFailure)

	// Lenient mode strips the attribute and keeps the entry.
	ds = validDataset()
	ds.Set(dicom.AttrStudyDate, "last tuesday")
	result, err := NewValidator(true).Validate(ds, "")
	require.NoError(t, err)
	assert.Equal(t, []string{dicom.AttrStudyDate}, result.Stripped)
	_, present := ds.Get(dicom.AttrStudyDate)
	assert.False(t, present)
}

func TestValidate_NonCoreRules(t *testing.T) {
	tests := []struct {
		keyword string
		value   string
		valid   bool
	}{
		{dicom.AttrStudyDate, "20260830", true},
		{dicom.AttrStudyDate, "2026083", false},
		{dicom.AttrTransferSyntaxUID, dicom.ExplicitVRLittleEndian, true},
		{dicom.AttrTransferSyntaxUID, "bogus", false},
		{dicom.AttrModality, "CT", true},
		{dicom.AttrModality, "", false},
		{dicom.AttrAccessionNumber, "A1234567890123456789", false},
		{dicom.AttrNumberOfFrames, "12", true},
		{dicom.AttrNumberOfFrames, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.keyword+"="+tt.value, func(t *testing.T) {
			ds := validDataset()
			ds.Set(tt.keyword, tt.value)
			_, err := NewValidator(false).Validate(ds, "")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errors.ErrValidationFailure)
			}
		})
	}
}
