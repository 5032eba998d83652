package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

func TestResolveAccept_FirstSatisfiableWins(t *testing.T) {
	resolved, err := ResolveAccept(dicom.LevelInstance, []Preference{
		{MediaType: MediaTypeOctetStream, TransferSyntax: dicom.OriginalTransferSyntax},
		{MediaType: MediaTypeDICOM, TransferSyntax: dicom.ExplicitVRLittleEndian, SinglePart: true},
	})
	require.NoError(t, err)
	assert.Equal(t, MediaTypeDICOM, resolved.MediaType)
	assert.Equal(t, dicom.ExplicitVRLittleEndian, resolved.TransferSyntax)
	assert.True(t, resolved.SinglePart)
}

func TestResolveAccept_StudyRejectsSinglePart(t *testing.T) {
	_, err := ResolveAccept(dicom.LevelStudy, []Preference{
		{MediaType: MediaTypeDICOM, TransferSyntax: dicom.OriginalTransferSyntax, SinglePart: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotAcceptable)

	resolved, err := ResolveAccept(dicom.LevelStudy, []Preference{
		{MediaType: MediaTypeDICOM, TransferSyntax: dicom.OriginalTransferSyntax},
	})
	require.NoError(t, err)
	assert.False(t, resolved.SinglePart)
}

func TestResolveAccept_FramesWantOctetStream(t *testing.T) {
	_, err := ResolveAccept(dicom.LevelFrames, []Preference{
		{MediaType: MediaTypeDICOM, TransferSyntax: dicom.OriginalTransferSyntax},
	})
	assert.ErrorIs(t, err, errors.ErrNotAcceptable)

	resolved, err := ResolveAccept(dicom.LevelFrames, []Preference{
		{MediaType: MediaTypeOctetStream, TransferSyntax: dicom.OriginalTransferSyntax},
	})
	require.NoError(t, err)
	assert.Equal(t, MediaTypeOctetStream, resolved.MediaType)
}

func TestResolveAccept_DefaultsWhenEmpty(t *testing.T) {
	resolved, err := ResolveAccept(dicom.LevelSeries, nil)
	require.NoError(t, err)
	assert.Equal(t, MediaTypeDICOM, resolved.MediaType)
	assert.Equal(t, dicom.OriginalTransferSyntax, resolved.TransferSyntax)

	resolved, err = ResolveAccept(dicom.LevelFrames, nil)
	require.NoError(t, err)
	assert.Equal(t, MediaTypeOctetStream, resolved.MediaType)
}
