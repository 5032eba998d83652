package retrieve

import (
	"context"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

func TestDeflateTranscoder_RoundTrip(t *testing.T) {
	tr := NewDeflateTranscoder()
	ctx := context.Background()
	payload := []byte("pixel data pixel data pixel data pixel data")

	deflated, err := tr.Transcode(ctx, payload, dicom.ExplicitVRLittleEndian,
		dicom.DeflatedExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.NotEqual(t, payload, deflated)

	inflated, err := tr.Transcode(ctx, deflated, dicom.DeflatedExplicitVRLittleEndian,
		dicom.ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, payload, inflated)
}

func TestDeflateTranscoder_MatchIsPassThrough(t *testing.T) {
	tr := NewDeflateTranscoder()
	payload := []byte("unchanged")

	out, err := tr.Transcode(context.Background(), payload,
		dicom.ExplicitVRLittleEndian, dicom.ExplicitVRLittleEndian)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	out, err = tr.Transcode(context.Background(), payload,
		dicom.JPEG2000Lossless, dicom.OriginalTransferSyntax)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDeflateTranscoder_UnsupportedConversion(t *testing.T) {
	tr := NewDeflateTranscoder()

	_, err := tr.Transcode(context.Background(), []byte("x"),
		dicom.ExplicitVRLittleEndian, dicom.JPEG2000Lossless)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnsupportedConversion)

	// Legacy rows without a recorded syntax cannot be converted.
	_, err = tr.Transcode(context.Background(), []byte("x"),
		"", dicom.DeflatedExplicitVRLittleEndian)
	assert.ErrorIs(t, err, errors.ErrUnsupportedConversion)
}

func TestDeflateTranscoder_CorruptInput(t *testing.T) {
	tr := NewDeflateTranscoder()

	_, err := tr.Transcode(context.Background(), []byte("not a deflate stream"),
		dicom.DeflatedExplicitVRLittleEndian, dicom.ExplicitVRLittleEndian)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTranscode)

	// The decoder's own error stays reachable behind the sentinel.
	var corrupt flate.CorruptInputError
	assert.ErrorAs(t, err, &corrupt)
}
