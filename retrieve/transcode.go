package retrieve

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// Transcoder converts a fully-downloaded payload from its stored
// transfer syntax to the requested one. Conversions outside the
// implementation's reach fail with UnsupportedConversion.
type Transcoder interface {
	Transcode(ctx context.Context, payload []byte, storedSyntax, targetSyntax string) ([]byte, error)
}

// DeflateTranscoder converts between deflated and plain explicit VR
// little endian encodings. Pixel-data codecs (JPEG families, RLE) live
// outside this engine; requests for them fail with
// UnsupportedConversion.
type DeflateTranscoder struct {
	// Level is the flate compression level. Zero means default.
	Level int
}

// NewDeflateTranscoder creates a transcoder with default compression.
func NewDeflateTranscoder() *DeflateTranscoder {
	return &DeflateTranscoder{Level: flate.DefaultCompression}
}

func (t *DeflateTranscoder) Transcode(_ context.Context, payload []byte, storedSyntax, targetSyntax string) ([]byte, error) {
	if dicom.TransferSyntaxEqual(storedSyntax, targetSyntax) {
		return payload, nil
	}

	switch {
	case targetSyntax == dicom.DeflatedExplicitVRLittleEndian && uncompressed(storedSyntax):
		return t.deflate(payload)
	case storedSyntax == dicom.DeflatedExplicitVRLittleEndian && uncompressed(targetSyntax):
		return t.inflate(payload)
	default:
		return nil, errors.WrapInvalid(errors.ErrUnsupportedConversion, "DeflateTranscoder", "Transcode",
			fmt.Sprintf("convert %s to %s", storedSyntax, targetSyntax))
	}
}

func (t *DeflateTranscoder) deflate(payload []byte) ([]byte, error) {
	level := t.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrTranscode, err),
			"DeflateTranscoder", "Transcode", "initialize deflate writer")
	}
	if _, err := w.Write(payload); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrTranscode, err),
			"DeflateTranscoder", "Transcode", "deflate payload")
	}
	if err := w.Close(); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrTranscode, err),
			"DeflateTranscoder", "Transcode", "flush deflate stream")
	}
	return buf.Bytes(), nil
}

func (t *DeflateTranscoder) inflate(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrTranscode, err),
			"DeflateTranscoder", "Transcode", "inflate payload")
	}
	return data, nil
}

// uncompressed reports whether the syntax is a plain explicit or
// implicit VR encoding.
func uncompressed(syntax string) bool {
	switch syntax {
	case dicom.ImplicitVRLittleEndian, dicom.ExplicitVRLittleEndian, dicom.ExplicitVRBigEndian:
		return true
	}
	return false
}
