package retrieve

import (
	"context"

	"github.com/sroyama/dicom-server/errors"
)

// FrameExtractor pulls individual frames out of a fully-downloaded
// payload. It is the fallback for instances without a precomputed frame
// layout, and the only frame path when transcoding is requested. The
// extractor performs any requested syntax conversion itself.
type FrameExtractor interface {
	// ExtractFrames returns one payload per requested frame number
	// (1-based, in request order). A frame number outside the instance
	// fails the whole call with FrameNotFound.
	ExtractFrames(ctx context.Context, payload []byte, frameNumbers []int,
		originalRequested bool, targetSyntax string) ([][]byte, error)
}

// UnsupportedFrameExtractor rejects every extraction. Deployments
// without a pixel-data codec serve only instances carrying a
// precomputed frame layout.
type UnsupportedFrameExtractor struct{}

func (UnsupportedFrameExtractor) ExtractFrames(_ context.Context, _ []byte, _ []int,
	_ bool, _ string) ([][]byte, error) {
	return nil, errors.WrapInvalid(errors.ErrNotAcceptable, "UnsupportedFrameExtractor", "ExtractFrames",
		"extract frames without a pixel-data codec")
}
