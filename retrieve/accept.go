// Package retrieve resolves study, series, instance and frame requests
// into a lazily-produced sequence of binary parts, transcoding only
// when the negotiated transfer syntax requires it.
package retrieve

import (
	"fmt"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// Media types offered by the retrieval surface.
const (
	MediaTypeDICOM       = "application/dicom"
	MediaTypeOctetStream = "application/octet-stream"
)

// Preference is one entry of the caller's ordered accept set.
type Preference struct {
	MediaType      string
	TransferSyntax string
	SinglePart     bool
}

// ResolvedAccept is the single preference the negotiation settled on.
type ResolvedAccept struct {
	MediaType      string
	TransferSyntax string
	SinglePart     bool
}

// ResolveAccept picks the first offered preference satisfiable at the
// request's granularity. An empty offer falls back to the default for
// the granularity. No satisfiable preference fails with NotAcceptable.
func ResolveAccept(level dicom.ResourceLevel, offered []Preference) (ResolvedAccept, error) {
	if len(offered) == 0 {
		offered = []Preference{defaultPreference(level)}
	}

	for _, pref := range offered {
		if acceptable(level, pref) {
			return ResolvedAccept{
				MediaType:      pref.MediaType,
				TransferSyntax: pref.TransferSyntax,
				SinglePart:     pref.SinglePart,
			}, nil
		}
	}

	return ResolvedAccept{}, errors.WrapInvalid(errors.ErrNotAcceptable, "Negotiation", "ResolveAccept",
		fmt.Sprintf("satisfy accept preferences at %s granularity", level))
}

// acceptable reports whether one preference can be served at the given
// granularity.
func acceptable(level dicom.ResourceLevel, pref Preference) bool {
	switch level {
	case dicom.LevelStudy, dicom.LevelSeries:
		// Multi-instance responses are always multipart.
		return pref.MediaType == MediaTypeDICOM && !pref.SinglePart
	case dicom.LevelInstance:
		return pref.MediaType == MediaTypeDICOM
	case dicom.LevelFrames:
		return pref.MediaType == MediaTypeOctetStream
	default:
		return false
	}
}

// defaultPreference is used when the caller sent no accept set.
func defaultPreference(level dicom.ResourceLevel) Preference {
	if level == dicom.LevelFrames {
		return Preference{
			MediaType:      MediaTypeOctetStream,
			TransferSyntax: dicom.OriginalTransferSyntax,
		}
	}
	return Preference{
		MediaType:      MediaTypeDICOM,
		TransferSyntax: dicom.OriginalTransferSyntax,
	}
}
