package dicom

// Transfer syntax UIDs the engine recognizes, as defined in DICOM
// Part 5, Section 8 and Part 6, Annex A.4.
const (
	// ImplicitVRLittleEndian is the default DICOM transfer syntax
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian is the recommended uncompressed encoding
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian is retired, included for legacy data
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian applies deflate compression on top
	// of explicit VR encoding
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"

	// JPEGBaseline8Bit - JPEG Baseline (Process 1), lossy
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"

	// JPEGLosslessSV1 - JPEG Lossless (Process 14, Selection Value 1)
	JPEGLosslessSV1 = "1.2.840.10008.1.2.4.70"

	// JPEG2000Lossless - JPEG 2000 Image Compression (Lossless Only)
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"

	// JPEG2000 - JPEG 2000 Image Compression (lossy or lossless)
	JPEG2000 = "1.2.840.10008.1.2.4.91"

	// JPEGLSLossless - JPEG-LS Lossless Image Compression
	JPEGLSLossless = "1.2.840.10008.1.2.4.80"

	// RLELossless - RLE Lossless Compression
	RLELossless = "1.2.840.10008.1.2.5"

	// HTJ2KLossless - High-Throughput JPEG 2000 (Lossless Only)
	HTJ2KLossless = "1.2.840.10008.1.2.4.201"
)

// OriginalTransferSyntax is the negotiation sentinel asking for the
// stored bytes in whatever syntax they were committed with.
const OriginalTransferSyntax = "*"

// IsOriginalRequested reports whether the requested syntax is the
// "original" sentinel. The empty string is accepted as an alias for
// callers that omitted the parameter entirely.
func IsOriginalRequested(requested string) bool {
	return requested == OriginalTransferSyntax || requested == ""
}

// TransferSyntaxEqual reports whether a stored syntax satisfies a
// requested one without transcoding. A stored instance with no recorded
// transfer syntax matches only when the original sentinel is requested;
// that is a legacy-data compatibility exception, not general policy.
func TransferSyntaxEqual(stored, requested string) bool {
	if IsOriginalRequested(requested) {
		return true
	}
	if stored == "" {
		return false
	}
	return stored == requested
}

// TransferSyntaxInfo provides metadata about a transfer syntax.
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

// LookupTransferSyntax returns information about a transfer syntax UID.
// Unknown UIDs report as uncompressed and lossless.
func LookupTransferSyntax(uid string) TransferSyntaxInfo {
	if info, ok := transferSyntaxRegistry[uid]; ok {
		return info
	}
	return TransferSyntaxInfo{UID: uid, Name: "Unknown", IsLossless: true}
}

// KnownTransferSyntax reports whether the UID is in the registry.
func KnownTransferSyntax(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:        ImplicitVRLittleEndian,
		Name:       "Implicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRLittleEndian: {
		UID:        ExplicitVRLittleEndian,
		Name:       "Explicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRBigEndian: {
		UID:        ExplicitVRBigEndian,
		Name:       "Explicit VR Big Endian",
		IsLossless: true,
		IsRetired:  true,
	},
	DeflatedExplicitVRLittleEndian: {
		UID:          DeflatedExplicitVRLittleEndian,
		Name:         "Deflated Explicit VR Little Endian",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGBaseline8Bit: {
		UID:          JPEGBaseline8Bit,
		Name:         "JPEG Baseline (Process 1)",
		IsCompressed: true,
	},
	JPEGLosslessSV1: {
		UID:          JPEGLosslessSV1,
		Name:         "JPEG Lossless (Process 14, SV1)",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000Lossless: {
		UID:          JPEG2000Lossless,
		Name:         "JPEG 2000 Lossless Only",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000: {
		UID:          JPEG2000,
		Name:         "JPEG 2000",
		IsCompressed: true,
	},
	JPEGLSLossless: {
		UID:          JPEGLSLossless,
		Name:         "JPEG-LS Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
	RLELossless: {
		UID:          RLELossless,
		Name:         "RLE Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
	HTJ2KLossless: {
		UID:          HTJ2KLossless,
		Name:         "High-Throughput JPEG 2000 Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
}
