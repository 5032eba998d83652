package dicom

// Storage SOP Class UIDs the engine recognizes, from DICOM Part 4,
// Annex B.5. The list is not exhaustive; an unknown SOP class is
// accepted but flagged with a warning on the entry outcome.
const (
	CTImageStorage               = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage       = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage               = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage       = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage       = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage = "1.2.840.10008.5.1.4.1.1.12.1"
	NuclearMedicineImageStorage  = "1.2.840.10008.5.1.4.1.1.20"
	DigitalXRayImageStorage      = "1.2.840.10008.5.1.4.1.1.1.1"
	PositronEmissionTomography   = "1.2.840.10008.5.1.4.1.1.128"
)

var knownSOPClasses = map[string]bool{
	CTImageStorage:               true,
	EnhancedCTImageStorage:       true,
	MRImageStorage:               true,
	EnhancedMRImageStorage:       true,
	UltrasoundImageStorage:       true,
	SecondaryCaptureImageStorage: true,
	XRayAngiographicImageStorage: true,
	NuclearMedicineImageStorage:  true,
	DigitalXRayImageStorage:      true,
	PositronEmissionTomography:   true,
}

// KnownSOPClass reports whether the UID is a storage SOP class the
// engine recognizes.
func KnownSOPClass(uid string) bool {
	return knownSOPClasses[uid]
}
