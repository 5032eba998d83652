package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sroyama/dicom-server/dicom"
	"github.com/sroyama/dicom-server/errors"
)

// Warning categories attached to validation results. Entry-scoped
// warnings ride on the per-entry outcome; advisory warnings are rolled
// up into one batch-level message.
type Warning string

const (
	// WarningUnknownSOPClass flags an accepted instance whose SOP class
	// the engine does not recognize. Entry-scoped.
	WarningUnknownSOPClass Warning = "unknown-sop-class"

	// WarningMultiValuedAttribute flags an indexed attribute carrying
	// multiple values; only the first is queryable. Batch-level advisory.
	WarningMultiValuedAttribute Warning = "multi-valued-indexed-attribute"
)

// ValidationResult carries the non-fatal findings of one validation.
type ValidationResult struct {
	EntryWarnings []Warning
	Advisories    []Warning

	// Stripped lists attributes removed in lenient mode because they
	// failed a rule check but are not core-identifying.
	Stripped []string
}

// indexedAttributes are the non-core attributes the index exposes for
// querying. Multi-valued occurrences trigger a batch-level advisory.
var indexedAttributes = []string{
	dicom.AttrPatientName,
	dicom.AttrStudyDate,
	dicom.AttrModality,
	dicom.AttrAccessionNumber,
}

// Validator runs the attribute-level checks of the ingestion pipeline.
// In lenient mode, non-core attributes that fail a rule are stripped
// from the dataset instead of failing the entry. Core identifying
// attributes always fail hard, regardless of mode.
type Validator struct {
	lenient bool
}

// NewValidator creates a validator. Lenient mode strips invalid
// non-core attributes instead of rejecting the entry.
func NewValidator(lenient bool) *Validator {
	return &Validator{lenient: lenient}
}

// Validate checks the dataset against the required attribute rules.
// requiredStudyUID, when non-empty, constrains the entry to one study.
// A returned error aborts the entry; the result carries warnings and
// any stripped attributes otherwise.
func (v *Validator) Validate(ds *dicom.Dataset, requiredStudyUID string) (ValidationResult, error) {
	var result ValidationResult

	if err := v.validateCore(ds, requiredStudyUID); err != nil {
		return result, err
	}

	if !dicom.KnownSOPClass(ds.GetString(dicom.AttrSOPClassUID)) {
		result.EntryWarnings = append(result.EntryWarnings, WarningUnknownSOPClass)
	}

	for _, keyword := range ds.Keywords() {
		if dicom.CoreAttributes[keyword] {
			continue
		}
		if err := validateAttribute(keyword, ds.GetString(keyword)); err != nil {
			if !v.lenient {
				return result, errors.WrapInvalid(errors.ErrValidationFailure, "Validator", "Validate",
					err.Error())
			}
			ds.Remove(keyword)
			result.Stripped = append(result.Stripped, keyword)
		}
	}

	for _, keyword := range indexedAttributes {
		if ds.IsMultiValued(keyword) {
			result.Advisories = append(result.Advisories, WarningMultiValuedAttribute)
			break
		}
	}

	return result, nil
}

// validateCore checks the identifying attributes that can never be
// stripped.
func (v *Validator) validateCore(ds *dicom.Dataset, requiredStudyUID string) error {
	fail := func(msg string) error {
		return errors.WrapInvalid(errors.ErrValidationFailure, "Validator", "Validate", msg)
	}

	for _, keyword := range []string{
		dicom.AttrStudyInstanceUID,
		dicom.AttrSeriesInstanceUID,
		dicom.AttrSOPInstanceUID,
		dicom.AttrSOPClassUID,
	} {
		value, ok := ds.Get(keyword)
		if !ok || value == "" {
			return fail(fmt.Sprintf("required attribute %s is missing", keyword))
		}
		if !dicom.ValidUID(value) {
			return fail(fmt.Sprintf("attribute %s value %q is not a valid UID", keyword, value))
		}
	}

	patientID, ok := ds.Get(dicom.AttrPatientID)
	if !ok || strings.TrimSpace(patientID) == "" {
		return fail("required attribute PatientID is missing")
	}
	if len(patientID) > 64 {
		return fail("attribute PatientID exceeds 64 characters")
	}

	if requiredStudyUID != "" && ds.GetString(dicom.AttrStudyInstanceUID) != requiredStudyUID {
		return fail(fmt.Sprintf("StudyInstanceUID %q does not match required study %q",
			ds.GetString(dicom.AttrStudyInstanceUID), requiredStudyUID))
	}

	return nil
}

// validateAttribute runs the rule check for one non-core attribute.
func validateAttribute(keyword, value string) error {
	switch keyword {
	case dicom.AttrTransferSyntaxUID:
		if !dicom.ValidUID(value) {
			return fmt.Errorf("TransferSyntaxUID %q is not a valid UID", value)
		}
	case dicom.AttrStudyDate:
		if len(value) != 8 {
			return fmt.Errorf("StudyDate %q is not in YYYYMMDD form", value)
		}
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("StudyDate %q is not in YYYYMMDD form", value)
		}
	case dicom.AttrModality, dicom.AttrAccessionNumber:
		if firstValue(value) == "" || len(firstValue(value)) > 16 {
			return fmt.Errorf("%s %q exceeds 16 characters or is empty", keyword, value)
		}
	case dicom.AttrPatientName:
		if len(value) > 324 {
			return fmt.Errorf("PatientName exceeds 324 characters")
		}
	case dicom.AttrNumberOfFrames:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return fmt.Errorf("NumberOfFrames %q is not a positive integer", value)
		}
	}
	return nil
}

// firstValue returns the first component of a possibly multi-valued
// attribute.
func firstValue(value string) string {
	if i := strings.Index(value, dicom.MultiValueDelimiter); i >= 0 {
		return value[:i]
	}
	return value
}
