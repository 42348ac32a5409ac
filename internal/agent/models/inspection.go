// Package models defines the data model shared by the record store, the blob
// store and the synchronization driver: inspection records, their upload
// lifecycle, and the form-field value union.
package models

// UploadStatus is the per-record position in the upload lifecycle.
type UploadStatus string

const (
	StatusLocal      UploadStatus = "local"
	StatusInProgress UploadStatus = "inProgress"
	StatusUploading  UploadStatus = "uploading"
	StatusUploaded   UploadStatus = "uploaded"
	StatusFailed     UploadStatus = "failed"
)

// NormalizeStatus maps an absent status to StatusLocal. Every read boundary
// applies this so the "missing status means local" convention lives in one
// place instead of being repeated at call sites.
func NormalizeStatus(s UploadStatus) UploadStatus {
	if s == "" {
		return StatusLocal
	}
	return s
}

// FormType identifies which form schema an inspection was filled against.
type FormType string

const (
	FormTypeElectrical FormType = "electrical"
	FormTypeHVAC       FormType = "hvac"
)

// FormTypeLabels maps form types to their display names.
var FormTypeLabels = map[FormType]string{
	FormTypeElectrical: "Electrical",
	FormTypeHVAC:       "HVAC",
}

// Inspection is one filled-or-in-progress inspection session. Records are
// persisted as whole-value JSON keyed by ID; there is no partial-field merge.
type Inspection struct {
	// ID is an opaque unique identifier, generated at creation, immutable.
	ID string `json:"id"`

	// Name is the user-visible display name, mutable.
	Name string `json:"name"`

	// FormType selects the schema the record was filled against.
	FormType FormType `json:"formType"`

	// UploadStatus is the record's position in the upload lifecycle. It is
	// omitted when empty; readers must treat absence as StatusLocal via
	// EffectiveStatus.
	UploadStatus UploadStatus `json:"uploadStatus,omitempty"`

	// UserID is the owning user, empty when the record has no owner.
	UserID string `json:"userId,omitempty"`
}

// EffectiveStatus returns the record's upload status with the missing-status
// default applied.
func (i *Inspection) EffectiveStatus() UploadStatus {
	return NormalizeStatus(i.UploadStatus)
}

// WithStatus returns a copy of the record with the given status set.
// The driver uses this for its status-only transitions so the original
// value stays untouched.
func (i Inspection) WithStatus(s UploadStatus) Inspection {
	i.UploadStatus = s
	return i
}
