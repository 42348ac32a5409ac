package models

// FileReference is the metadata stub a form field stores in place of file
// bytes. The bytes themselves live exclusively in the blob store, addressed
// by ID. Size is in bytes, LastModified in Unix milliseconds.
type FileReference struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
}
