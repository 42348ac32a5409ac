// Package records implements the durable store for inspection records, their
// form data, and the current-session pointer, on top of an injected
// kvstore.Storage. All operations are synchronous; malformed persisted JSON
// is logged and treated as absence of data, never returned as an error.
package records

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/asemenov-dev/inspectsync/internal/agent/kvstore"
	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/logging"
)

const (
	inspectionPrefix  = "inspection_"
	formDataPrefix    = "formData_"
	currentSessionKey = "currentSession"
)

// DeleteOptions controls what Delete removes besides the record entry.
// The zero value of a *nil* options pointer means "remove everything
// related": form data and, when it matches, the current-session pointer.
type DeleteOptions struct {
	RemoveFormData       bool
	RemoveCurrentIfMatch bool
}

// Repository is the synchronous record store.
type Repository struct {
	storage kvstore.Storage
	log     logging.Logger
}

// NewRepository returns a Repository over the given storage.
func NewRepository(storage kvstore.Storage, log logging.Logger) *Repository {
	return &Repository{storage: storage, log: log}
}

// LoadAll scans every persisted inspection entry, skipping malformed ones
// with a logged error, and deduplicates by record id keeping the last value
// encountered in key order. Statuses are normalized on the way out.
func (r *Repository) LoadAll() []models.Inspection {
	byID := make(map[string]models.Inspection)
	var order []string

	for _, key := range r.storage.Keys() {
		if !strings.HasPrefix(key, inspectionPrefix) {
			continue
		}
		raw, ok := r.storage.Get(key)
		if !ok {
			continue
		}
		ins, ok := r.parse(raw, key)
		if !ok {
			continue
		}
		if _, seen := byID[ins.ID]; !seen {
			order = append(order, ins.ID)
		}
		byID[ins.ID] = ins
	}

	result := make([]models.Inspection, 0, len(order))
	for _, id := range order {
		result = append(result, byID[id])
	}
	return result
}

// LoadByID returns the record stored under id, or nil when absent or
// malformed.
func (r *Repository) LoadByID(id string) *models.Inspection {
	raw, ok := r.storage.Get(inspectionPrefix + id)
	if !ok {
		return nil
	}
	ins, ok := r.parse(raw, inspectionPrefix+id)
	if !ok {
		return nil
	}
	return &ins
}

// Save persists the record, overwriting any previous value for its id.
func (r *Repository) Save(ins models.Inspection) {
	data, err := json.Marshal(ins)
	if err != nil {
		r.log.Error(context.Background(), "marshalling inspection", "id", ins.ID, "error", err)
		return
	}
	r.storage.Set(inspectionPrefix+ins.ID, string(data))
}

// Update is the save path used for status-only transitions. It returns its
// input for chaining.
func (r *Repository) Update(ins models.Inspection) models.Inspection {
	r.Save(ins)
	return ins
}

// LoadCurrent returns the current-session pointer, or nil when absent or
// malformed.
func (r *Repository) LoadCurrent() *models.Inspection {
	raw, ok := r.storage.Get(currentSessionKey)
	if !ok {
		return nil
	}
	ins, ok := r.parse(raw, currentSessionKey)
	if !ok {
		return nil
	}
	return &ins
}

// SaveCurrent stores the record as the current-session pointer.
func (r *Repository) SaveCurrent(ins models.Inspection) {
	data, err := json.Marshal(ins)
	if err != nil {
		r.log.Error(context.Background(), "marshalling current session", "id", ins.ID, "error", err)
		return
	}
	r.storage.Set(currentSessionKey, string(data))
}

// Delete removes the record entry. With nil opts it also removes the
// record's form data and clears the current-session pointer, the latter only
// when the pointer's id equals the deleted id. An unrelated current pointer
// is never touched.
func (r *Repository) Delete(id string, opts *DeleteOptions) {
	if opts == nil {
		opts = &DeleteOptions{RemoveFormData: true, RemoveCurrentIfMatch: true}
	}

	r.storage.Delete(inspectionPrefix + id)
	if opts.RemoveFormData {
		r.storage.Delete(formDataPrefix + id)
	}

	if !opts.RemoveCurrentIfMatch {
		return
	}
	if current := r.LoadCurrent(); current != nil && current.ID == id {
		r.storage.Delete(currentSessionKey)
	}
}

// LoadFormData returns the record's form-field payload, or nil when absent
// or malformed.
func (r *Repository) LoadFormData(id string) models.FormData {
	raw, ok := r.storage.Get(formDataPrefix + id)
	if !ok {
		return nil
	}
	var data models.FormData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		r.log.Error(context.Background(), "parsing form data", "id", id, "error", err)
		return nil
	}
	return data
}

// SaveFormData persists the record's form-field payload, independent of the
// record entry itself. The two are not updated atomically and may
// transiently disagree.
func (r *Repository) SaveFormData(id string, data models.FormData) {
	raw, err := json.Marshal(data)
	if err != nil {
		r.log.Error(context.Background(), "marshalling form data", "id", id, "error", err)
		return
	}
	r.storage.Set(formDataPrefix+id, string(raw))
}

func (r *Repository) parse(raw, key string) (models.Inspection, bool) {
	var ins models.Inspection
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		r.log.Error(context.Background(), "parsing inspection", "key", key, "error", err)
		return models.Inspection{}, false
	}
	ins.UploadStatus = models.NormalizeStatus(ins.UploadStatus)
	return ins, true
}
