// Package services implements the flows the form UI drives: creating and
// editing inspections, attaching files, deleting, and the manual retry of a
// failed upload. It owns the convention that keeps the record store safe
// without locks: these flows never write uploadStatus for a record the sync
// driver might be touching; only RetryFailed and MarkReady transition
// status, and only from Failed and InProgress respectively.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/asemenov-dev/inspectsync/internal/agent/blob"
	"github.com/asemenov-dev/inspectsync/internal/agent/events"
	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/agent/records"
	"github.com/asemenov-dev/inspectsync/internal/agent/schema"
	"github.com/asemenov-dev/inspectsync/internal/common"
	"github.com/asemenov-dev/inspectsync/internal/logging"
)

// StatusCounts is the aggregate the summary header shows.
type StatusCounts struct {
	Local      int
	InProgress int
	Uploading  int
	Uploaded   int
	Failed     int
}

// InspectionService coordinates the record store, the blob store and the
// schema provider on behalf of the UI.
type InspectionService struct {
	repo    *records.Repository
	blobs   blob.Store
	schemas schema.Provider
	bus     *events.Bus
	log     logging.Logger
}

// NewInspectionService wires an InspectionService.
func NewInspectionService(repo *records.Repository, blobs blob.Store,
	schemas schema.Provider, bus *events.Bus, log logging.Logger) *InspectionService {
	return &InspectionService{repo: repo, blobs: blobs, schemas: schemas, bus: bus, log: log}
}

// Create starts a new inspection in the InProgress state and makes it the
// current session. The record stays invisible to the sync driver until
// MarkReady queues it.
func (s *InspectionService) Create(ctx context.Context, name string, formType models.FormType, userID string) (models.Inspection, error) {
	if _, err := s.schemas.SchemaFor(formType); err != nil {
		return models.Inspection{}, fmt.Errorf("creating inspection: %w", err)
	}

	ins := models.Inspection{
		ID:           uuid.NewString(),
		Name:         name,
		FormType:     formType,
		UploadStatus: models.StatusInProgress,
		UserID:       userID,
	}
	s.repo.Save(ins)
	s.repo.SaveCurrent(ins)
	s.log.Info(ctx, "inspection created", "id", ins.ID, "formType", string(formType))
	return ins, nil
}

// Rename updates the display name, leaving status untouched.
func (s *InspectionService) Rename(ctx context.Context, id, name string) error {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return fmt.Errorf("renaming inspection %s: %w", id, common.ErrNotFound)
	}
	ins.Name = name
	s.repo.Save(*ins)

	if current := s.repo.LoadCurrent(); current != nil && current.ID == id {
		s.repo.SaveCurrent(*ins)
	}
	return nil
}

// Open makes the record the current session and returns it.
func (s *InspectionService) Open(id string) (*models.Inspection, error) {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return nil, fmt.Errorf("opening inspection %s: %w", id, common.ErrNotFound)
	}
	s.repo.SaveCurrent(*ins)
	return ins, nil
}

// FormData returns the record's form data with keys normalized through the
// schema's id↔external-id map, so payloads written under either key form
// read back identically.
func (s *InspectionService) FormData(id string) (models.FormData, error) {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return nil, fmt.Errorf("loading form data for %s: %w", id, common.ErrNotFound)
	}
	sch, err := s.schemas.SchemaFor(ins.FormType)
	if err != nil {
		return nil, err
	}

	data := s.repo.LoadFormData(id)
	if data == nil {
		return models.FormData{}, nil
	}
	return sch.KeyMap().Normalize(data), nil
}

// SetFieldValue writes one field. Replacing or clearing a value that held
// file references deletes the blobs that are no longer referenced.
func (s *InspectionService) SetFieldValue(ctx context.Context, id, key string, value models.FormValue) error {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return fmt.Errorf("updating field on %s: %w", id, common.ErrNotFound)
	}
	sch, err := s.schemas.SchemaFor(ins.FormType)
	if err != nil {
		return err
	}
	km := sch.KeyMap()

	canonical := key
	if f, ok := km.Resolve(key); ok {
		canonical = f.Key()
	}

	data := km.Normalize(s.repo.LoadFormData(id))
	if data == nil {
		data = models.FormData{}
	}

	if stale := staleRefIDs(data[canonical], value); len(stale) > 0 {
		if err := s.blobs.DeleteFiles(ctx, stale); err != nil {
			// The value update proceeds; the orphaned blob is a logged
			// integrity smell, not a failure of the edit.
			s.log.Warn(ctx, "failed to delete replaced blobs", "id", id, "error", err)
		}
	}

	if value.IsEmpty() {
		delete(data, canonical)
	} else {
		data[canonical] = value
	}
	s.repo.SaveFormData(id, data)
	return nil
}

// AttachFiles stores the uploads in the blob store, tagged with the record
// and field, and sets the field to reference them, replacing any previous
// value. A single input on a signature-style field is stored as a single
// reference.
func (s *InspectionService) AttachFiles(ctx context.Context, id, key string, inputs []blob.FileInput) ([]models.FileReference, error) {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return nil, fmt.Errorf("attaching files to %s: %w", id, common.ErrNotFound)
	}

	refs, err := s.blobs.SaveFiles(ctx, inputs, &blob.Owner{SessionID: id, FieldID: key})
	if err != nil {
		return nil, fmt.Errorf("saving attachments: %w", err)
	}

	var value models.FormValue
	if len(refs) == 1 {
		value = models.FileValue(refs[0])
	} else {
		value = models.FilesValue(refs)
	}
	if err := s.SetFieldValue(ctx, id, key, value); err != nil {
		return nil, err
	}
	return refs, nil
}

// MarkReady queues an in-progress inspection for upload by moving it to
// Local, where the next sync tick picks it up.
func (s *InspectionService) MarkReady(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.StatusInProgress, models.StatusLocal)
}

// RetryFailed resets a failed inspection to Local. It refuses any other
// starting state: retry must never race the driver on a record it owns.
func (s *InspectionService) RetryFailed(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.StatusFailed, models.StatusLocal)
}

// Delete removes the record, its form data, its referenced blobs, and the
// current-session pointer when it refers to this record.
func (s *InspectionService) Delete(ctx context.Context, id string) error {
	if data := s.repo.LoadFormData(id); data != nil {
		refs := data.FileRefs()
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		if err := s.blobs.DeleteFiles(ctx, ids); err != nil {
			return fmt.Errorf("deleting attachments of %s: %w", id, err)
		}
	}
	s.repo.Delete(id, nil)
	s.log.Info(ctx, "inspection deleted", "id", id)
	return nil
}

// Counts aggregates records by effective status for the summary views.
func (s *InspectionService) Counts() StatusCounts {
	var c StatusCounts
	for _, ins := range s.repo.LoadAll() {
		switch ins.EffectiveStatus() {
		case models.StatusLocal:
			c.Local++
		case models.StatusInProgress:
			c.InProgress++
		case models.StatusUploading:
			c.Uploading++
		case models.StatusUploaded:
			c.Uploaded++
		case models.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// FailedCount backs the "N inspections failed" banner.
func (s *InspectionService) FailedCount() int {
	return s.Counts().Failed
}

func (s *InspectionService) transition(ctx context.Context, id string, from, to models.UploadStatus) error {
	ins := s.repo.LoadByID(id)
	if ins == nil {
		return fmt.Errorf("transitioning %s: %w", id, common.ErrNotFound)
	}
	if ins.EffectiveStatus() != from {
		return fmt.Errorf("transitioning %s from %s: %w", id, ins.EffectiveStatus(), common.ErrNotRetryable)
	}

	updated := s.repo.Update(ins.WithStatus(to))
	if current := s.repo.LoadCurrent(); current != nil && current.ID == id {
		s.repo.SaveCurrent(updated)
	}
	s.bus.Publish(events.StatusChange{RecordID: id, Status: to, Record: updated})
	s.log.Info(ctx, "inspection status changed", "id", id, "from", string(from), "to", string(to))
	return nil
}

// staleRefIDs returns ids referenced by the old value but not the new one.
func staleRefIDs(oldValue, newValue models.FormValue) []string {
	keep := make(map[string]bool)
	for _, ref := range newValue.FileRefs() {
		keep[ref.ID] = true
	}
	var stale []string
	for _, ref := range oldValue.FileRefs() {
		if !keep[ref.ID] {
			stale = append(stale, ref.ID)
		}
	}
	return stale
}
