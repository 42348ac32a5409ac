// Package syncer implements the background synchronization driver: the state
// machine that walks pending inspection records through the upload lifecycle
// Local → Uploading → {Uploaded, Failed}. One pass runs at a time; records
// in a pass are processed strictly sequentially so a failure stays isolated
// to its record and the backend never sees a burst.
package syncer

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/asemenov-dev/inspectsync/internal/agent/blob"
	"github.com/asemenov-dev/inspectsync/internal/agent/events"
	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/agent/records"
	"github.com/asemenov-dev/inspectsync/internal/logging"
	"github.com/asemenov-dev/inspectsync/internal/netx"
)

// ConnectivitySource answers whether a network pass is worth attempting.
// *connectivity.Monitor satisfies it.
type ConnectivitySource interface {
	Online() bool
}

// Driver is the synchronization state machine.
type Driver struct {
	records   *records.Repository
	blobs     blob.Store
	bus       *events.Bus
	conn      ConnectivitySource
	client    *http.Client
	uploadURL string
	interval  time.Duration
	log       logging.Logger

	// inFlight is the single-flight guard. The driver may be ticked from a
	// timer goroutine and from manual triggers, so the guard is an atomic
	// rather than a plain bool.
	inFlight atomic.Bool
}

// NewDriver wires a Driver. A nil client means http.DefaultClient.
func NewDriver(recs *records.Repository, blobs blob.Store, bus *events.Bus,
	conn ConnectivitySource, client *http.Client, uploadURL string,
	interval time.Duration, log logging.Logger) *Driver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Driver{
		records:   recs,
		blobs:     blobs,
		bus:       bus,
		conn:      conn,
		client:    client,
		uploadURL: uploadURL,
		interval:  interval,
		log:       log,
	}
}

// Run ticks once immediately, then once per interval, until ctx is
// cancelled.
func (d *Driver) Run(ctx context.Context) {
	d.Tick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one pass. When connectivity is not online, or a pass is already
// in flight, the tick is a complete no-op: the store is not even read.
func (d *Driver) Tick(ctx context.Context) {
	if !d.conn.Online() {
		return
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer d.inFlight.Store(false)

	d.processPending(ctx)
}

// processPending snapshots the pending set once and walks it sequentially.
// A record that turns Local mid-pass waits for the next tick.
func (d *Driver) processPending(ctx context.Context) {
	var pending []models.Inspection
	for _, ins := range d.records.LoadAll() {
		if ins.EffectiveStatus() == models.StatusLocal {
			pending = append(pending, ins)
		}
	}
	if len(pending) == 0 {
		return
	}

	d.log.Info(ctx, "starting sync pass", "pending", len(pending))
	for _, ins := range pending {
		d.processRecord(ctx, ins)
	}
}

// processRecord drives one record through Uploading to a terminal status.
// Errors end at the record's Failed status; they never abort the batch.
func (d *Driver) processRecord(ctx context.Context, ins models.Inspection) {
	ins = d.setStatus(ctx, ins, models.StatusUploading)

	formData := d.records.LoadFormData(ins.ID)

	queryParams, files := d.buildTransfer(ctx, ins.ID, formData)
	payload := netx.UploadPayload{
		SessionID:   ins.ID,
		Name:        ins.Name,
		UserID:      ins.UserID,
		QueryParams: queryParams,
	}

	if err := netx.PostInspection(ctx, d.client, d.uploadURL, payload, files); err != nil {
		d.setStatus(ctx, ins, models.StatusFailed)
		d.log.Error(ctx, "failed to upload inspection", "id", ins.ID, "error", err)
		return
	}

	d.setStatus(ctx, ins, models.StatusUploaded)

	// The remote owns the attachments now. Every referenced id is removed,
	// including ones that failed to resolve above; a delete failure is
	// logged and not retried in this pass.
	if ids := referencedIDs(formData); len(ids) > 0 {
		if err := d.blobs.DeleteFiles(ctx, ids); err != nil {
			d.log.Warn(ctx, "failed to delete uploaded blobs", "id", ins.ID, "error", err)
		}
	}
}

// buildTransfer serializes every field value and resolves every embedded
// file reference to its bytes. A missing blob is logged and skipped; it
// never aborts the upload.
func (d *Driver) buildTransfer(ctx context.Context, recordID string, formData models.FormData) (map[string]string, []netx.UploadFile) {
	queryParams := make(map[string]string, len(formData))
	var files []netx.UploadFile

	for key, value := range formData {
		queryParams[key] = value.Serialize()

		for _, ref := range value.FileRefs() {
			stored, err := d.blobs.GetFile(ctx, ref.ID)
			if err != nil {
				d.log.Warn(ctx, "failed to resolve blob, skipping file",
					"record", recordID, "file", ref.ID, "error", err)
				continue
			}
			if stored == nil {
				d.log.Warn(ctx, "blob missing, skipping file",
					"record", recordID, "file", ref.ID)
				continue
			}
			files = append(files, netx.UploadFile{
				Name: stored.Name,
				Type: stored.Type,
				Data: stored.Data,
			})
		}
	}
	return queryParams, files
}

// setStatus persists the transition, refreshes the current-session pointer
// when and only when it refers to this record, and notifies the fan-out.
func (d *Driver) setStatus(ctx context.Context, ins models.Inspection, status models.UploadStatus) models.Inspection {
	updated := d.records.Update(ins.WithStatus(status))

	if current := d.records.LoadCurrent(); current != nil && current.ID == updated.ID {
		d.records.SaveCurrent(updated)
	}

	d.bus.Publish(events.StatusChange{
		RecordID: updated.ID,
		Status:   status,
		Record:   updated,
	})
	d.log.Debug(ctx, "inspection status changed", "id", updated.ID, "status", string(status))
	return updated
}

func referencedIDs(formData models.FormData) []string {
	refs := formData.FileRefs()
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids
}
