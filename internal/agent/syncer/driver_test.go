package syncer

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/asemenov-dev/inspectsync/internal/agent/blob"
	"github.com/asemenov-dev/inspectsync/internal/agent/events"
	"github.com/asemenov-dev/inspectsync/internal/agent/kvstore"
	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/agent/records"
	"github.com/asemenov-dev/inspectsync/internal/logging"
	"github.com/asemenov-dev/inspectsync/internal/netx"
)

type stubConn struct{ online bool }

func (c stubConn) Online() bool { return c.online }

type capturedUpload struct {
	payload netx.UploadPayload
	files   []string // file part names
}

// uploadServer records every multipart POST it receives.
type uploadServer struct {
	*httptest.Server
	mu       sync.Mutex
	uploads  []capturedUpload
	status   int
	requests atomic.Int32
}

func newUploadServer(t *testing.T, status int) *uploadServer {
	t.Helper()
	s := &uploadServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		require.NoError(t, r.ParseMultipartForm(8<<20))

		var payload netx.UploadPayload
		require.NoError(t, json.Unmarshal([]byte(r.FormValue(netx.PayloadPartName)), &payload))

		var names []string
		for _, fh := range r.MultipartForm.File[netx.FilesPartName] {
			names = append(names, fh.Filename)
		}

		s.mu.Lock()
		s.uploads = append(s.uploads, capturedUpload{payload: payload, files: names})
		s.mu.Unlock()

		w.WriteHeader(s.status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *uploadServer) captured() []capturedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedUpload, len(s.uploads))
	copy(out, s.uploads)
	return out
}

type fixture struct {
	repo   *records.Repository
	blobs  *blob.SQLiteStore
	bus    *events.Bus
	logBuf *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()

	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, blob.RunMigrations(context.Background(), db))

	return &fixture{
		repo:   records.NewRepository(kvstore.NewMemoryStorage(), log),
		blobs:  blob.NewSQLiteStore(db),
		bus:    events.NewBus(),
		logBuf: &buf,
	}
}

func (f *fixture) driver(url string, online bool) *Driver {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(f.logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return NewDriver(f.repo, f.blobs, f.bus, stubConn{online: online}, nil, url, time.Hour, log)
}

func collectChanges(bus *events.Bus) *[]events.StatusChange {
	var changes []events.StatusChange
	bus.Subscribe(func(c events.StatusChange) { changes = append(changes, c) })
	return &changes
}

func TestTick_UploadsLocalRecord(t *testing.T) {
	// Local record, no form data, 200 response.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)
	changes := collectChanges(f.bus)

	f.repo.Save(models.Inspection{ID: "r1", Name: "Roof unit", FormType: models.FormTypeHVAC, UploadStatus: models.StatusLocal})

	f.driver(srv.URL, true).Tick(context.Background())

	stored := f.repo.LoadByID("r1")
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusUploaded, stored.UploadStatus, "never left at uploading")

	require.Len(t, *changes, 2, "exactly two notifications")
	assert.Equal(t, models.StatusUploading, (*changes)[0].Status)
	assert.Equal(t, models.StatusUploaded, (*changes)[1].Status)
	assert.Equal(t, "r1", (*changes)[0].RecordID)

	require.Equal(t, int32(1), srv.requests.Load(), "exactly one network call")
	uploads := srv.captured()
	require.Len(t, uploads, 1)
	assert.Equal(t, "r1", uploads[0].payload.SessionID)
	assert.Equal(t, "Roof unit", uploads[0].payload.Name)
	assert.Equal(t, "", uploads[0].payload.UserID, "absent owner serializes as empty string")
	assert.Empty(t, uploads[0].files)
}

func TestTick_RejectedUploadEndsFailed(t *testing.T) {
	// A 500 response leaves the record Failed and the blobs untouched.
	f := setup(t)
	srv := newUploadServer(t, http.StatusInternalServerError)
	ctx := context.Background()

	ref, err := f.blobs.SaveFile(ctx, []byte("png"), blob.FileMeta{Name: "sig.png"}, nil)
	require.NoError(t, err)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})
	f.repo.SaveFormData("r1", models.FormData{"HV-SIGN": models.FileValue(ref)})

	f.driver(srv.URL, true).Tick(ctx)

	stored := f.repo.LoadByID("r1")
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusFailed, stored.UploadStatus)

	remaining, err := f.blobs.GetFile(ctx, ref.ID)
	require.NoError(t, err)
	assert.NotNil(t, remaining, "no blob deletions on failure")

	assert.Contains(t, f.logBuf.String(), "r1", "failure is logged with the record id")
}

func TestTick_OnlyLocalRecordsAreTouched(t *testing.T) {
	// One Local, one Uploaded, one InProgress.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)

	f.repo.Save(models.Inspection{ID: "a", UploadStatus: models.StatusLocal})
	f.repo.Save(models.Inspection{ID: "b", UploadStatus: models.StatusUploaded})
	f.repo.Save(models.Inspection{ID: "c", UploadStatus: models.StatusInProgress})

	f.driver(srv.URL, true).Tick(context.Background())

	require.Equal(t, int32(1), srv.requests.Load())
	uploads := srv.captured()
	require.Len(t, uploads, 1)
	assert.Equal(t, "a", uploads[0].payload.SessionID)

	assert.Equal(t, models.StatusUploaded, f.repo.LoadByID("b").UploadStatus)
	assert.Equal(t, models.StatusInProgress, f.repo.LoadByID("c").UploadStatus)
}

func TestTick_MissingStatusCountsAsLocal(t *testing.T) {
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)

	// Persisted by a build that predates the uploadStatus field.
	f.repo.Save(models.Inspection{ID: "old"})

	f.driver(srv.URL, true).Tick(context.Background())

	require.Equal(t, int32(1), srv.requests.Load())
	assert.Equal(t, models.StatusUploaded, f.repo.LoadByID("old").UploadStatus)
}

func TestTick_MissingBlobIsSkippedNotFatal(t *testing.T) {
	// One resolvable file, one dangling reference.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)
	ctx := context.Background()

	ref, err := f.blobs.SaveFile(ctx, []byte("jpeg"), blob.FileMeta{Name: "unit.jpg", Type: "image/jpeg"}, nil)
	require.NoError(t, err)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})
	f.repo.SaveFormData("r1", models.FormData{
		"HV-UNIT-PHOTO": models.FilesValue([]models.FileReference{
			ref,
			{ID: "missing-1", Name: "ghost.jpg"},
		}),
	})

	f.driver(srv.URL, true).Tick(ctx)

	assert.Equal(t, models.StatusUploaded, f.repo.LoadByID("r1").UploadStatus)

	uploads := srv.captured()
	require.Len(t, uploads, 1)
	assert.Equal(t, []string{"unit.jpg"}, uploads[0].files, "no binary part for the missing blob")

	assert.Contains(t, f.logBuf.String(), "missing-1", "missing blob is logged")
}

func TestTick_OfflineIsACompleteNoop(t *testing.T) {
	// P3: offline tick performs zero writes, notifications, network calls.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)
	changes := collectChanges(f.bus)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})

	f.driver(srv.URL, false).Tick(context.Background())

	assert.Equal(t, int32(0), srv.requests.Load())
	assert.Empty(t, *changes)
	assert.Equal(t, models.StatusLocal, f.repo.LoadByID("r1").UploadStatus)
}

func TestTick_SingleFlight(t *testing.T) {
	// P4: a tick that arrives while a pass is in flight is dropped.
	f := setup(t)

	release := make(chan struct{})
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})
	d := f.driver(srv.URL, true)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		d.Tick(context.Background())
	}()

	// Wait until the first pass is holding the request open, then tick again.
	require.Eventually(t, func() bool { return requests.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	d.Tick(context.Background())

	close(release)
	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never finished")
	}

	assert.Equal(t, int32(1), requests.Load(), "one network call per pending record, not two")
	assert.Equal(t, models.StatusUploaded, f.repo.LoadByID("r1").UploadStatus)
}

func TestTick_DeletesAllReferencedBlobsOnSuccess(t *testing.T) {
	// P5, plus the dangling-reference cleanup: every referenced id is
	// deleted, including ones that never resolved.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)
	ctx := context.Background()

	a, err := f.blobs.SaveFile(ctx, []byte("a"), blob.FileMeta{Name: "a.jpg"}, nil)
	require.NoError(t, err)
	b, err := f.blobs.SaveFile(ctx, []byte("b"), blob.FileMeta{Name: "b.jpg"}, nil)
	require.NoError(t, err)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})
	f.repo.SaveFormData("r1", models.FormData{
		"HV-UNIT-PHOTO": models.FileValue(a),
		"EL-SIGN":       models.FilesValue([]models.FileReference{b, {ID: "dangling"}}),
	})

	f.driver(srv.URL, true).Tick(ctx)

	for _, id := range []string{a.ID, b.ID} {
		stored, err := f.blobs.GetFile(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, stored, "blob %s must be deleted after upload", id)
	}
}

func TestTick_CurrentPointerIsolation(t *testing.T) {
	// P6: a pointer referring to a different record is never rewritten.
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)

	f.repo.Save(models.Inspection{ID: "a", UploadStatus: models.StatusLocal})
	f.repo.SaveCurrent(models.Inspection{ID: "b", Name: "untouched"})

	f.driver(srv.URL, true).Tick(context.Background())

	current := f.repo.LoadCurrent()
	require.NotNil(t, current)
	assert.Equal(t, "b", current.ID)
	assert.Equal(t, "untouched", current.Name)
}

func TestTick_CurrentPointerRefreshedOnMatch(t *testing.T) {
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)

	f.repo.Save(models.Inspection{ID: "a", UploadStatus: models.StatusLocal})
	f.repo.SaveCurrent(models.Inspection{ID: "a", UploadStatus: models.StatusLocal})

	f.driver(srv.URL, true).Tick(context.Background())

	current := f.repo.LoadCurrent()
	require.NotNil(t, current)
	assert.Equal(t, models.StatusUploaded, current.UploadStatus, "open record's pointer follows the transition")
}

func TestTick_OneFailureDoesNotAbortTheBatch(t *testing.T) {
	// First record fails, second succeeds within the same pass.
	f := setup(t)

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f.repo.Save(models.Inspection{ID: "first", UploadStatus: models.StatusLocal})
	f.repo.Save(models.Inspection{ID: "second", UploadStatus: models.StatusLocal})

	f.driver(srv.URL, true).Tick(context.Background())

	assert.Equal(t, int32(2), requests.Load())

	statuses := map[string]models.UploadStatus{}
	for _, ins := range f.repo.LoadAll() {
		statuses[ins.ID] = ins.UploadStatus
	}
	assert.Equal(t, models.StatusFailed, statuses["first"])
	assert.Equal(t, models.StatusUploaded, statuses["second"])
}

func TestRun_TicksImmediatelyAndStopsOnCancel(t *testing.T) {
	f := setup(t)
	srv := newUploadServer(t, http.StatusOK)

	f.repo.Save(models.Inspection{ID: "r1", UploadStatus: models.StatusLocal})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.driver(srv.URL, true).Run(ctx)
	}()

	require.Eventually(t, func() bool { return srv.requests.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
