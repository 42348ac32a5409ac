package records

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asemenov-dev/inspectsync/internal/agent/kvstore"
	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/logging"
)

func setupRepo(t *testing.T) (*Repository, *kvstore.MemoryStorage) {
	t.Helper()
	storage := kvstore.NewMemoryStorage()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewRepository(storage, log), storage
}

func TestLoadAll_DedupKeepsLastWritten(t *testing.T) {
	repo, storage := setupRepo(t)

	// Two storage keys sharing one record id: an older copy under a stale
	// key and the authoritative entry written afterwards.
	storage.Set("inspection_stale_r1", `{"id":"r1","name":"old","formType":"hvac"}`)
	storage.Set("inspection_r1", `{"id":"r1","name":"new","formType":"hvac"}`)

	all := repo.LoadAll()
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Name)
}

func TestLoadAll_SkipsMalformedEntries(t *testing.T) {
	repo, storage := setupRepo(t)

	storage.Set("inspection_bad", `{broken`)
	storage.Set("inspection_r2", `{"id":"r2","name":"ok","formType":"electrical"}`)
	storage.Set("unrelated", `whatever`)

	all := repo.LoadAll()
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].ID)
}

func TestLoadAll_NormalizesMissingStatus(t *testing.T) {
	repo, storage := setupRepo(t)
	storage.Set("inspection_r1", `{"id":"r1","name":"n","formType":"hvac"}`)

	all := repo.LoadAll()
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusLocal, all[0].UploadStatus)
}

func TestLoadByID(t *testing.T) {
	repo, storage := setupRepo(t)

	assert.Nil(t, repo.LoadByID("missing"))

	storage.Set("inspection_r1", `{bad json`)
	assert.Nil(t, repo.LoadByID("r1"), "malformed payload reads as nil")

	repo.Save(models.Inspection{ID: "r1", Name: "n", FormType: models.FormTypeHVAC})
	got := repo.LoadByID("r1")
	require.NotNil(t, got)
	assert.Equal(t, "n", got.Name)
	assert.Equal(t, models.StatusLocal, got.UploadStatus)
}

func TestUpdate_ReturnsInputForChaining(t *testing.T) {
	repo, _ := setupRepo(t)

	ins := models.Inspection{ID: "r1", UploadStatus: models.StatusUploading}
	got := repo.Update(ins)
	assert.Equal(t, ins, got)

	stored := repo.LoadByID("r1")
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusUploading, stored.UploadStatus)
}

func TestCurrentSessionPointer(t *testing.T) {
	repo, storage := setupRepo(t)

	assert.Nil(t, repo.LoadCurrent())

	repo.SaveCurrent(models.Inspection{ID: "r1", Name: "n"})
	current := repo.LoadCurrent()
	require.NotNil(t, current)
	assert.Equal(t, "r1", current.ID)

	storage.Set("currentSession", "{malformed")
	assert.Nil(t, repo.LoadCurrent(), "malformed pointer reads as nil")
}

func TestDelete_Defaults(t *testing.T) {
	repo, storage := setupRepo(t)

	repo.Save(models.Inspection{ID: "r1"})
	repo.SaveFormData("r1", models.FormData{"q": models.TextValue("x")})
	repo.SaveCurrent(models.Inspection{ID: "r1"})

	repo.Delete("r1", nil)

	_, ok := storage.Get("inspection_r1")
	assert.False(t, ok)
	_, ok = storage.Get("formData_r1")
	assert.False(t, ok)
	_, ok = storage.Get("currentSession")
	assert.False(t, ok)
}

func TestDelete_LeavesUnrelatedCurrentPointer(t *testing.T) {
	repo, storage := setupRepo(t)

	repo.Save(models.Inspection{ID: "r1"})
	repo.SaveCurrent(models.Inspection{ID: "r2"})

	repo.Delete("r1", nil)

	raw, ok := storage.Get("currentSession")
	require.True(t, ok, "current pointer for another record must survive")
	var current models.Inspection
	require.NoError(t, json.Unmarshal([]byte(raw), &current))
	assert.Equal(t, "r2", current.ID)
}

func TestDelete_Options(t *testing.T) {
	repo, storage := setupRepo(t)

	repo.Save(models.Inspection{ID: "r1"})
	repo.SaveFormData("r1", models.FormData{"q": models.TextValue("x")})
	repo.SaveCurrent(models.Inspection{ID: "r1"})

	repo.Delete("r1", &DeleteOptions{RemoveFormData: false, RemoveCurrentIfMatch: false})

	_, ok := storage.Get("inspection_r1")
	assert.False(t, ok)
	_, ok = storage.Get("formData_r1")
	assert.True(t, ok, "form data kept when RemoveFormData is false")
	_, ok = storage.Get("currentSession")
	assert.True(t, ok, "current pointer kept when RemoveCurrentIfMatch is false")
}

func TestFormData_RoundTripAndMalformed(t *testing.T) {
	repo, storage := setupRepo(t)

	assert.Nil(t, repo.LoadFormData("missing"))

	data := models.FormData{
		"ext_1": models.TextValue("42"),
		"ext_2": models.BoolValue(true),
		"ext_3": models.FileValue(models.FileReference{ID: "f1", Name: "sig.png"}),
	}
	repo.SaveFormData("r1", data)
	assert.Equal(t, data, repo.LoadFormData("r1"))

	storage.Set("formData_r1", "{nope")
	assert.Nil(t, repo.LoadFormData("r1"))
}
