// Package blob implements the binary attachment store: signatures and photos
// referenced by inspection form fields, keyed by generated identifiers with
// a lifecycle independent of the records that reference them. The backing
// database is SQLite; every operation takes a context and surfaces open,
// statement, and transaction errors to the caller without retrying.
package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asemenov-dev/inspectsync/internal/agent/models"
	"github.com/asemenov-dev/inspectsync/internal/common"
	"github.com/asemenov-dev/inspectsync/internal/dbx"
)

// FileMeta carries the caller-supplied metadata for a file being saved.
// A zero LastModified is replaced with the current wall clock.
type FileMeta struct {
	Name         string
	Type         string
	LastModified int64
}

// FileInput pairs one attachment's bytes with its metadata for SaveFiles.
type FileInput struct {
	Data []byte
	Meta FileMeta
}

// Owner tags a stored blob with the record and field that reference it.
// Optional; purely diagnostic.
type Owner struct {
	SessionID string
	FieldID   string
}

// StoredFile is a blob read back from the store: the reference metadata,
// the owner tags, and the bytes.
type StoredFile struct {
	models.FileReference
	SessionID string
	FieldID   string
	Data      []byte
}

// Store describes the attachment store operations.
type Store interface {
	// SaveFile persists one attachment under a freshly generated id and
	// returns its metadata reference. The bytes never travel with the
	// reference afterwards.
	SaveFile(ctx context.Context, data []byte, meta FileMeta, owner *Owner) (models.FileReference, error)

	// SaveFiles persists each input in order and returns the references in
	// the same order.
	SaveFiles(ctx context.Context, inputs []FileInput, owner *Owner) ([]models.FileReference, error)

	// GetFile returns the stored blob, or nil (with no error) for an
	// unknown id.
	GetFile(ctx context.Context, id string) (*StoredFile, error)

	// DeleteFile removes a blob. Deleting an absent id is a no-op.
	DeleteFile(ctx context.Context, id string) error

	// DeleteFiles removes the given blobs in one transaction. Absent ids
	// are skipped, not errors.
	DeleteFiles(ctx context.Context, ids []string) error
}

// SQLiteStore implements Store over a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a SQLiteStore bound to db.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) SaveFile(ctx context.Context, data []byte, meta FileMeta, owner *Owner) (models.FileReference, error) {
	ref := models.FileReference{
		ID:           newID(),
		Name:         meta.Name,
		Type:         meta.Type,
		Size:         int64(len(data)),
		LastModified: meta.LastModified,
	}
	if ref.LastModified == 0 {
		ref.LastModified = time.Now().UnixMilli()
	}

	var sessionID, fieldID string
	if owner != nil {
		sessionID = owner.SessionID
		fieldID = owner.FieldID
	}

	query := `INSERT INTO blobs (id, name, type, size, last_modified, session_id, field_id, data)
			values (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		ref.ID, ref.Name, ref.Type, ref.Size, ref.LastModified, sessionID, fieldID, data)
	if err != nil {
		return models.FileReference{}, fmt.Errorf("failed to insert blob: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) SaveFiles(ctx context.Context, inputs []FileInput, owner *Owner) ([]models.FileReference, error) {
	refs := make([]models.FileReference, 0, len(inputs))
	for _, in := range inputs {
		ref, err := s.SaveFile(ctx, in.Data, in.Meta, owner)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, id string) (*StoredFile, error) {
	query := `select id, name, type, size, last_modified, session_id, field_id, data
			from blobs where id=?`
	row := s.db.QueryRowContext(ctx, query, id)

	f := &StoredFile{}
	err := row.Scan(&f.ID, &f.Name, &f.Type, &f.Size, &f.LastModified,
		&f.SessionID, &f.FieldID, &f.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return f, nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, id string) error {
	return deleteOne(ctx, s.db, id)
}

func (s *SQLiteStore) DeleteFiles(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range ids {
			if err := deleteOne(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteOne(ctx context.Context, db dbx.DBTX, id string) error {
	_, err := db.ExecContext(ctx, `delete from blobs where id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	return nil
}

// newID generates a blob identifier: a random UUID, or a
// timestamp-plus-random-hex composite when the secure generator is
// unavailable.
func newID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	suffix, err := common.MakeRandHexString(8)
	if err != nil {
		suffix = "0"
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
