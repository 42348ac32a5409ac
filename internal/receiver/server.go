// Package receiver implements a small development endpoint for the sync
// agent: a health probe for the connectivity monitor and an upload handler
// that accepts the agent's multipart POST and writes the attachments to
// disk. It exists so the agent can be exercised end to end without the real
// backend.
package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/asemenov-dev/inspectsync/internal/filex"
	"github.com/asemenov-dev/inspectsync/internal/logging"
	"github.com/asemenov-dev/inspectsync/internal/netx"
)

// Server accepts inspection uploads and stores them under DataDir, one
// subdirectory per session.
type Server struct {
	dataDir string
	log     logging.Logger
	engine  *gin.Engine
}

func NewServer(dataDir string, log logging.Logger) *Server {
	s := &Server{dataDir: dataDir, log: log}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	r.HEAD("/healthz", s.healthz)
	r.POST("/QHVAC/ReceiveInspection", s.receiveInspection)

	s.engine = r
	return s
}

// Handler exposes the underlying mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) healthz(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// receiveInspection handles the agent's multipart POST: one "payload" part
// with the JSON envelope, zero or more "files" parts with attachment bytes.
// A missing or malformed envelope is a 400; everything else is stored and
// acknowledged with a small JSON summary.
func (s *Server) receiveInspection(c *gin.Context) {
	ctx := c.Request.Context()

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form"})
		return
	}

	raw := form.Value[netx.PayloadPartName]
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payload part"})
		return
	}

	var payload netx.UploadPayload
	if err := json.Unmarshal([]byte(raw[0]), &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload part"})
		return
	}
	if payload.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload has no sessionId"})
		return
	}

	dir, err := filex.EnsureSubDir(s.dataDir, filex.SanitizeName(payload.SessionID))
	if err != nil {
		s.log.Error(ctx, "creating session directory", "session_id", payload.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	saved := 0
	for _, fh := range form.File[netx.FilesPartName] {
		if err := s.saveAttachment(dir, fh); err != nil {
			s.log.Error(ctx, "saving attachment", "session_id", payload.SessionID,
				"file", fh.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
			return
		}
		saved++
	}

	if err := s.saveEnvelope(dir, raw[0]); err != nil {
		s.log.Error(ctx, "saving envelope", "session_id", payload.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}

	s.log.Info(ctx, "inspection received",
		"session_id", payload.SessionID, "name", payload.Name, "files", saved)

	c.JSON(http.StatusOK, gin.H{"sessionId": payload.SessionID, "files": saved})
}

func (s *Server) saveAttachment(dir string, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("opening part: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, filex.SanitizeName(fh.Filename)))
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func (s *Server) saveEnvelope(dir, payload string) error {
	return os.WriteFile(filepath.Join(dir, "payload.json"), []byte(payload), 0o600)
}
