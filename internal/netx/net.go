// Package netx contains the HTTP plumbing shared by the connectivity
// monitor and the synchronization driver: a lightweight reachability probe
// and the multipart inspection upload.
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/asemenov-dev/inspectsync/internal/common"
)

// PayloadPartName is the multipart field carrying the JSON envelope.
const PayloadPartName = "payload"

// FilesPartName is the multipart field carrying each attachment.
const FilesPartName = "files"

// UploadPayload is the JSON envelope accompanying an inspection upload.
// UserID is always present, empty string when the record has no owner.
type UploadPayload struct {
	SessionID   string            `json:"sessionId"`
	Name        string            `json:"name"`
	UserID      string            `json:"userId"`
	QueryParams map[string]string `json:"queryParams"`
}

// UploadFile is one binary attachment resolved from the blob store.
type UploadFile struct {
	Name string
	Type string
	Data []byte
}

// Probe issues a HEAD request with caching disabled and reports whether the
// target answered with a 2xx status. Transport errors are returned as-is so
// the caller can distinguish "reachable but unhappy" from "unreachable".
func Probe(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// PostInspection sends one inspection as a multipart POST: a "payload" part
// with the JSON envelope plus zero or more "files" parts with raw attachment
// bytes. Any non-2xx response is reported as common.ErrUploadRejected with
// the status code attached.
func PostInspection(ctx context.Context, client *http.Client, url string, payload UploadPayload, files []UploadFile) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	pw, err := w.CreateFormField(PayloadPartName)
	if err != nil {
		return fmt.Errorf("creating payload part: %w", err)
	}
	if err := json.NewEncoder(pw).Encode(payload); err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
			FilesPartName, escapeQuotes(f.Name)))
		ct := f.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		fw, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("creating file part %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("writing file part %s: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", common.ErrUploadRejected, resp.StatusCode)
	}
	return nil
}

func escapeQuotes(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}
