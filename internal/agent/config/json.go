package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/asemenov-dev/inspectsync/internal/flagx"
	"github.com/asemenov-dev/inspectsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	UploadInspectionURL       string         `json:"upload_inspection_url"`
	ConnectivityCheckURL      string         `json:"connectivity_check_url"`
	ConnectivityCheckInterval timex.Duration `json:"connectivity_check_interval"`
	SyncInterval              timex.Duration `json:"sync_interval"`
	StoragePath               string         `json:"storage_path"`
	BlobDSN                   string         `json:"blob_dsn"`
	LogFile                   string         `json:"log_file"`
	Debug                     bool           `json:"debug"`
}

// parseJson overlays cfg with values loaded from a JSON file.
//
// The file path comes from the -c or -config flags via
// flagx.JsonConfigFlags(); when no path is given, nothing is loaded.
// Read or unmarshal errors panic, matching the fail-fast startup contract.
// Only non-zero JSON values override the current config.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.UploadInspectionURL != "" {
		cfg.UploadInspectionURL = jc.UploadInspectionURL
	}
	if jc.ConnectivityCheckURL != "" {
		cfg.ConnectivityCheckURL = jc.ConnectivityCheckURL
	}
	if jc.ConnectivityCheckInterval.Duration != 0 {
		cfg.ConnectivityCheckInterval = time.Duration(jc.ConnectivityCheckInterval.Duration)
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.StoragePath != "" {
		cfg.StoragePath = jc.StoragePath
	}
	if jc.BlobDSN != "" {
		cfg.BlobDSN = jc.BlobDSN
	}
	if jc.LogFile != "" {
		cfg.LogFile = jc.LogFile
	}
	if jc.Debug {
		cfg.Debug = true
	}
}
