// Package config holds runtime settings for the inspectsync agent loaded
// in three layers: defaults first, then a JSON file, then command-line
// flags, with later sources taking precedence.
package config

import "time"

// Config holds runtime settings for the sync agent.
//
// Units: the intervals are time.Durations (e.g. 30*time.Second).
type Config struct {
	// UploadInspectionURL is the endpoint receiving the multipart POST.
	UploadInspectionURL string

	// ConnectivityCheckURL is the small resource probed for reachability.
	ConnectivityCheckURL string

	// ConnectivityCheckInterval is how often the monitor probes.
	ConnectivityCheckInterval time.Duration

	// SyncInterval is how often the synchronization driver ticks.
	SyncInterval time.Duration

	// StoragePath is the file backing the record store.
	StoragePath string

	// BlobDSN is the SQLite DSN of the attachment database.
	BlobDSN string

	// LogFile, when set, duplicates the log stream into a rotated file.
	LogFile string

	// Debug enables debug-level logging.
	Debug bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.UploadInspectionURL = "http://127.0.0.1:8080/QHVAC/ReceiveInspection"
	c.ConnectivityCheckURL = "http://127.0.0.1:8080/healthz"
	c.ConnectivityCheckInterval = 5 * time.Second
	c.SyncInterval = 30 * time.Second
	c.StoragePath = "inspections.json"
	c.BlobDSN = "blobs.db"
	c.LogFile = ""
	c.Debug = false
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
