package config

import (
	"flag"
	"os"
	"time"

	"github.com/asemenov-dev/inspectsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-u string   upload endpoint URL (default from Config)
//	-p string   connectivity probe URL (default from Config)
//	-i int      connectivity check interval in seconds (default from Config)
//	-s int      sync interval in seconds (default from Config)
//	-f string   record storage file path (default from Config)
//	-b string   blob database DSN (default from Config)
//	-l string   log file path (empty disables the file)
//	-v          enable debug logging
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-u", "-p", "-i", "-s", "-f", "-b", "-l", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.UploadInspectionURL, "u", cfg.UploadInspectionURL, "upload endpoint URL")
	fs.StringVar(&cfg.ConnectivityCheckURL, "p", cfg.ConnectivityCheckURL, "connectivity probe URL")
	checkInterval := fs.Int("i", int(cfg.ConnectivityCheckInterval.Seconds()), "connectivity check interval (in seconds)")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.StringVar(&cfg.StoragePath, "f", cfg.StoragePath, "record storage file path")
	fs.StringVar(&cfg.BlobDSN, "b", cfg.BlobDSN, "blob database DSN")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file path")
	fs.BoolVar(&cfg.Debug, "v", cfg.Debug, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ConnectivityCheckInterval = time.Duration(*checkInterval) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
