package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/asemenov-dev/inspectsync/internal/logging"
	"github.com/asemenov-dev/inspectsync/internal/receiver"
)

func main() {

	addr := flag.String("a", ":8080", "listen address")
	dataDir := flag.String("d", "received", "directory for stored inspections")
	flag.Parse()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	srv := receiver.NewServer(*dataDir, logger)
	if err := srv.Run(*addr); err != nil {
		log.Printf("%v", err)
	}

}
