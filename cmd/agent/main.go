package main

import (
	"context"
	"log"

	"github.com/asemenov-dev/inspectsync/internal/agent"
	"github.com/asemenov-dev/inspectsync/internal/agent/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := agent.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
