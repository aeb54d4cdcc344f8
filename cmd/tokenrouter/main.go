// Command tokenrouter runs the authenticating chat-completion proxy.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/tokenrouter/tokenrouter/internal/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, *configPath); errMigrate != nil {
			log.Fatalf("migrate: %v", errMigrate)
		}
		return
	}

	if errRun := app.RunServer(ctx, *configPath); errRun != nil {
		log.Fatalf("server: %v", errRun)
	}
}
