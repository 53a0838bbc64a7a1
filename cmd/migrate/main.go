// Command migrate applies the embedded Postgres schema migrations for the
// durable archival store (C8). Grounded on
// randomtoy-random-chess-backend/cmd/migrate/main.go.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/banchess/server/internal/config"
	"github.com/banchess/server/internal/db"
)

func main() {
	cfg := config.Load()
	url := cfg.DBURL
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, url); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrate: schema is up to date")
}
