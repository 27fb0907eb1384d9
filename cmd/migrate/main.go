// Command migrate applies or rolls back the document engine's schema
// migrations. It is invoked by an operator, never automatically at process
// start, per §6.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		databaseURL    = flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
		migrationsPath = flag.String("path", "db/migrations", "directory containing migration files")
		down           = flag.Bool("down", false, "roll back instead of applying")
		steps          = flag.Int("steps", 0, "if non-zero, migrate exactly this many steps instead of to latest")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("migrate: -database-url (or DATABASE_URL) is required")
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *migrationsPath), *databaseURL)
	if err != nil {
		log.Fatalf("migrate: open: %v", err)
	}

	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case *down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrate: up to date")
}
