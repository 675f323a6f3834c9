// Command seed loads workflow definition JSON files from a directory into
// the database so the server picks them up on boot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"flowd/internal/config"
	"flowd/internal/logging"
	"flowd/internal/repository"
	"flowd/internal/validation"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.UsePostgres() {
		log.Fatalf("Seeding requires a configured database")
	}

	dir := cfg.Definitions.Dir
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if dir == "" {
		log.Fatalf("No definitions directory configured; pass one as the first argument")
	}

	// Connect to DB
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	store := repository.NewPostgresDefinitionStore(pool)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("Failed to read definitions directory: %v", err)
	}

	seeded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}

		def, err := validation.ParseDefinition(raw)
		if err != nil {
			logger.Error("Definition rejected", "file", entry.Name(), "error", err)
			continue
		}

		if err := store.Save(ctx, def); err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				logger.Info("Definition already seeded", "definition", def.ID)
				continue
			}
			log.Fatalf("Failed to save definition %q: %v", def.ID, err)
		}
		logger.Info("Definition seeded", "definition", def.ID, "file", entry.Name())
		seeded++
	}

	logger.Info("Seeding complete", "seeded", seeded)
}
