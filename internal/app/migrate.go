package app

import (
	"fmt"

	"github.com/indiko7777/callsanta/internal/config"
	"github.com/indiko7777/callsanta/internal/database"
)

// RunMigrationOnly applies the schema and exits without starting the server.
func RunMigrationOnly() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	return database.Migrate(db)
}
