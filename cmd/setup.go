package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/lumarr/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template when it is missing, then initializes the database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" {
		path = "config.toml"
	}

	if _, err := os.Stat(path); err != nil {
		r.logger.Info("config file not found, creating from template", "path", path)
		if err := shared.CreateConfigFile(path); err != nil {
			return err
		}
		r.writePlain("✓ Created %s\n", path)
	}

	if err := r.load(cmd); err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	states, err := shared.MigrationStatus(db)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, s := range states {
		r.logger.Debug("migration", "version", s.Version, "name", s.Name, "applied", s.Applied)
	}

	r.writePlain("✓ Database ready: %s (%d migrations)\n", r.config.Database.Path, len(states))

	if err := r.config.Validate(); err != nil {
		r.writePlain("\nNext steps: edit %s to enable a source and a target.\n  %v\n", path, err)
	}
	return nil
}
