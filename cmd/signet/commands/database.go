package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/db"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/llm"
	"github.com/signetai/signet/logger"
	"github.com/signetai/signet/memory"
)

// openDatabase opens and migrates the memory database. If dbPath is empty,
// the path is resolved from the manifest under the state root.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = config.DatabasePath(cfg)
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// openStore opens the database and wires a memory store with the manifest's
// embedding provider. The caller closes the returned database.
func openStore(dbPath string) (*memory.Store, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := llm.NewEmbedder(cfg.Embedding)
	if err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to configure embedder")
	}

	store, err := memory.NewStore(database, embedder, cfg.Search, logger.Logger)
	if err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to create memory store")
	}
	return store, database, nil
}

// printJSON renders machine output for --json flags.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}
