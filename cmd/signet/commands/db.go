package commands

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signetai/signet/config"
	"github.com/signetai/signet/errors"
	"github.com/signetai/signet/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the Signet database",
	Long: sym.DB + ` db — Manage Signet database operations

Migrations, statistics, embedding backfill, and legacy blob migration.

Examples:
  signet db migrate               # Apply pending schema migrations
  signet db stats                 # Show table counts and embedding coverage
  signet db backfill --dry-run    # Report memories missing embeddings
  signet db blob-migrate          # Move blob embeddings into the vec table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Open the database and run every migration not yet recorded in schema_migrations.",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display per-table row counts, embedding coverage, and the database file size.",
	RunE:  runDbStats,
}

var dbBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Embed memories that have no vector",
	Long: `Find active memories without an embedding and embed them in batches.

Requires a configured embedding provider; --dry-run reports the gap
without calling the provider.`,
	RunE: runDbBackfill,
}

var dbBlobMigrateCmd = &cobra.Command{
	Use:   "blob-migrate",
	Short: "Move legacy blob embeddings into the vec table",
	Long: `Copy embeddings stored as raw blobs on the embeddings table into the
sqlite-vec virtual table so they participate in semantic search.`,
	RunE: runDbBlobMigrate,
}

var (
	backfillBatchSize int
	backfillDryRun    bool
	blobKeepFlag      bool
)

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbBackfillCmd)
	DbCmd.AddCommand(dbBlobMigrateCmd)

	dbBackfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 50, "Memories to embed per batch")
	dbBackfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Report the gap without embedding")
	dbBlobMigrateCmd.Flags().BoolVar(&blobKeepFlag, "keep-blobs", false, "Keep the blob column values after copying")
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	var version sql.NullInt64
	if err := database.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	fmt.Printf("%s Database migrated\n", sym.DB)
	fmt.Printf("  Path:    %s\n", config.DatabasePath(cfg))
	fmt.Printf("  Version: %d\n", version.Int64)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	dbPath := config.DatabasePath(cfg)

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n", dbPath)
	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("File Size:     %.1f MB\n", float64(info.Size())/(1024*1024))
	}

	var active, deleted, pinned int
	err = database.QueryRow(`SELECT
			COUNT(*) FILTER (WHERE is_deleted = 0),
			COUNT(*) FILTER (WHERE is_deleted = 1),
			COUNT(*) FILTER (WHERE is_deleted = 0 AND pinned = 1)
		FROM memories`).Scan(&active, &deleted, &pinned)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query memory stats")
	}
	fmt.Println()
	fmt.Printf("Memories:      %d active (%d pinned), %d soft-deleted\n", active, pinned, deleted)

	embedded, err := queryCount(database, "SELECT COUNT(*) FROM embeddings")
	if err != nil {
		return err
	}
	coverage := 100.0
	if active > 0 {
		coverage = float64(embedded) / float64(active) * 100
	}
	fmt.Printf("Embeddings:    %d (%.1f%% coverage)\n", embedded, coverage)

	fmt.Println()
	fmt.Printf("Perception:\n")
	for _, table := range []string{"perception_screen", "perception_terminal"} {
		n, err := queryCount(database, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return err
		}
		fmt.Printf("  %-20s %d\n", table, n)
	}

	fmt.Println()
	fmt.Printf("Knowledge:\n")
	for _, table := range []string{"entities", "relations", "expertise_nodes", "expertise_edges", "conversations"} {
		n, err := queryCount(database, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return err
		}
		fmt.Printf("  %-20s %d\n", table, n)
	}

	return nil
}

func queryCount(database *sql.DB, query string) (int, error) {
	var n int
	if err := database.QueryRow(query).Scan(&n); err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrapf(err, "failed to run %q", query)
	}
	return n, nil
}

func runDbBackfill(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	affected, message, err := store.Backfill(cmd.Context(), backfillBatchSize, backfillDryRun)
	if err != nil {
		return errors.Wrap(err, "backfill failed")
	}

	fmt.Printf("%s %s\n", sym.DB, message)
	if !backfillDryRun {
		fmt.Printf("  Embedded: %d\n", affected)
	}
	return nil
}

func runDbBlobMigrate(cmd *cobra.Command, args []string) error {
	store, database, err := openStore("")
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.MigrateBlobEmbeddings(cmd.Context(), blobKeepFlag); err != nil {
		return errors.Wrap(err, "blob migration failed")
	}

	fmt.Printf("%s Blob embeddings migrated into the vec table\n", sym.DB)
	return nil
}
