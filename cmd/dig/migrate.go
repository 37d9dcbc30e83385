package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KohakuBlueleaf/DIG/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a legacy database to sidecar artifact storage",
	Long: "Older databases stored artifacts inline in an image_data BLOB column.\n" +
		"migrate drains those blobs into the images directory, records the\n" +
		"sidecar paths, and returns interrupted processing tasks to pending.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := sqlite.New(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		moved, err := drainInlineArtifacts(ctx, store, cfg.ImagesDir)
		if err != nil {
			return err
		}

		// Interrupted work predating the migration cannot be completed by
		// anyone; give it back to the queue.
		res, err := store.UnderlyingDB().ExecContext(ctx,
			`UPDATE task SET status = 'pending' WHERE status = 'processing'`)
		if err != nil {
			return fmt.Errorf("reset interrupted tasks: %w", err)
		}
		reset, _ := res.RowsAffected()

		fmt.Printf("Migrated %d inline artifact(s), reset %d interrupted task(s)\n", moved, reset)
		return nil
	},
}

// drainInlineArtifacts moves every image_data blob into imagesDir and points
// image_path at the new file. Databases without the legacy column are
// untouched.
func drainInlineArtifacts(ctx context.Context, store *sqlite.Store, imagesDir string) (int, error) {
	db := store.UnderlyingDB()

	legacy, err := store.HasLegacyImageData(ctx)
	if err != nil {
		return 0, err
	}
	if !legacy {
		return 0, nil
	}

	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return 0, fmt.Errorf("create images directory: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT task_id, image_data FROM task WHERE image_data IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("read inline artifacts: %w", err)
	}
	defer rows.Close()

	type inlineArtifact struct {
		taskID string
		data   []byte
	}
	var pending []inlineArtifact
	for rows.Next() {
		var a inlineArtifact
		if err := rows.Scan(&a.taskID, &a.data); err != nil {
			return 0, fmt.Errorf("scan inline artifact: %w", err)
		}
		pending = append(pending, a)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	moved := 0
	for _, a := range pending {
		ref := a.taskID + ".webp"
		if err := writeFileAtomic(filepath.Join(imagesDir, ref), a.data); err != nil {
			return moved, fmt.Errorf("write artifact for %s: %w", a.taskID, err)
		}
		if err := recordSidecar(ctx, db, a.taskID, ref); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func recordSidecar(ctx context.Context, db *sql.DB, taskID, ref string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE task SET image_path = ?, image_data = NULL WHERE task_id = ?`, ref, taskID)
	if err != nil {
		return fmt.Errorf("record sidecar path for %s: %w", taskID, err)
	}
	return nil
}

// writeFileAtomic publishes data at path via a synced temp file and rename,
// so a crash mid-migration never leaves a truncated artifact behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
