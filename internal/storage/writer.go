package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"kgindex/internal/graph"
)

// Meta keys stored in every snapshot.
const (
	MetaFingerprint  = "fingerprint"
	MetaBuiltAt      = "built_at"
	MetaGraphVersion = "graph_version"
	MetaEntityCount  = "entity_count"
	MetaEdgeCount    = "edge_count"
	MetaSourceFiles  = "source_files"
)

// WriteSnapshot writes snap into a new SQLite file at path in a single
// transaction. Any existing file at path is replaced. On error the partial
// file is removed.
func WriteSnapshot(ctx context.Context, path string, snap *graph.Snapshot, logger *slog.Logger) (err error) {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if rmErr := os.Remove(path + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("clearing %s: %w", path+suffix, rmErr)
		}
	}

	db, err := openDB(path, false, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing snapshot: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(path)
			_ = os.Remove(path + "-journal")
		}
	}()

	start := time.Now()
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := initializeSchema(tx); err != nil {
			return err
		}
		if err := writeMeta(ctx, tx, snap); err != nil {
			return err
		}
		if err := writeEntities(ctx, tx, snap.Entities); err != nil {
			return err
		}
		return writeEdges(ctx, tx, snap.Edges)
	})
	if err != nil {
		return err
	}

	logger.Debug("Snapshot written",
		"path", path,
		"entities", len(snap.Entities),
		"edges", len(snap.Edges),
		"duration", time.Since(start).Milliseconds(),
	)
	return nil
}

func writeMeta(ctx context.Context, tx *sql.Tx, snap *graph.Snapshot) error {
	values := map[string]string{
		MetaFingerprint:  snap.Fingerprint,
		MetaBuiltAt:      snap.BuiltAt.UTC().Format(time.RFC3339Nano),
		MetaGraphVersion: snap.Version,
		MetaEntityCount:  strconv.Itoa(len(snap.Entities)),
		MetaEdgeCount:    strconv.Itoa(len(snap.Edges)),
		MetaSourceFiles:  strconv.Itoa(snap.SourceFiles),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write meta %s: %w", k, err)
		}
	}
	return nil
}

func writeEntities(ctx context.Context, tx *sql.Tx, entities []graph.Entity) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (id, type, provenance, title, path, attrs, search_text, fold_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		attrs, err := graph.MarshalAttrs(e.Attrs)
		if err != nil {
			return fmt.Errorf("encoding attributes of %s: %w", e.ID, err)
		}
		var text []string
		if e.Attrs != nil {
			text = e.Attrs.Text()
		}
		searchText := strings.Join(text, "\n")
		// SQLite lower() folds ASCII only.
		foldText := strings.ToLower(e.Title + "\n" + searchText)
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), e.Provenance, e.Title, e.Path,
			string(attrs), searchText, foldText); err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func writeEdges(ctx context.Context, tx *sql.Tx, edges []graph.Edge) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO edges (source, kind, target) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Source, string(e.Kind), e.Target); err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", e, err)
		}
	}
	return nil
}
