package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"kgindex/internal/graph"
)

// Meta is the metadata recorded in a snapshot.
type Meta struct {
	Fingerprint  string    `json:"fingerprint"`
	BuiltAt      time.Time `json:"builtAt"`
	GraphVersion string    `json:"graphVersion"`
	EntityCount  int       `json:"entityCount"`
	EdgeCount    int       `json:"edgeCount"`
	SourceFiles  int       `json:"sourceFiles"`
}

// Stats are whole-graph counts.
type Stats struct {
	Entities     int                        `json:"entities"`
	Edges        int                        `json:"edges"`
	ByType       map[graph.EntityType]int   `json:"byType"`
	ByKind       map[graph.RelationKind]int `json:"byKind"`
	ByProvenance map[string]int             `json:"byProvenance"`
}

// Reader serves queries against one committed, immutable snapshot file.
type Reader struct {
	db *DB
}

// ErrNoSnapshot is returned by OpenSnapshot when path does not exist.
var ErrNoSnapshot = errors.New("snapshot does not exist")

// OpenSnapshot opens a committed snapshot read-only.
func OpenSnapshot(path string, logger *slog.Logger) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoSnapshot)
		}
		return nil, err
	}
	db, err := openDB(path, true, logger)
	if err != nil {
		return nil, err
	}
	version, err := db.getSchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if version != currentSchemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot schema version %d, expected %d", version, currentSchemaVersion)
	}
	return &Reader{db: db}, nil
}

// Close releases the snapshot file.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the snapshot file path.
func (r *Reader) Path() string {
	return r.db.Path()
}

const entityColumns = "id, type, provenance, title, path, attrs"

func scanEntity(scan func(dest ...any) error) (graph.Entity, error) {
	var id, typ, prov, title, path, attrs string
	if err := scan(&id, &typ, &prov, &title, &path, &attrs); err != nil {
		return graph.Entity{}, err
	}
	t := graph.EntityType(typ)
	decoded, err := graph.DecodeAttrs(t, []byte(attrs))
	if err != nil {
		return graph.Entity{}, fmt.Errorf("entity %s: %w", id, err)
	}
	return graph.NewEntity(id, t, prov, path, title, decoded)
}

func (r *Reader) queryEntities(ctx context.Context, query string, args ...any) ([]graph.Entity, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []graph.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Entity returns the entity with id; found is false when it does not exist.
func (r *Reader) Entity(ctx context.Context, id string) (graph.Entity, bool, error) {
	row := r.db.conn.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Entity{}, false, nil
	}
	if err != nil {
		return graph.Entity{}, false, err
	}
	return e, true, nil
}

// Neighbors returns the entities connected to id, sorted by id. An empty
// kind matches every relation kind.
func (r *Reader) Neighbors(ctx context.Context, id string, kind graph.RelationKind, dir graph.Direction) ([]graph.Entity, error) {
	var parts []string
	var args []any
	kindFilter := ""
	if kind != "" {
		kindFilter = " AND kind = ?"
	}
	if dir == graph.Outgoing || dir == graph.Both {
		parts = append(parts, "SELECT target FROM edges WHERE source = ?"+kindFilter)
		args = append(args, id)
		if kind != "" {
			args = append(args, string(kind))
		}
	}
	if dir == graph.Incoming || dir == graph.Both {
		parts = append(parts, "SELECT source FROM edges WHERE target = ?"+kindFilter)
		args = append(args, id)
		if kind != "" {
			args = append(args, string(kind))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("unknown direction %q", dir)
	}

	query := "SELECT " + entityColumns + " FROM entities WHERE id IN (" +
		strings.Join(parts, " UNION ") + ") ORDER BY id"
	return r.queryEntities(ctx, query, args...)
}

// SearchAttrs returns entities whose title or text attributes contain
// substring (case-insensitive), sorted by id.
func (r *Reader) SearchAttrs(ctx context.Context, substring string) ([]graph.Entity, error) {
	substring = strings.ToLower(strings.TrimSpace(substring))
	if substring == "" {
		return nil, nil
	}
	return r.queryEntities(ctx, "SELECT "+entityColumns+` FROM entities
		WHERE instr(fold_text, ?1) > 0
		ORDER BY id`, substring)
}

// EntitiesByType returns entities of type t sorted by id.
func (r *Reader) EntitiesByType(ctx context.Context, t graph.EntityType) ([]graph.Entity, error) {
	return r.queryEntities(ctx, "SELECT "+entityColumns+" FROM entities WHERE type = ? ORDER BY id", string(t))
}

// Meta returns the snapshot metadata.
func (r *Reader) Meta(ctx context.Context) (*Meta, error) {
	rows, err := r.db.conn.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("reading meta: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m := &Meta{
		Fingerprint:  raw[MetaFingerprint],
		GraphVersion: raw[MetaGraphVersion],
	}
	if v := raw[MetaBuiltAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", MetaBuiltAt, err)
		}
		m.BuiltAt = t
	}
	for key, dst := range map[string]*int{
		MetaEntityCount: &m.EntityCount,
		MetaEdgeCount:   &m.EdgeCount,
		MetaSourceFiles: &m.SourceFiles,
	} {
		if v := raw[key]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}
	return m, nil
}

// Stats returns counts by entity type, relation kind and provenance.
func (r *Reader) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{
		ByType:       make(map[graph.EntityType]int),
		ByKind:       make(map[graph.RelationKind]int),
		ByProvenance: make(map[string]int),
	}
	groups := []struct {
		query string
		add   func(key string, n int)
	}{
		{"SELECT type, COUNT(*) FROM entities GROUP BY type", func(k string, n int) {
			s.ByType[graph.EntityType(k)] = n
			s.Entities += n
		}},
		{"SELECT provenance, COUNT(*) FROM entities GROUP BY provenance", func(k string, n int) { s.ByProvenance[k] = n }},
		{"SELECT kind, COUNT(*) FROM edges GROUP BY kind", func(k string, n int) {
			s.ByKind[graph.RelationKind(k)] = n
			s.Edges += n
		}},
	}
	for _, g := range groups {
		rows, err := r.db.conn.QueryContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.add(k, n)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadSnapshot reads the complete snapshot back into memory.
func (r *Reader) LoadSnapshot(ctx context.Context) (*graph.Snapshot, error) {
	meta, err := r.Meta(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := r.queryEntities(ctx, "SELECT "+entityColumns+" FROM entities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, "SELECT source, kind, target FROM edges")
	if err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}
	defer rows.Close()
	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var kind string
		if err := rows.Scan(&e.Source, &kind, &e.Target); err != nil {
			return nil, err
		}
		e.Kind = graph.RelationKind(kind)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	graph.SortEdges(edges)

	return &graph.Snapshot{
		Fingerprint: meta.Fingerprint,
		BuiltAt:     meta.BuiltAt,
		Version:     meta.GraphVersion,
		SourceFiles: meta.SourceFiles,
		Entities:    entities,
		Edges:       edges,
	}, nil
}
