package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"
)

// initFTS creates the FTS5 index over entities and the triggers that keep
// it in sync with the content table.
func initFTS(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE entities_fts USING fts5(
			title,
			search_text,
			content='entities',
			content_rowid='rowid'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entities_fts table: %w", err)
	}

	triggers := []string{
		`CREATE TRIGGER entities_fts_ai AFTER INSERT ON entities BEGIN
			INSERT INTO entities_fts(rowid, title, search_text)
			VALUES (new.rowid, new.title, new.search_text);
		END`,
		`CREATE TRIGGER entities_fts_au AFTER UPDATE ON entities BEGIN
			INSERT INTO entities_fts(entities_fts, rowid, title, search_text)
			VALUES ('delete', old.rowid, old.title, old.search_text);
			INSERT INTO entities_fts(rowid, title, search_text)
			VALUES (new.rowid, new.title, new.search_text);
		END`,
		`CREATE TRIGGER entities_fts_ad AFTER DELETE ON entities BEGIN
			INSERT INTO entities_fts(entities_fts, rowid, title, search_text)
			VALUES ('delete', old.rowid, old.title, old.search_text);
		END`,
	}
	for _, trigger := range triggers {
		if _, err := tx.Exec(trigger); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}
	return nil
}

// FullTextHit is one FTS5 match.
type FullTextHit struct {
	ID        string  `json:"id"`
	Rank      float64 `json:"rank"`
	MatchType string  `json:"matchType"` // "phrase" or "prefix"
}

// FullText runs an FTS5 search: exact phrase matches first, then prefix
// matches on every token. Results within a tier are ordered by bm25 rank
// (title weighted above attribute text), then id.
func (r *Reader) FullText(ctx context.Context, query string, limit int) ([]FullTextHit, error) {
	if limit <= 0 {
		limit = 20
	}
	tokens := ftsTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	phrase := `"` + strings.Join(tokens, " ") + `"`
	results, err := r.ftsQuery(ctx, phrase, "phrase", limit)
	if err != nil {
		return nil, err
	}

	if len(results) < limit {
		prefixed := make([]string, len(tokens))
		for i, t := range tokens {
			prefixed[i] = `"` + t + `"*`
		}
		more, err := r.ftsQuery(ctx, strings.Join(prefixed, " "), "prefix", limit)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(results))
		for _, h := range results {
			seen[h.ID] = true
		}
		for _, h := range more {
			if len(results) >= limit {
				break
			}
			if !seen[h.ID] {
				results = append(results, h)
			}
		}
	}
	return results, nil
}

func (r *Reader) ftsQuery(ctx context.Context, match, matchType string, limit int) ([]FullTextHit, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT e.id, bm25(entities_fts, 2.0, 1.0) AS rank
		FROM entities_fts f
		JOIN entities e ON f.rowid = e.rowid
		WHERE entities_fts MATCH ?
		ORDER BY rank, e.id
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	defer rows.Close()

	var hits []FullTextHit
	for rows.Next() {
		h := FullTextHit{MatchType: matchType}
		if err := rows.Scan(&h.ID, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsTokens splits a user query into lower-cased alphanumeric tokens, which
// can be quoted safely in an FTS5 expression.
func ftsTokens(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
