package store

import (
	"fmt"
	"strings"
	"time"
)

// ReplaceTemplates swaps the template cache for the authoritative
// snapshot pushed by the backend.
func (db *DB) ReplaceTemplates(templates []Template) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM templates`); err != nil {
		return fmt.Errorf("clear templates: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, t := range templates {
		if _, err := tx.Exec(`
			INSERT INTO templates (id, title, body, updated_at) VALUES (?, ?, ?, ?)`,
			t.ID, t.Title, t.Body, now); err != nil {
			return fmt.Errorf("insert template %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// ListTemplates returns all cached templates ordered by title.
func (db *DB) ListTemplates() ([]Template, error) {
	rows, err := db.Query(`SELECT id, title, body FROM templates ORDER BY title ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Title, &t.Body); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// SearchTemplates performs a full-text search over the template cache.
// Without the fts5 module it falls back to a case-insensitive
// substring scan.
func (db *DB) SearchTemplates(query string, limit int) ([]TemplateMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	if !db.fts {
		return db.scanTemplates(query, limit)
	}

	rows, err := db.Query(`
		SELECT t.id, t.title, t.body, snippet(templates_fts, 1, '<<', '>>', '...', 16)
		FROM templates_fts f
		JOIN templates t ON t.rowid = f.rowid
		WHERE templates_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []TemplateMatch
	for rows.Next() {
		var m TemplateMatch
		if err := rows.Scan(&m.Template.ID, &m.Template.Title, &m.Template.Body, &m.Snippet); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (db *DB) scanTemplates(query string, limit int) ([]TemplateMatch, error) {
	pattern := "%" + query + "%"
	rows, err := db.Query(`
		SELECT id, title, body FROM templates
		WHERE title LIKE ? OR body LIKE ?
		ORDER BY title ASC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []TemplateMatch
	for rows.Next() {
		var m TemplateMatch
		if err := rows.Scan(&m.Template.ID, &m.Template.Title, &m.Template.Body); err != nil {
			return nil, err
		}
		m.Snippet = scanSnippet(m.Template.Body, query)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// scanSnippet marks the first match in body the way the fts5 snippet()
// call does, with a window of surrounding text.
func scanSnippet(body, query string) string {
	const window = 24
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 {
		if len(body) > 2*window {
			return body[:2*window] + "..."
		}
		return body
	}
	start := idx - window
	prefix := ""
	if start < 0 {
		start = 0
	} else if start > 0 {
		prefix = "..."
	}
	end := idx + len(query) + window
	suffix := ""
	if end > len(body) {
		end = len(body)
	} else if end < len(body) {
		suffix = "..."
	}
	return prefix + body[start:idx] + "<<" + body[idx:idx+len(query)] + ">>" + body[idx+len(query):end] + suffix
}
