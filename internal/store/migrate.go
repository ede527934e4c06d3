package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/opsdesk/chatd/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
	// FTS reports whether the fts5 template index is in use.
	FTS bool
}

// Migrate runs all pending migrations on the database.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	err = m.Up()
	changed := true
	if err == migrate.ErrNoChange {
		changed = false
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	return &MigrateResult{
		Version: version,
		Dirty:   dirty,
		Changed: changed,
		FTS:     db.initSearchIndex(),
	}, nil
}

// ftsSchema is created outside the migrations: fts5 is a sqlite
// compile-time module (build tag sqlite_fts5 for mattn/go-sqlite3) and
// a default build must still migrate and run.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS templates_fts USING fts5(
    title,
    body,
    content='templates',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS templates_ai AFTER INSERT ON templates BEGIN
    INSERT INTO templates_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS templates_ad AFTER DELETE ON templates BEGIN
    INSERT INTO templates_fts(templates_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
END;

CREATE TRIGGER IF NOT EXISTS templates_au AFTER UPDATE ON templates BEGIN
    INSERT INTO templates_fts(templates_fts, rowid, title, body) VALUES ('delete', old.rowid, old.title, old.body);
    INSERT INTO templates_fts(rowid, title, body) VALUES (new.rowid, new.title, new.body);
END;
`

// initSearchIndex builds the template FTS index when the sqlite build
// supports it. Returns whether the index is available.
func (db *DB) initSearchIndex() bool {
	if _, err := db.Exec(ftsSchema); err != nil {
		db.fts = false
		return false
	}
	// Index rows written before the index existed.
	if _, err := db.Exec(`INSERT INTO templates_fts(templates_fts) VALUES('rebuild')`); err != nil {
		db.fts = false
		return false
	}
	db.fts = true
	return true
}
