package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/local/*.sql migrations/documents/*.sql
var migrations embed.FS

// Schema names a migration set under migrations/.
type Schema string

const (
	// SchemaLocal is the device-local cache: completion flags, pending outbox, key/value.
	SchemaLocal Schema = "local"
	// SchemaDocuments is the shared document store: case files and per-user completion docs.
	SchemaDocuments Schema = "documents"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// OpenLocal opens the local cache database at dbPath.
func OpenLocal(dbPath string) (*sql.DB, error) {
	return Open(dbPath, SchemaLocal)
}

// OpenDocuments opens the document store database at dbPath.
func OpenDocuments(dbPath string) (*sql.DB, error) {
	return Open(dbPath, SchemaDocuments)
}

// Open opens a SQLite database at the given path and runs the schema's migrations.
func Open(dbPath string, schema Schema) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every pooled connection to :memory: would otherwise get its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run %s migrations: %w", schema, err)
	}

	return db, nil
}

func runMigrations(db *sql.DB, schema Schema) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations/"+string(schema)); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
