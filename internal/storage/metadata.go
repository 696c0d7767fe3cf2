package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryEntry is one row of the conversion ledger.
type HistoryEntry struct {
	TaskID              string    `json:"taskId"`
	SourceURL           string    `json:"sourceUrl"`
	Title               string    `json:"title"`
	Format              string    `json:"format"`
	Status              string    `json:"status"`
	Strategy            string    `json:"strategy,omitempty"`
	Error               string    `json:"error,omitempty"`
	TranscriptionStatus string    `json:"transcriptionStatus,omitempty"`
	Language            string    `json:"language,omitempty"`
	ArchiveURL          string    `json:"archiveUrl,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// MetadataDB handles SQLite database operations. It is an audit trail of
// finished conversions and is never read back into the live registries.
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database
func NewMetadataDB(dbPath string) (*MetadataDB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS conversions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		source_url TEXT NOT NULL,
		title TEXT,
		format TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT,
		error TEXT,
		transcription_status TEXT,
		language TEXT,
		archive_url TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversions_created_at ON conversions(created_at);
	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MetadataDB{db: db}, nil
}

// Record inserts or refreshes the row for entry.TaskID.
func (mdb *MetadataDB) Record(entry HistoryEntry) error {
	query := `
	INSERT INTO conversions (task_id, source_url, title, format, status, strategy, error,
		transcription_status, language, archive_url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET
		title = excluded.title,
		status = excluded.status,
		strategy = excluded.strategy,
		error = excluded.error,
		transcription_status = excluded.transcription_status,
		language = excluded.language,
		archive_url = excluded.archive_url,
		updated_at = excluded.updated_at
	`

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.UpdatedAt
	}

	_, err := mdb.db.Exec(query, entry.TaskID, entry.SourceURL, entry.Title, entry.Format,
		entry.Status, entry.Strategy, entry.Error, entry.TranscriptionStatus, entry.Language,
		entry.ArchiveURL, entry.CreatedAt.UTC(), entry.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	return nil
}

const historyColumns = `task_id, source_url, title, format, status, strategy, error,
	transcription_status, language, archive_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var title, strategy, errMsg, tStatus, lang, archive sql.NullString
	err := row.Scan(&e.TaskID, &e.SourceURL, &title, &e.Format, &e.Status, &strategy, &errMsg,
		&tStatus, &lang, &archive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Title = title.String
	e.Strategy = strategy.String
	e.Error = errMsg.String
	e.TranscriptionStatus = tStatus.String
	e.Language = lang.String
	e.ArchiveURL = archive.String
	return e, nil
}

// Get retrieves the ledger row for taskID.
func (mdb *MetadataDB) Get(taskID string) (HistoryEntry, error) {
	row := mdb.db.QueryRow(`SELECT `+historyColumns+` FROM conversions WHERE task_id = ?`, taskID)
	e, err := scanHistory(row)
	if err != nil {
		return e, fmt.Errorf("failed to get conversion: %w", err)
	}
	return e, nil
}

// List returns the most recent entries first.
func (mdb *MetadataDB) List(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := mdb.db.Query(`SELECT `+historyColumns+` FROM conversions
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database connection
func (mdb *MetadataDB) Close() error {
	return mdb.db.Close()
}
