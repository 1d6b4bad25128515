package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/xiaot623/fedchat/internal/protocol"
)

// SQLiteStore keeps documents, pipeline runs and the chat log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and creates the schema when missing.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// Every connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_number TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			publication_date TEXT,
			document_type TEXT,
			abstract TEXT,
			html_url TEXT,
			pdf_url TEXT,
			type TEXT,
			subtype TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_date ON documents(publication_date)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_date TEXT NOT NULL,
			start_date TEXT,
			end_date TEXT,
			documents_added INTEGER NOT NULL DEFAULT 0,
			documents_updated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			tools_used TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertDocuments inserts new documents and updates known ones by document
// number. A pipeline run is recorded when anything changed.
func (s *SQLiteStore) UpsertDocuments(ctx context.Context, docs []Document) (UpsertResult, error) {
	var res UpsertResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, errors.Wrap(err, "begin upsert")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	var minDate, maxDate string
	for _, doc := range docs {
		if doc.DocumentNumber == "" {
			continue
		}
		doc.DocumentType = StandardizeDocumentType(doc.DocumentType, doc.Title)

		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE document_number = ?`, doc.DocumentNumber).Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (document_number, title, publication_date, document_type, abstract, html_url, pdf_url, type, subtype, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, doc.DocumentNumber, doc.Title, nullString(doc.PublicationDate), doc.DocumentType, nullString(doc.Abstract),
				nullString(doc.HTMLURL), nullString(doc.PDFURL), nullString(doc.Type), nullString(doc.Subtype), now)
			if err != nil {
				return UpsertResult{}, errors.Wrapf(err, "insert document %s", doc.DocumentNumber)
			}
			res.Added++
		case err != nil:
			return UpsertResult{}, errors.Wrapf(err, "look up document %s", doc.DocumentNumber)
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE documents
				SET title = ?, publication_date = ?, document_type = ?, abstract = ?, html_url = ?, pdf_url = ?, type = ?, subtype = ?
				WHERE id = ?
			`, doc.Title, nullString(doc.PublicationDate), doc.DocumentType, nullString(doc.Abstract),
				nullString(doc.HTMLURL), nullString(doc.PDFURL), nullString(doc.Type), nullString(doc.Subtype), id)
			if err != nil {
				return UpsertResult{}, errors.Wrapf(err, "update document %s", doc.DocumentNumber)
			}
			res.Updated++
		}

		if d := doc.PublicationDate; d != "" {
			if minDate == "" || d < minDate {
				minDate = d
			}
			if d > maxDate {
				maxDate = d
			}
		}
	}

	if (res.Added > 0 || res.Updated > 0) && minDate != "" {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_runs (run_date, start_date, end_date, documents_added, documents_updated)
			VALUES (?, ?, ?, ?, ?)
		`, now, minDate, maxDate, res.Added, res.Updated)
		if err != nil {
			return UpsertResult{}, errors.Wrap(err, "record pipeline run")
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, errors.Wrap(err, "commit upsert")
	}
	return res, nil
}

// QueryDocuments returns matching documents, newest first. Keywords match
// any word in the title or abstract.
func (s *SQLiteStore) QueryDocuments(ctx context.Context, q Query) ([]Document, error) {
	query := `SELECT document_number, title, publication_date, document_type, abstract, html_url, pdf_url, type, subtype
		FROM documents WHERE 1=1`
	var args []interface{}

	if words := strings.Fields(q.Keywords); len(words) > 0 {
		clauses := make([]string, 0, len(words))
		for _, w := range words {
			clauses = append(clauses, "(title LIKE ? OR abstract LIKE ?)")
			pattern := "%" + w + "%"
			args = append(args, pattern, pattern)
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	if q.DocumentType != "" {
		query += " AND document_type = ?"
		args = append(args, StandardizeDocumentType(q.DocumentType, ""))
	}
	if q.StartDate != "" {
		query += " AND publication_date >= ?"
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += " AND publication_date <= ?"
		args = append(args, q.EndDate)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query += " ORDER BY publication_date DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var date, docType, abstract, htmlURL, pdfURL, typ, subtype sql.NullString
		if err := rows.Scan(&doc.DocumentNumber, &doc.Title, &date, &docType, &abstract, &htmlURL, &pdfURL, &typ, &subtype); err != nil {
			return nil, errors.Wrap(err, "scan document")
		}
		doc.PublicationDate = date.String
		doc.DocumentType = StandardizeDocumentType(docType.String, doc.Title)
		doc.Abstract = abstract.String
		doc.HTMLURL = htmlURL.String
		doc.PDFURL = pdfURL.String
		doc.Type = typ.String
		doc.Subtype = subtype.String
		docs = append(docs, doc)
	}
	return docs, errors.Wrap(rows.Err(), "iterate documents")
}

// Stats summarizes the document table for the stats endpoint.
func (s *SQLiteStore) Stats(ctx context.Context) (*protocol.Stats, error) {
	stats := &protocol.Stats{DocumentTypes: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT document_type, title FROM documents`)
	if err != nil {
		return nil, errors.Wrap(err, "query document types")
	}
	for rows.Next() {
		var docType sql.NullString
		var title string
		if err := rows.Scan(&docType, &title); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan document type")
		}
		stats.DocumentTypes[StandardizeDocumentType(docType.String, title)]++
		stats.TotalDocuments++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate document types")
	}

	var minDate, maxDate sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(publication_date), MAX(publication_date) FROM documents`).Scan(&minDate, &maxDate); err != nil {
		return nil, errors.Wrap(err, "query date range")
	}
	stats.DateRange.Min = stringPtr(minDate)
	stats.DateRange.Max = stringPtr(maxDate)

	var lastUpdate sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(run_date) FROM pipeline_runs`).Scan(&lastUpdate); err != nil {
		return nil, errors.Wrap(err, "query last update")
	}
	stats.LastUpdate = stringPtr(lastUpdate)
	return stats, nil
}

// LogChat appends one interaction to the chat history.
func (s *SQLiteStore) LogChat(ctx context.Context, entry ChatEntry) error {
	var tools sql.NullString
	if len(entry.ToolsUsed) > 0 {
		data, err := json.Marshal(entry.ToolsUsed)
		if err != nil {
			return errors.Wrap(err, "marshal tools")
		}
		tools = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (session_id, query, response, tools_used, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.SessionID, entry.Query, entry.Response, tools, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "insert chat history")
}

// ChatHistory returns the logged interactions of a session, oldest first.
func (s *SQLiteStore) ChatHistory(ctx context.Context, sessionID string) ([]ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, query, response, tools_used FROM chat_history
		WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query chat history")
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var entry ChatEntry
		var tools sql.NullString
		if err := rows.Scan(&entry.SessionID, &entry.Query, &entry.Response, &tools); err != nil {
			return nil, errors.Wrap(err, "scan chat history")
		}
		if tools.Valid {
			if err := json.Unmarshal([]byte(tools.String), &entry.ToolsUsed); err != nil {
				return nil, errors.Wrap(err, "unmarshal tools")
			}
		}
		entries = append(entries, entry)
	}
	return entries, errors.Wrap(rows.Err(), "iterate chat history")
}

// Checkpoint returns the value saved under name. ok is false when nothing
// was saved yet.
func (s *SQLiteStore) Checkpoint(ctx context.Context, name string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM checkpoints WHERE name = ?`, name).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrapf(err, "load checkpoint %s", name)
	}
	return value, true, nil
}

// SaveCheckpoint stores value under name, replacing the previous one.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().UTC().Format(time.RFC3339))
	return errors.Wrapf(err, "save checkpoint %s", name)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}
