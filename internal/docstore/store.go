// Package docstore persists document records in SQLite. Structured
// sub-fields (sections, concepts, abstract, references, footnotes,
// summaries) are stored as opaque JSON blobs; a decode failure on any one
// field is tolerated on read by substituting an empty value for that field
// only.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	record_key     TEXT PRIMARY KEY,
	paper_id       TEXT NOT NULL,
	version        TEXT NOT NULL,
	loading_status TEXT NOT NULL DEFAULT 'UNSET',
	loading_error  TEXT NOT NULL DEFAULT '',
	markdown       TEXT NOT NULL DEFAULT '',
	metadata       TEXT,
	sections       TEXT,
	concepts       TEXT,
	abstract       TEXT,
	refs           TEXT,
	footnotes      TEXT,
	summaries      TEXT,
	updated_at     TEXT NOT NULL
);
`

// Field names accepted by CreateOrMerge.
const (
	FieldStatus    = "loading_status"
	FieldError     = "loading_error"
	FieldMarkdown  = "markdown"
	FieldMetadata  = "metadata"
	FieldSections  = "sections"
	FieldConcepts  = "concepts"
	FieldAbstract  = "abstract"
	FieldRefs      = "refs"
	FieldFootnotes = "footnotes"
	FieldSummaries = "summaries"
)

var structuredFields = map[string]bool{
	FieldMetadata:  true,
	FieldSections:  true,
	FieldConcepts:  true,
	FieldAbstract:  true,
	FieldRefs:      true,
	FieldFootnotes: true,
	FieldSummaries: true,
}

// Fields maps column names to values for a merge. Structured fields are
// JSON-encoded before writing.
type Fields map[string]any

// Store wraps the SQLite database holding document records.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path with
// production-safe pragmas and ensures the schema exists.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordKey derives the storage key for a paper version. Characters unsafe
// for identifiers ('.' and '/') are normalized to '_'.
func RecordKey(paperID, version string) string {
	sanitized := strings.NewReplacer(".", "_", "/", "_").Replace(paperID)
	return sanitized + "_v" + version
}

// Record is one persisted document version with its decoded fields.
type Record struct {
	Key     string
	PaperID string
	Version string

	Status   lumidoc.LoadingStatus
	Error    string
	Markdown string

	Metadata   *lumidoc.Metadata
	Sections   []lumidoc.Section
	Concepts   []lumidoc.Concept
	Abstract   *lumidoc.Abstract
	References []lumidoc.Reference
	Footnotes  []lumidoc.Footnote
	Summaries  *lumidoc.Summaries

	UpdatedAt time.Time
}

// Doc assembles the record into a LumiDoc for delivery to clients.
func (r *Record) Doc() *lumidoc.LumiDoc {
	return &lumidoc.LumiDoc{
		Markdown:      r.Markdown,
		Sections:      r.Sections,
		Concepts:      r.Concepts,
		Abstract:      r.Abstract,
		References:    r.References,
		Footnotes:     r.Footnotes,
		Summaries:     r.Summaries,
		Metadata:      r.Metadata,
		LoadingStatus: r.Status,
		LoadingError:  r.Error,
	}
}

// Create inserts a fresh record for a paper version if none exists.
func (s *Store) Create(ctx context.Context, paperID, version string, status lumidoc.LoadingStatus, meta *lumidoc.Metadata) (string, error) {
	key := RecordKey(paperID, version)
	fields := Fields{FieldStatus: string(status)}
	if meta != nil {
		fields[FieldMetadata] = meta
	}
	if err := s.createOrMerge(ctx, key, paperID, version, fields); err != nil {
		return "", err
	}
	return key, nil
}

// CreateOrMerge upserts the given fields into the record for key, leaving
// all other columns untouched.
func (s *Store) CreateOrMerge(ctx context.Context, key string, fields Fields) error {
	paperID, version := splitKey(key)
	return s.createOrMerge(ctx, key, paperID, version, fields)
}

func (s *Store) createOrMerge(ctx context.Context, key, paperID, version string, fields Fields) error {
	cols := []string{"record_key", "paper_id", "version", "updated_at"}
	args := []any{key, paperID, version, time.Now().UTC().Format(time.RFC3339)}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates []string
	for _, name := range names {
		val := fields[name]
		if structuredFields[name] {
			encoded, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("encode field %s: %w", name, err)
			}
			val = string(encoded)
		}
		cols = append(cols, name)
		args = append(args, val)
		updates = append(updates, name+" = excluded."+name)
	}
	updates = append(updates, "updated_at = excluded.updated_at")

	query := fmt.Sprintf(
		"INSERT INTO documents (%s) VALUES (%s) ON CONFLICT(record_key) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("merge record %s: %w", key, err)
	}
	return nil
}

// SetStatus updates the loading status and, for failures, the error string.
func (s *Store) SetStatus(ctx context.Context, key string, status lumidoc.LoadingStatus, loadErr string) error {
	fields := Fields{FieldStatus: string(status)}
	if loadErr != "" {
		fields[FieldError] = loadErr
	}
	return s.CreateOrMerge(ctx, key, fields)
}

// GetRecord fetches a record by key, or nil when absent. Undecodable JSON
// in any single structured field is logged and replaced by an empty value;
// the rest of the record is still returned.
func (s *Store) GetRecord(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_key, paper_id, version, loading_status, loading_error, markdown,
		       metadata, sections, concepts, abstract, refs, footnotes, summaries, updated_at
		FROM documents WHERE record_key = ?`, key)

	var rec Record
	var status, updatedAt string
	var metadata, sections, concepts, abstract, refs, footnotes, summaries sql.NullString
	err := row.Scan(&rec.Key, &rec.PaperID, &rec.Version, &status, &rec.Error, &rec.Markdown,
		&metadata, &sections, &concepts, &abstract, &refs, &footnotes, &summaries, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}

	rec.Status = lumidoc.LoadingStatus(status)
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}

	s.decodeField(key, FieldMetadata, metadata, &rec.Metadata)
	s.decodeField(key, FieldSections, sections, &rec.Sections)
	s.decodeField(key, FieldConcepts, concepts, &rec.Concepts)
	s.decodeField(key, FieldAbstract, abstract, &rec.Abstract)
	s.decodeField(key, FieldRefs, refs, &rec.References)
	s.decodeField(key, FieldFootnotes, footnotes, &rec.Footnotes)
	s.decodeField(key, FieldSummaries, summaries, &rec.Summaries)
	return &rec, nil
}

func (s *Store) decodeField(key, name string, raw sql.NullString, out any) {
	if !raw.Valid || raw.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw.String), out); err != nil {
		s.log.Warn("dropping undecodable record field", "key", key, "field", name, "error", err)
		// Replace anything a partial decode may have left behind.
		v := reflect.ValueOf(out).Elem()
		v.Set(reflect.Zero(v.Type()))
	}
}

// splitKey recovers (paperID, version) from a record key, reversing the
// identifier normalization applied by RecordKey.
func splitKey(key string) (string, string) {
	idx := strings.LastIndex(key, "_v")
	if idx < 0 {
		return strings.ReplaceAll(key, "_", "."), ""
	}
	return strings.ReplaceAll(key[:idx], "_", "."), key[idx+2:]
}
