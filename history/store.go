package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pet-adoption-pipeline/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS renders (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	pet_id        TEXT,
	pet_name      TEXT,
	arc           TEXT,
	output        TEXT NOT NULL,
	duration      REAL NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error         TEXT,
	warnings_json TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS renders_created ON renders(created_at);

CREATE TABLE IF NOT EXISTS publishes (
	id            TEXT PRIMARY KEY,
	job_id        TEXT,
	platform      TEXT NOT NULL,
	success       INTEGER NOT NULL,
	message       TEXT,
	url           TEXT,
	video_path    TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`

// timeLayout is fixed-width so created_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Render statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Render is one generation attempt
type Render struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	PetID     string          `json:"pet_id,omitempty"`
	PetName   string          `json:"pet_name,omitempty"`
	Arc       string          `json:"arc,omitempty"`
	Output    string          `json:"output"`
	Duration  float64         `json:"duration"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Warnings  []types.Warning `json:"warnings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Publish is one upload attempt to one platform
type Publish struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id,omitempty"`
	Platform  string    `json:"platform"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	URL       string    `json:"url,omitempty"`
	VideoPath string    `json:"video_path"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps render and publish history in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRender stores r, assigning an ID and timestamp when missing.
func (s *Store) RecordRender(r Render) (Render, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	warnJSON, err := json.Marshal(r.Warnings)
	if err != nil {
		return Render{}, fmt.Errorf("marshal warnings: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO renders (id, job_id, pet_id, pet_name, arc, output, duration, status, error, warnings_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.PetID, r.PetName, r.Arc, r.Output, r.Duration, r.Status, r.Error,
		string(warnJSON), r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Render{}, fmt.Errorf("insert render: %w", err)
	}
	return r, nil
}

// RecordPublish stores one platform outcome.
func (s *Store) RecordPublish(p Publish) (Publish, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO publishes (id, job_id, platform, success, message, url, video_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.JobID, p.Platform, p.Success, p.Message, p.URL, p.VideoPath, p.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Publish{}, fmt.Errorf("insert publish: %w", err)
	}
	return p, nil
}

// ListRenders returns the newest renders first, at most limit of them.
func (s *Store) ListRenders(limit int) ([]Render, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, job_id, pet_id, pet_name, arc, output, duration, status, error, warnings_json, created_at
		 FROM renders ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query renders: %w", err)
	}
	defer rows.Close()

	var out []Render
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRender looks a render up by its job ID.
func (s *Store) GetRender(jobID string) (Render, error) {
	row := s.db.QueryRow(
		`SELECT id, job_id, pet_id, pet_name, arc, output, duration, status, error, warnings_json, created_at
		 FROM renders WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`, jobID)
	r, err := scanRender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Render{}, fmt.Errorf("render %s: %w", jobID, ErrNotFound)
	}
	return r, err
}

// ListPublishes returns the publish attempts for a job, oldest first.
func (s *Store) ListPublishes(jobID string) ([]Publish, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, platform, success, message, url, video_path, created_at
		 FROM publishes WHERE job_id = ? ORDER BY created_at, platform`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query publishes: %w", err)
	}
	defer rows.Close()

	var out []Publish
	for rows.Next() {
		var (
			p             Publish
			jid, msg, url sql.NullString
			created       string
		)
		if err := rows.Scan(&p.ID, &jid, &p.Platform, &p.Success, &msg, &url, &p.VideoPath, &created); err != nil {
			return nil, fmt.Errorf("scan publish: %w", err)
		}
		p.JobID, p.Message, p.URL = jid.String, msg.String, url.String
		p.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRender(sc scanner) (Render, error) {
	var (
		r                                   Render
		petID, petName, arc, errMsg, warnJS sql.NullString
		created                             string
	)
	err := sc.Scan(&r.ID, &r.JobID, &petID, &petName, &arc, &r.Output, &r.Duration, &r.Status, &errMsg, &warnJS, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Render{}, err
		}
		return Render{}, fmt.Errorf("scan render: %w", err)
	}
	r.PetID, r.PetName, r.Arc, r.Error = petID.String, petName.String, arc.String, errMsg.String
	if warnJS.Valid && warnJS.String != "" && warnJS.String != "null" {
		if err := json.Unmarshal([]byte(warnJS.String), &r.Warnings); err != nil {
			return Render{}, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	r.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return Render{}, fmt.Errorf("parse created_at: %w", err)
	}
	return r, nil
}
