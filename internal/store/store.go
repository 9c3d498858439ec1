package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Recording is the durable record of one saved live session.
type Recording struct {
	ID          string
	Title       string
	Description string
	ProjectID   string
	AudioPath   string
	Language    string
	Duration    float64
	CreatedAt   time.Time
}

// Transcript groups the segments of one recording.
type Transcript struct {
	ID          string
	RecordingID string
	Language    string
	HighDetail  bool
}

// Segment is one durable transcript segment. Words holds the JSON-encoded
// per-word timings, empty outside high detail mode.
type Segment struct {
	ID           string
	TranscriptID string
	Index        int
	Start        float64
	End          float64
	Text         string
	Speaker      string
	Confidence   float64
	Words        string
}

// Speaker is one distinct speaker label observed in a transcript.
type Speaker struct {
	ID           string
	TranscriptID string
	Label        string
}

// Store is the SQLite-backed durable store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	project_id  TEXT NOT NULL DEFAULT '',
	audio_path  TEXT NOT NULL DEFAULT '',
	language    TEXT NOT NULL,
	duration    REAL NOT NULL,
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id           TEXT PRIMARY KEY,
	recording_id TEXT NOT NULL REFERENCES recordings(id),
	language     TEXT NOT NULL,
	high_detail  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS segments (
	id            TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	segment_index INTEGER NOT NULL,
	start_time    REAL NOT NULL,
	end_time      REAL NOT NULL,
	text          TEXT NOT NULL,
	speaker       TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	words         TEXT NOT NULL DEFAULT '',
	UNIQUE (transcript_id, segment_index)
);

CREATE TABLE IF NOT EXISTS speakers (
	id            TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	label         TEXT NOT NULL,
	UNIQUE (transcript_id, label)
);

CREATE TABLE IF NOT EXISTS tags (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS recording_tags (
	recording_id TEXT NOT NULL REFERENCES recordings(id),
	tag_id       TEXT NOT NULL REFERENCES tags(id),
	PRIMARY KEY (recording_id, tag_id)
);
`

// Open opens (or creates) the database at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecording persists a recording, its transcript, segments, speakers,
// and tag associations in one transaction. Named tags are resolved to
// existing rows or created.
func (s *Store) SaveRecording(ctx context.Context, rec Recording, tr Transcript,
	segments []Segment, speakers []Speaker, tagNames []string) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recordings (id, title, description, project_id, audio_path, language, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Title, rec.Description, rec.ProjectID, rec.AudioPath, rec.Language, rec.Duration, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcripts (id, recording_id, language, high_detail)
		VALUES (?, ?, ?, ?)
	`, tr.ID, tr.RecordingID, tr.Language, boolToInt(tr.HighDetail)); err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	for _, seg := range segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (id, transcript_id, segment_index, start_time, end_time, text, speaker, confidence, words)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, seg.ID, seg.TranscriptID, seg.Index, seg.Start, seg.End, seg.Text, seg.Speaker, seg.Confidence, seg.Words); err != nil {
			return fmt.Errorf("insert segment %d: %w", seg.Index, err)
		}
	}

	for _, sp := range speakers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO speakers (id, transcript_id, label) VALUES (?, ?, ?)
		`, sp.ID, sp.TranscriptID, sp.Label); err != nil {
			return fmt.Errorf("insert speaker %q: %w", sp.Label, err)
		}
	}

	for _, name := range tagNames {
		tagID, err := resolveTag(ctx, tx, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recording_tags (recording_id, tag_id) VALUES (?, ?)
		`, rec.ID, tagID); err != nil {
			return fmt.Errorf("associate tag %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	return nil
}

// resolveTag returns the id of the named tag, creating it if needed.
func resolveTag(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("look up tag %q: %w", name, err)
	}

	id = uuid.New().String()
	if _, err := tx.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES (?, ?)`, id, name); err != nil {
		return "", fmt.Errorf("create tag %q: %w", name, err)
	}
	return id, nil
}

// GetRecording returns a saved recording by id.
func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, project_id, audio_path, language, duration, created_at
		FROM recordings WHERE id = ?
	`, id)

	var rec Recording
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.ProjectID,
		&rec.AudioPath, &rec.Language, &rec.Duration, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("recording %s not found", id)
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}

	return &rec, nil
}

// GetSegments returns the segments of a transcript ordered by index.
func (s *Store) GetSegments(ctx context.Context, transcriptID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transcript_id, segment_index, start_time, end_time, text, speaker, confidence, words
		FROM segments
		WHERE transcript_id = ?
		ORDER BY segment_index ASC
	`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.TranscriptID, &seg.Index, &seg.Start,
			&seg.End, &seg.Text, &seg.Speaker, &seg.Confidence, &seg.Words); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// GetSpeakers returns the speaker labels of a transcript, ordered by label.
func (s *Store) GetSpeakers(ctx context.Context, transcriptID string) ([]Speaker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transcript_id, label FROM speakers
		WHERE transcript_id = ?
		ORDER BY label ASC
	`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("query speakers: %w", err)
	}
	defer rows.Close()

	var speakers []Speaker
	for rows.Next() {
		var sp Speaker
		if err := rows.Scan(&sp.ID, &sp.TranscriptID, &sp.Label); err != nil {
			return nil, fmt.Errorf("scan speaker: %w", err)
		}
		speakers = append(speakers, sp)
	}
	return speakers, rows.Err()
}

// TagsForRecording returns the tag names associated with a recording.
func (s *Store) TagsForRecording(ctx context.Context, recordingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN recording_tags rt ON rt.tag_id = t.id
		WHERE rt.recording_id = ?
		ORDER BY t.name ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
