package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/emulab/frametrace/internal/model"
)

// SQLiteStore implements Store using SQLite. Single-writer semantics:
// every Ingest commits its own transaction, so a crash mid-batch leaves
// previously committed frame sets intact.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
	logger  *log.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_uuid TEXT PRIMARY KEY,
		created_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		session_uuid     TEXT NOT NULL REFERENCES sessions(session_uuid),
		created_at       TEXT,
		total_frame_sets INTEGER,
		frame_set_id_min INTEGER,
		frame_set_id_max INTEGER,
		source_log       TEXT,
		key_map          TEXT,
		UNIQUE(session_uuid)
	);
	CREATE INDEX IF NOT EXISTS idx_metadata_session ON metadata(session_uuid);

	CREATE TABLE IF NOT EXISTS frame_sets (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_uuid  TEXT NOT NULL REFERENCES sessions(session_uuid),
		frame_set_id  INTEGER NOT NULL,
		timestamp     INTEGER NOT NULL,
		pc            TEXT,
		buttons       TEXT NOT NULL,
		frames_in_set TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		UNIQUE(session_uuid, frame_set_id)
	);
	CREATE INDEX IF NOT EXISTS idx_frame_sets_session ON frame_sets(session_uuid);

	CREATE TABLE IF NOT EXISTS memory_changes (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		session_uuid    TEXT NOT NULL REFERENCES sessions(session_uuid),
		frame_set_id    INTEGER NOT NULL,
		region          TEXT NOT NULL,
		frame           INTEGER NOT NULL,
		address         TEXT NOT NULL,
		prev_val        TEXT NOT NULL,
		curr_val        TEXT NOT NULL,
		freq            INTEGER NOT NULL,
		freq_normalized REAL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_changes_session ON memory_changes(session_uuid);
	CREATE INDEX IF NOT EXISTS idx_memory_changes_address ON memory_changes(address);

	CREATE TABLE IF NOT EXISTS annotations (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_uuid TEXT NOT NULL REFERENCES sessions(session_uuid),
		frame_set_id INTEGER NOT NULL,
		context      TEXT,
		scene        TEXT,
		tags         TEXT,
		description  TEXT,
		action_type  TEXT,
		intent       TEXT,
		outcome      TEXT,
		complete     INTEGER NOT NULL DEFAULT 0,
		UNIQUE(session_uuid, frame_set_id)
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_session ON annotations(session_uuid);
	CREATE INDEX IF NOT EXISTS idx_annotations_context ON annotations(context);

	CREATE TABLE IF NOT EXISTS normalization_runs (
		id           TEXT PRIMARY KEY,
		session_uuid TEXT NOT NULL REFERENCES sessions(session_uuid),
		strategy     TEXT NOT NULL,
		param        REAL,
		applied_at   TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Ingest(ctx context.Context, sessionUUID string, fs model.FrameSet, ann *model.Annotation) error {
	now := time.Now().UTC().Format(time.RFC3339)

	buttonsJSON, _ := json.Marshal(fs.Buttons)
	framesJSON, _ := json.Marshal(fs.FramesInSet)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_uuid, created_at) VALUES (?, ?)`,
		sessionUUID, now); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO frame_sets
		 (session_uuid, frame_set_id, timestamp, pc, buttons, frames_in_set, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionUUID, fs.FrameSetID, fs.Timestamp, fs.PC,
		string(buttonsJSON), string(framesJSON), now); err != nil {
		return fmt.Errorf("insert frame set: %w", err)
	}

	// Replace the memory-change set wholesale, never a partial update.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_changes WHERE session_uuid = ? AND frame_set_id = ?`,
		sessionUUID, fs.FrameSetID); err != nil {
		return fmt.Errorf("clear memory changes: %w", err)
	}
	for _, c := range fs.MemoryChanges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_changes
			 (session_uuid, frame_set_id, region, frame, address, prev_val, curr_val, freq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionUUID, fs.FrameSetID, c.Region, c.Frame,
			model.CanonicalAddress(c.Address), c.PrevVal, c.CurrVal, c.Freq); err != nil {
			return fmt.Errorf("insert memory change: %w", err)
		}
	}

	if ann != nil {
		tagsJSON, _ := json.Marshal(ann.Tags)
		complete := 0
		if ann.Complete {
			complete = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO annotations
			 (session_uuid, frame_set_id, context, scene, tags, description, action_type, intent, outcome, complete)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionUUID, fs.FrameSetID, ann.Context, ann.Scene, string(tagsJSON),
			ann.Description, ann.ActionType, ann.Intent, ann.Outcome, complete); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadSession(ctx context.Context, dataDir, sessionUUID string, opts LoadOptions) (*LoadResult, error) {
	sessionDir := filepath.Join(dataDir, sessionUUID)
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, fmt.Errorf("session directory not found: %s: %w", sessionDir, err)
	}

	if err := s.loadMetadata(ctx, sessionDir, sessionUUID); err != nil {
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	res := &LoadResult{}
	for _, id := range ids {
		recordDir := filepath.Join(sessionDir, strconv.Itoa(id))
		annPath := filepath.Join(recordDir, "annotations.json")

		ann, annErr := readAnnotation(annPath)
		if annErr != nil {
			s.logger.Warn("skipping unreadable annotation", "frame_set", id, "err", annErr)
			res.Skipped++
			continue
		}
		if opts.AnnotatedOnly && ann == nil {
			continue
		}

		var fs model.FrameSet
		if err := readJSON(filepath.Join(recordDir, "event.json"), &fs); err != nil {
			s.logger.Warn("skipping unreadable frame set", "frame_set", id, "err", err)
			res.Skipped++
			continue
		}
		fs.FrameSetID = id

		if err := s.Ingest(ctx, sessionUUID, fs, ann); err != nil {
			return res, fmt.Errorf("ingest frame set %d: %w", id, err)
		}
		res.FrameSets++
		if ann != nil {
			res.Annotations++
		}
		if res.FrameSets%100 == 0 {
			s.logger.Info("ingest progress", "frame_sets", res.FrameSets)
		}
	}

	s.logger.Info("session loaded",
		"session", sessionUUID, "frame_sets", res.FrameSets,
		"annotations", res.Annotations, "skipped", res.Skipped)
	return res, nil
}

// loadMetadata upserts the session row and its metadata from
// session_metadata.json when present. A missing metadata file is fine;
// legacy session directories never had one.
func (s *SQLiteStore) loadMetadata(ctx context.Context, sessionDir, sessionUUID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_uuid, created_at) VALUES (?, ?)`,
		sessionUUID, now); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	var meta model.SessionMetadata
	if err := readJSON(filepath.Join(sessionDir, "session_metadata.json"), &meta); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.logger.Warn("unreadable session metadata", "session", sessionUUID, "err", err)
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata
		 (session_uuid, created_at, total_frame_sets, frame_set_id_min, frame_set_id_max, source_log, key_map)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionUUID, meta.CreatedAt, meta.TotalFrameSets,
		meta.FrameSetIDMin, meta.FrameSetIDMax, meta.SourceLog, meta.KeyMap)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_uuid, s.created_at,
		       m.created_at, m.total_frame_sets, m.frame_set_id_min, m.frame_set_id_max,
		       m.source_log, m.key_map
		FROM sessions s
		LEFT JOIN metadata m ON s.session_uuid = m.session_uuid
		ORDER BY s.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		var createdAt string
		var metaCreated, sourceLog, keyMap sql.NullString
		var total, idMin, idMax sql.NullInt64
		if err := rows.Scan(&sess.UUID, &createdAt,
			&metaCreated, &total, &idMin, &idMax, &sourceLog, &keyMap); err != nil {
			return nil, err
		}
		sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sess.Metadata = model.SessionMetadata{
			CreatedAt:      metaCreated.String,
			TotalFrameSets: int(total.Int64),
			FrameSetIDMin:  int(idMin.Int64),
			FrameSetIDMax:  int(idMax.Int64),
			SourceLog:      sourceLog.String,
			KeyMap:         keyMap.String,
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Query runs a read query and returns generic column-name-keyed rows.
func (s *SQLiteStore) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// readAnnotation reads an annotation file. (nil, nil) means the file does
// not exist; a present-but-unreadable file returns an error so the caller
// can count the skip.
func readAnnotation(path string) (*model.Annotation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ann model.Annotation
	if err := json.Unmarshal(b, &ann); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &ann, nil
}
