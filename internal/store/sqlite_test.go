package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/emulab/frametrace/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), log.New(io.Discard))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testFrameSet(id int) model.FrameSet {
	return model.FrameSet{
		FrameSetID:  id,
		Timestamp:   1700000001000 + int64(id),
		PC:          "0x8012",
		Buttons:     []string{"A", "A+Up"},
		FramesInSet: []int{id * 10, id*10 + 1},
		MemoryChanges: []model.MemoryChange{
			{Region: "WRAM", Frame: id * 10, Address: "c502", PrevVal: "00", CurrVal: "01", Freq: 3},
			{Region: "WRAM", Frame: id*10 + 1, Address: "d114", PrevVal: "1f", CurrVal: "20", Freq: 1},
		},
	}
}

func (s *SQLiteStore) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fs := testFrameSet(1)
	ann := &model.Annotation{Context: "battle", Description: "enemy takes damage"}

	for i := 0; i < 3; i++ {
		if err := s.Ingest(ctx, "sess-1", fs, ann); err != nil {
			t.Fatalf("ingest pass %d: %v", i, err)
		}
	}

	if n := s.count(t, `SELECT COUNT(*) FROM sessions`); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM frame_sets`); n != 1 {
		t.Errorf("frame sets = %d, want 1", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM memory_changes`); n != 2 {
		t.Errorf("memory changes = %d, want 2 (no duplicates)", n)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM annotations`); n != 1 {
		t.Errorf("annotations = %d, want 1", n)
	}
}

func TestIngestReplacesChangeSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fs := testFrameSet(1)
	if err := s.Ingest(ctx, "sess-1", fs, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// re-ingest with a smaller change set: the old rows must be gone
	fs.MemoryChanges = fs.MemoryChanges[:1]
	if err := s.Ingest(ctx, "sess-1", fs, nil); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM memory_changes`); n != 1 {
		t.Errorf("memory changes = %d, want 1 after replacement", n)
	}
}

func TestIngestCanonicalizesAddresses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Ingest(ctx, "sess-1", testFrameSet(1), nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var addr string
	if err := s.db.QueryRow(
		`SELECT address FROM memory_changes ORDER BY id LIMIT 1`).Scan(&addr); err != nil {
		t.Fatal(err)
	}
	if addr != "0000C502" {
		t.Errorf("stored address = %q, want 0000C502", addr)
	}
}

func TestLoadSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dataDir := t.TempDir()
	session := "sess-load"
	sessionDir := filepath.Join(dataDir, session)

	writeRecord := func(id int, annotated bool) {
		dir := filepath.Join(sessionDir, strconv.Itoa(id))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		event := `{"frame_set_id":` + strconv.Itoa(id) + `,"timestamp":1700000001000,` +
			`"buttons":["A"],"frames_in_set":[` + strconv.Itoa(id*10) + `],` +
			`"memory_changes":[{"region":"WRAM","frame":` + strconv.Itoa(id*10) +
			`,"address":"c502","prev_val":"00","curr_val":"01","freq":1}]}`
		if err := os.WriteFile(filepath.Join(dir, "event.json"), []byte(event), 0o644); err != nil {
			t.Fatal(err)
		}
		if annotated {
			ann := `{"context":"battle","description":"fighting"}`
			if err := os.WriteFile(filepath.Join(dir, "annotations.json"), []byte(ann), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	writeRecord(1, true)
	writeRecord(2, false)
	writeRecord(3, true)

	meta := `{"total_frame_sets":3,"frame_set_id_min":1,"frame_set_id_max":3}`
	if err := os.WriteFile(filepath.Join(sessionDir, "session_metadata.json"), []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.LoadSession(ctx, dataDir, session, LoadOptions{AnnotatedOnly: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.FrameSets != 2 || res.Annotations != 2 {
		t.Errorf("result = %+v, want 2 frame sets and 2 annotations", res)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM frame_sets WHERE session_uuid = ?`, session); n != 2 {
		t.Errorf("stored frame sets = %d, want 2 with AnnotatedOnly", n)
	}

	// a second pass including unannotated records picks up the rest
	res, err = s.LoadSession(ctx, dataDir, session, LoadOptions{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if res.FrameSets != 3 {
		t.Errorf("reload frame sets = %d, want 3", res.FrameSets)
	}
	if n := s.count(t, `SELECT COUNT(*) FROM frame_sets WHERE session_uuid = ?`, session); n != 3 {
		t.Errorf("stored frame sets = %d, want 3", n)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Metadata.TotalFrameSets != 3 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestLoadSessionCountsUnreadableAnnotations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dataDir := t.TempDir()
	session := "sess-bad"
	dir := filepath.Join(dataDir, session, "1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "annotations.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := s.LoadSession(ctx, dataDir, session, LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Skipped != 1 || res.FrameSets != 0 {
		t.Errorf("result = %+v, want 1 skipped", res)
	}
}

func TestLoadSessionMissingDir(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadSession(context.Background(), t.TempDir(), "nope", LoadOptions{}); err == nil {
		t.Error("expected error for missing session directory")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ann := &model.Annotation{Context: "battle"}
	if err := s.Ingest(ctx, "sess-1", testFrameSet(1), ann); err != nil {
		t.Fatal(err)
	}
	if err := s.Ingest(ctx, "sess-1", testFrameSet(2), nil); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Sessions != 1 || st.FrameSets != 2 || st.MemoryChanges != 4 ||
		st.Annotations != 1 || st.UniqueAddresses != 2 || st.UniqueContexts != 1 {
		t.Errorf("stats = %+v", st)
	}

	ss, err := s.SessionStats(ctx, "sess-1")
	if err != nil {
		t.Fatalf("session stats: %v", err)
	}
	if ss.FrameSets != 2 || ss.Annotated != 1 || ss.NormalizedRows != 0 {
		t.Errorf("session stats = %+v", ss)
	}

	if _, err := s.SessionStats(ctx, "missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestQueryGenericRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Ingest(ctx, "sess-1", testFrameSet(1), nil); err != nil {
		t.Fatal(err)
	}

	rows, err := s.Query(ctx, `SELECT address, freq FROM memory_changes ORDER BY address`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["address"] != "0000C502" {
		t.Errorf("first address = %v", rows[0]["address"])
	}
}
