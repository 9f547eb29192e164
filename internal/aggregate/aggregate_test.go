package aggregate

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/emulab/frametrace/internal/keymap"
	"github.com/emulab/frametrace/internal/model"
)

func testKeys(t *testing.T) *keymap.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	cfg := `{"name":"test","keys":{"A":"KeyZ","B":"KeyX","Up":"ArrowUp"}}`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := keymap.Load(path)
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	return c
}

func newTestAggregator(t *testing.T, opts Options) *Aggregator {
	t.Helper()
	return New(testKeys(t), log.New(io.Discard), opts)
}

const sampleLog = `1700000001000,WRAM,100,c502,00,01,3,0x8012,None,KeyZ,7,0
1700000001016,WRAM,101,c502,01,02,3,0x8012,KeyZ,KeyZ+ArrowUp,7,0
1700000001016,WRAM,101,d114,1f,20,1,0x8044,KeyZ,KeyZ+ArrowUp,7,0
1700000001033,WRAM,102,c502,02,03,3,0x8012,KeyZ,None,8,0
1700000001040,WRAM,103,c502,03,04,1,0x8012,None,None
1700000001050,WRAM,103,d114,xx,yy,NaN,0x80,None,None,8,0
`

func TestParseFrameSets(t *testing.T) {
	a := newTestAggregator(t, Options{})

	sets, read, skipped, err := a.Parse(strings.NewReader(sampleLog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if read != 6 {
		t.Errorf("rows read = %d, want 6", read)
	}
	// one legacy 10-column row, one row with an unparseable freq
	if skipped != 2 {
		t.Errorf("rows skipped = %d, want 2", skipped)
	}
	if len(sets) != 2 {
		t.Fatalf("frame sets = %d, want 2", len(sets))
	}

	fs := sets[0]
	if fs.FrameSetID != 7 {
		t.Errorf("first set id = %d, want 7", fs.FrameSetID)
	}
	if !reflect.DeepEqual(fs.FramesInSet, []int{100, 101}) {
		t.Errorf("frames = %v", fs.FramesInSet)
	}
	// buttons aligned with frames, mapped through the key map
	if !reflect.DeepEqual(fs.Buttons, []string{"A", "A+Up"}) {
		t.Errorf("buttons = %v", fs.Buttons)
	}
	// top-level fields describe the final frame of the set
	if fs.Timestamp != 1700000001016 {
		t.Errorf("timestamp = %d", fs.Timestamp)
	}
	if fs.PC != "0x8044" {
		t.Errorf("pc = %q", fs.PC)
	}
	if len(fs.MemoryChanges) != 3 {
		t.Fatalf("changes = %d, want 3", len(fs.MemoryChanges))
	}
	if fs.MemoryChanges[0].Address != "0000C502" {
		t.Errorf("address not canonical: %q", fs.MemoryChanges[0].Address)
	}

	if got := sets[1].CurrentKeys; got != nil {
		t.Errorf("final set current keys = %v, want nil for None", got)
	}
}

func TestParseLegacy(t *testing.T) {
	a := newTestAggregator(t, Options{Legacy: true})

	legacyLog := "1700000001000,WRAM,100,c502,00,01,3,0x8012,None,KeyZ\n" +
		"1700000001016,WRAM,101,c502,01,02,3,0x8012,KeyZ,None\n"
	sets, _, skipped, err := a.Parse(strings.NewReader(legacyLog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d", skipped)
	}
	// legacy rows carry no frame_set_id: one frame, one set
	if len(sets) != 2 {
		t.Fatalf("frame sets = %d, want 2", len(sets))
	}
	if sets[0].FrameSetID != 100 || sets[1].FrameSetID != 101 {
		t.Errorf("set ids = %d, %d", sets[0].FrameSetID, sets[1].FrameSetID)
	}
}

func TestRunWritesRecordsAndRemovesStale(t *testing.T) {
	a := newTestAggregator(t, Options{})

	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")
	if err := os.WriteFile(logPath, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}

	outputDir := filepath.Join(dir, "data")
	session := "11111111-2222-3333-4444-555555555555"

	// simulate leftovers from an earlier pass
	staleDir := filepath.Join(outputDir, session, "999")
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := a.Run(logPath, outputDir, session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FrameSets != 2 {
		t.Errorf("frame sets = %d, want 2", res.FrameSets)
	}
	if res.StaleRemoved != 1 {
		t.Errorf("stale removed = %d, want 1", res.StaleRemoved)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("stale record directory still present")
	}

	b, err := os.ReadFile(filepath.Join(outputDir, session, "7", "event.json"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var fs model.FrameSet
	if err := json.Unmarshal(b, &fs); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if fs.FrameSetID != 7 || len(fs.MemoryChanges) != 3 {
		t.Errorf("record = id %d, %d changes", fs.FrameSetID, len(fs.MemoryChanges))
	}

	var meta model.SessionMetadata
	b, err = os.ReadFile(filepath.Join(outputDir, session, "session_metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.TotalFrameSets != 2 || meta.FrameSetIDMin != 7 || meta.FrameSetIDMax != 8 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestSnapshotFallback(t *testing.T) {
	dir := t.TempDir()
	snapDir := filepath.Join(dir, "snaps")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// snapshot exists for set 7 only; set 8 falls back to the nearest
	// earlier capture
	if err := os.WriteFile(filepath.Join(snapDir, "7.png"), []byte("png7"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newTestAggregator(t, Options{SnapshotsDir: snapDir, KeepSnapshots: true})

	logPath := filepath.Join(dir, "events.log")
	if err := os.WriteFile(logPath, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}

	outputDir := filepath.Join(dir, "data")
	session := "sess"
	res, err := a.Run(logPath, outputDir, session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.SnapshotFallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", res.SnapshotFallbacks)
	}

	b, err := os.ReadFile(filepath.Join(outputDir, session, "8", "8.png"))
	if err != nil {
		t.Fatalf("fallback snapshot missing: %v", err)
	}
	if string(b) != "png7" {
		t.Errorf("fallback content = %q", b)
	}

	// KeepSnapshots leaves the source in place
	if _, err := os.Stat(filepath.Join(snapDir, "7.png")); err != nil {
		t.Errorf("source snapshot purged despite KeepSnapshots: %v", err)
	}
}
