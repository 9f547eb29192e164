// Package aggregate turns raw emulator event logs into per-frame-set
// records on disk. A frame set is a bounded run of emulated frames between
// controller samples; one record is written per distinct frame_set_id.
package aggregate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/emulab/frametrace/internal/keymap"
	"github.com/emulab/frametrace/internal/model"
)

// Column counts for the two supported log layouts. The frame-set-aware
// layout appends frame_set_id and chunk_id to the legacy row.
const (
	legacyColumns   = 10
	frameSetColumns = 12
)

// Options configure one aggregation pass.
type Options struct {
	// Legacy selects the 10-column layout. Legacy logs carry no
	// frame_set_id, so each frame becomes its own one-frame set keyed by
	// frame number.
	Legacy bool

	// SnapshotsDir holds raw <frame>.png captures to associate with
	// records. Empty disables snapshot handling.
	SnapshotsDir string

	// KeepSnapshots leaves the snapshot source directory in place after
	// association instead of purging it.
	KeepSnapshots bool
}

// Aggregator consumes a raw event log and a key mapping and materializes
// frame-set records under a session directory.
type Aggregator struct {
	keys   *keymap.Config
	opts   Options
	logger *log.Logger
}

// New creates an Aggregator. The key mapping is required; logger may not
// be nil.
func New(keys *keymap.Config, logger *log.Logger, opts Options) *Aggregator {
	return &Aggregator{keys: keys, opts: opts, logger: logger}
}

// Result reports what one aggregation pass did.
type Result struct {
	SessionUUID       string
	FrameSets         int
	RowsRead          int
	RowsSkipped       int
	StaleRemoved      int
	SnapshotFallbacks int
}

// rawRow is one parsed log row.
type rawRow struct {
	timestamp  int64
	region     string
	frame      int
	address    string
	prevVal    string
	currVal    string
	freq       int
	pc         string
	keyHistory string
	currentKey string
	frameSetID int
}

// Parse reads the delimited event log and groups rows into frame sets
// ordered by frame_set_id. Rows with the wrong column count or unparseable
// numeric fields are skipped and counted; capture logs are noisy by nature
// and one bad row must not abort a multi-hour ingestion.
func (a *Aggregator) Parse(r io.Reader) ([]model.FrameSet, int, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	want := frameSetColumns
	if a.opts.Legacy {
		want = legacyColumns
	}

	rowsRead := 0
	skipped := 0
	groups := make(map[int][]rawRow)

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv-level errors (bare quotes etc) count as malformed rows
			skipped++
			continue
		}
		rowsRead++
		if len(rec) != want {
			skipped++
			continue
		}
		row, err := parseRow(rec, a.opts.Legacy)
		if err != nil {
			skipped++
			continue
		}
		groups[row.frameSetID] = append(groups[row.frameSetID], row)
	}

	if skipped > 0 {
		a.logger.Warn("skipped malformed rows", "skipped", skipped, "read", rowsRead)
	}

	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	sets := make([]model.FrameSet, 0, len(ids))
	for _, id := range ids {
		sets = append(sets, a.buildFrameSet(id, groups[id]))
	}
	return sets, rowsRead, skipped, nil
}

func parseRow(rec []string, legacy bool) (rawRow, error) {
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return rawRow{}, fmt.Errorf("timestamp: %w", err)
	}
	frame, err := strconv.Atoi(rec[2])
	if err != nil {
		return rawRow{}, fmt.Errorf("frame: %w", err)
	}
	freq, err := strconv.Atoi(rec[6])
	if err != nil {
		return rawRow{}, fmt.Errorf("freq: %w", err)
	}

	row := rawRow{
		timestamp:  ts,
		region:     rec[1],
		frame:      frame,
		address:    model.CanonicalAddress(rec[3]),
		prevVal:    rec[4],
		currVal:    rec[5],
		freq:       freq,
		pc:         rec[7],
		keyHistory: rec[8],
		currentKey: rec[9],
	}

	if legacy {
		// no frame_set_id in the legacy layout: one frame, one set
		row.frameSetID = frame
		return row, nil
	}

	fsID, err := strconv.Atoi(rec[10])
	if err != nil {
		return rawRow{}, fmt.Errorf("frame_set_id: %w", err)
	}
	row.frameSetID = fsID
	// rec[11] is chunk_id, carried by the capture tool but unused here
	return row, nil
}

// buildFrameSet assembles one record from the rows of a single frame set.
// Top-level fields come from the final frame of the set: that is the state
// the annotation describes, earlier frames only contribute memory churn.
func (a *Aggregator) buildFrameSet(id int, rows []rawRow) model.FrameSet {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].frame < rows[j].frame })

	var frames []int
	keysByFrame := make(map[int]string)
	changes := make([]model.MemoryChange, 0, len(rows))

	for _, row := range rows {
		if _, ok := keysByFrame[row.frame]; !ok {
			frames = append(frames, row.frame)
			keysByFrame[row.frame] = row.currentKey
		}
		changes = append(changes, model.MemoryChange{
			Region:  row.region,
			Frame:   row.frame,
			Address: row.address,
			PrevVal: row.prevVal,
			CurrVal: row.currVal,
			Freq:    row.freq,
		})
	}

	buttons := make([]string, 0, len(frames))
	for _, f := range frames {
		mapped := a.keys.MapKeys(keysByFrame[f])
		if len(mapped) == 0 {
			buttons = append(buttons, "")
			continue
		}
		buttons = append(buttons, joinCombos(mapped))
	}

	final := rows[len(rows)-1]
	return model.FrameSet{
		FrameSetID:    id,
		Timestamp:     final.timestamp,
		PC:            final.pc,
		Buttons:       buttons,
		FramesInSet:   frames,
		KeyHistory:    a.keys.MapKeys(final.keyHistory),
		CurrentKeys:   a.keys.MapKeys(final.currentKey),
		MemoryChanges: changes,
	}
}

func joinCombos(combos []string) string {
	if len(combos) == 1 {
		return combos[0]
	}
	out := combos[0]
	for _, c := range combos[1:] {
		out += "|" + c
	}
	return out
}

// Run parses the log and writes one directory per frame set under
// outputDir/sessionUUID, plus session metadata. Stale record directories
// from a previous pass are removed so the persisted output is exactly the
// image of this pass.
func (a *Aggregator) Run(logPath, outputDir, sessionUUID string) (*Result, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	sets, read, skipped, err := a.Parse(f)
	if err != nil {
		return nil, err
	}

	sessionDir := filepath.Join(outputDir, sessionUUID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	valid := make(map[string]bool, len(sets))
	for _, fs := range sets {
		name := strconv.Itoa(fs.FrameSetID)
		valid[name] = true
		dir := filepath.Join(sessionDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
		if err := writeJSON(filepath.Join(dir, "event.json"), fs); err != nil {
			return nil, fmt.Errorf("write frame set %d: %w", fs.FrameSetID, err)
		}
	}

	stale, err := a.removeStale(sessionDir, valid)
	if err != nil {
		return nil, err
	}

	meta := model.SessionMetadata{
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		TotalFrameSets: len(sets),
		SourceLog:      filepath.Base(logPath),
		KeyMap:         a.keys.Name,
	}
	if len(sets) > 0 {
		meta.FrameSetIDMin = sets[0].FrameSetID
		meta.FrameSetIDMax = sets[len(sets)-1].FrameSetID
	}
	if err := writeJSON(filepath.Join(sessionDir, "session_metadata.json"), meta); err != nil {
		return nil, fmt.Errorf("write session metadata: %w", err)
	}

	res := &Result{
		SessionUUID:  sessionUUID,
		FrameSets:    len(sets),
		RowsRead:     read,
		RowsSkipped:  skipped,
		StaleRemoved: stale,
	}

	if a.opts.SnapshotsDir != "" {
		fallbacks, err := a.associateSnapshots(sessionDir, sets)
		if err != nil {
			return nil, err
		}
		res.SnapshotFallbacks = fallbacks
	}

	a.logger.Info("aggregation complete",
		"session", sessionUUID, "frame_sets", len(sets),
		"rows", read, "skipped", skipped, "stale_removed", stale)
	return res, nil
}

// removeStale deletes numeric record directories that are not part of the
// current pass.
func (a *Aggregator) removeStale(sessionDir string, valid map[string]bool) (int, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return 0, fmt.Errorf("read session dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		if valid[e.Name()] {
			continue
		}
		a.logger.Info("removing stale frame set", "id", e.Name())
		if err := os.RemoveAll(filepath.Join(sessionDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove stale record %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// associateSnapshots copies each frame set's snapshot next to its record.
// When no snapshot exists for the exact id, the nearest earlier id's image
// is reused; that fallback is logged, never silent.
func (a *Aggregator) associateSnapshots(sessionDir string, sets []model.FrameSet) (int, error) {
	entries, err := os.ReadDir(a.opts.SnapshotsDir)
	if err != nil {
		return 0, fmt.Errorf("read snapshots dir: %w", err)
	}

	snaps := make(map[int]string)
	var ids []int
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		stem := e.Name()[:len(e.Name())-len(".png")]
		n, err := strconv.Atoi(stem)
		if err != nil {
			continue
		}
		snaps[n] = filepath.Join(a.opts.SnapshotsDir, e.Name())
		ids = append(ids, n)
	}
	sort.Ints(ids)

	if len(ids) == 0 {
		a.logger.Warn("no snapshots found", "dir", a.opts.SnapshotsDir)
		return 0, nil
	}

	fallbacks := 0
	for _, fs := range sets {
		src, ok := snaps[fs.FrameSetID]
		if !ok {
			// nearest earlier snapshot
			idx := sort.SearchInts(ids, fs.FrameSetID)
			if idx == 0 {
				continue
			}
			prev := ids[idx-1]
			src = snaps[prev]
			a.logger.Warn("snapshot fallback", "frame_set", fs.FrameSetID, "using", prev)
			fallbacks++
		}
		dst := filepath.Join(sessionDir, strconv.Itoa(fs.FrameSetID), fmt.Sprintf("%d.png", fs.FrameSetID))
		if err := copyFile(src, dst); err != nil {
			return fallbacks, fmt.Errorf("copy snapshot for frame set %d: %w", fs.FrameSetID, err)
		}
	}

	if !a.opts.KeepSnapshots {
		a.logger.Info("purging snapshot source", "dir", a.opts.SnapshotsDir)
		for _, path := range snaps {
			if err := os.Remove(path); err != nil {
				return fallbacks, fmt.Errorf("purge snapshot: %w", err)
			}
		}
	}
	return fallbacks, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
