// Package sampler turns annotated frame sets into leakage-controlled
// prompt/response training pairs.
package sampler

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emulab/frametrace/internal/model"
	"github.com/emulab/frametrace/internal/store"
)

// Defaults for the sampling parameters.
const (
	DefaultMaxConsecutive = 5
	DefaultMinGap         = 20
	DefaultTestFraction   = 0.2
)

// Format selects the JSONL record shape.
const (
	FormatPairs    = "pairs"    // {"inputs":{...},"outputs":{...}}
	FormatMessages = "messages" // {"messages":[{role,content}...]}
)

// Config controls one sampling run.
type Config struct {
	InputFields    []string // subset of: memory_changes, buttons, frame_range, timestamp, context, scene, tags, description, action_type, intent, outcome
	OutputFields   []string // subset of: context, scene, tags, description, action_type, intent, outcome
	MemoryFields   []string // subset of: region, frame, address, prev_val, curr_val, freq, freq_normalized
	WindowSize     int      // 0 emits per-unit samples
	Downsample     bool
	MaxConsecutive int
	TargetField    string // label field for downsampling, default context
	TestFraction   float64
	MinGap         int
}

// Sample is one training pair, kept alongside its source frame-set id so
// output stays in ascending frame-set order.
type Sample struct {
	FrameSetID int
	Inputs     map[string]any
	Outputs    map[string]any
}

// Dataset is the result of one sampling run.
type Dataset struct {
	Train []Sample
	Test  []Sample
	Split SplitResult
}

// Sampler builds datasets from store records.
type Sampler struct {
	cfg    Config
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Sampler {
	if len(cfg.InputFields) == 0 {
		cfg.InputFields = []string{"memory_changes", "buttons"}
	}
	if len(cfg.OutputFields) == 0 {
		cfg.OutputFields = []string{"description"}
	}
	if len(cfg.MemoryFields) == 0 {
		cfg.MemoryFields = []string{"address", "prev_val", "curr_val"}
	}
	if cfg.MaxConsecutive <= 0 {
		cfg.MaxConsecutive = DefaultMaxConsecutive
	}
	if cfg.TargetField == "" {
		cfg.TargetField = "context"
	}
	if cfg.TestFraction < 0 {
		cfg.TestFraction = DefaultTestFraction
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = DefaultMinGap
	}
	return &Sampler{cfg: cfg, logger: logger}
}

// Build downsamples repeated-label runs, performs the temporal split, and
// constructs samples for each partition. Records must arrive in ascending
// frame-set order (TrainingRecords guarantees this).
func (s *Sampler) Build(records []store.TrainingRecord) *Dataset {
	if s.cfg.Downsample {
		before := len(records)
		records = Downsample(records, s.cfg.TargetField, s.cfg.MaxConsecutive)
		s.logger.Info("downsampled repeated labels", "before", before, "after", len(records))
	}

	split := TemporalSplit(records, s.cfg.TestFraction, s.cfg.MinGap, s.logger)
	s.logger.Info("temporal split",
		"train", len(split.Train), "test", len(split.Test),
		"effective_gap", split.EffectiveGap, "tried_gaps", split.TriedGaps)

	ds := &Dataset{Split: split}
	ds.Train = s.buildSamples(split.Train)
	ds.Test = s.buildSamples(split.Test)
	return ds
}

func (s *Sampler) buildSamples(records []store.TrainingRecord) []Sample {
	if s.cfg.WindowSize > 1 {
		return s.buildWindowed(records)
	}
	var out []Sample
	for _, rec := range records {
		smp, ok := s.buildSample(rec, rec.MemoryChanges)
		if ok {
			out = append(out, smp)
		}
	}
	return out
}

// buildWindowed aggregates consecutive non-overlapping windows of W frame
// sets. Changes to the same (region, address) collapse into one entry with
// the window's first previous value and last current value (net effect),
// frequency summed. The label comes from the window's final member only;
// windows whose final member yields no output are dropped, and a short
// tail window is dropped entirely.
func (s *Sampler) buildWindowed(records []store.TrainingRecord) []Sample {
	w := s.cfg.WindowSize
	var out []Sample
	for i := 0; i+w <= len(records); i += w {
		window := records[i : i+w]
		final := window[len(window)-1]

		smp, ok := s.buildSample(final, collapseWindow(window))
		if !ok {
			continue
		}
		if _, has := smp.Inputs["frame_range"]; has {
			smp.Inputs["frame_range"] = windowRange(window)
		}
		out = append(out, smp)
	}
	return out
}

// collapseWindow nets each (region, address) across the window.
func collapseWindow(window []store.TrainingRecord) []model.MemoryChange {
	type key struct{ region, address string }
	index := make(map[key]int)
	var collapsed []model.MemoryChange

	for _, rec := range window {
		for _, c := range rec.MemoryChanges {
			k := key{c.Region, c.Address}
			i, seen := index[k]
			if !seen {
				index[k] = len(collapsed)
				cc := c
				if c.FreqNorm != nil {
					v := *c.FreqNorm
					cc.FreqNorm = &v
				}
				collapsed = append(collapsed, cc)
				continue
			}
			collapsed[i].CurrVal = c.CurrVal
			collapsed[i].Frame = c.Frame
			collapsed[i].Freq += c.Freq
			if c.FreqNorm != nil {
				if collapsed[i].FreqNorm == nil {
					v := *c.FreqNorm
					collapsed[i].FreqNorm = &v
				} else {
					*collapsed[i].FreqNorm += *c.FreqNorm
				}
			}
		}
	}
	return collapsed
}

func windowRange(window []store.TrainingRecord) int {
	lo, hi := 0, 0
	seen := false
	for _, rec := range window {
		for _, f := range rec.FramesInSet {
			if !seen {
				lo, hi = f, f
				seen = true
				continue
			}
			if f < lo {
				lo = f
			}
			if f > hi {
				hi = f
			}
		}
	}
	return hi - lo
}

// buildSample assembles one sample; ok is false when the requested output
// fields are all empty, which drops the unit.
func (s *Sampler) buildSample(rec store.TrainingRecord, changes []model.MemoryChange) (Sample, bool) {
	outputs := make(map[string]any)
	for _, f := range s.cfg.OutputFields {
		if v := annotationField(rec.Annotation, f); v != nil {
			outputs[f] = v
		}
	}
	if len(outputs) == 0 {
		return Sample{}, false
	}

	inputs := make(map[string]any)
	for _, f := range s.cfg.InputFields {
		switch f {
		case "memory_changes":
			inputs[f] = filterChanges(changes, s.cfg.MemoryFields)
		case "buttons":
			inputs[f] = rec.Buttons
		case "frame_range":
			inputs[f] = rec.FrameRange
		case "timestamp":
			inputs[f] = rec.Timestamp
		default:
			if v := annotationField(rec.Annotation, f); v != nil {
				inputs[f] = v
			}
		}
	}

	return Sample{FrameSetID: rec.FrameSetID, Inputs: inputs, Outputs: outputs}, true
}

func annotationField(a model.Annotation, field string) any {
	switch field {
	case "context":
		if a.Context != "" {
			return a.Context
		}
	case "scene":
		if a.Scene != "" {
			return a.Scene
		}
	case "tags":
		if len(a.Tags) > 0 {
			return a.Tags
		}
	case "description":
		if a.Description != "" {
			return a.Description
		}
	case "action_type":
		if a.ActionType != "" {
			return a.ActionType
		}
	case "intent":
		if a.Intent != "" {
			return a.Intent
		}
	case "outcome":
		if a.Outcome != "" {
			return a.Outcome
		}
	}
	return nil
}

func filterChanges(changes []model.MemoryChange, fields []string) []map[string]any {
	out := make([]map[string]any, 0, len(changes))
	for _, c := range changes {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			switch f {
			case "region":
				m[f] = c.Region
			case "frame":
				m[f] = c.Frame
			case "address":
				m[f] = c.Address
			case "prev_val":
				m[f] = c.PrevVal
			case "curr_val":
				m[f] = c.CurrVal
			case "freq":
				m[f] = c.Freq
			case "freq_normalized":
				if c.FreqNorm != nil {
					m[f] = *c.FreqNorm
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// WriteJSONL writes samples in the requested format, one JSON object per
// line, in the order given (callers keep ascending frame-set order so the
// file is reproducible bit for bit).
func WriteJSONL(w io.Writer, samples []Sample, format string) error {
	enc := json.NewEncoder(w)
	for _, smp := range samples {
		var rec any
		switch format {
		case FormatMessages:
			rec = toMessages(smp)
		case FormatPairs, "":
			rec = map[string]any{"inputs": smp.Inputs, "outputs": smp.Outputs}
		default:
			return fmt.Errorf("unknown sample format %q", format)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteFiles writes train and test partitions as <prefix>_train.jsonl and
// <prefix>_test.jsonl under dir.
func WriteFiles(dir, prefix string, ds *Dataset, format string) (trainPath, testPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	trainPath = filepath.Join(dir, prefix+"_train.jsonl")
	testPath = filepath.Join(dir, prefix+"_test.jsonl")

	if err := writeFile(trainPath, ds.Train, format); err != nil {
		return "", "", err
	}
	if err := writeFile(testPath, ds.Test, format); err != nil {
		return "", "", err
	}
	return trainPath, testPath, nil
}

func writeFile(path string, samples []Sample, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := WriteJSONL(f, samples, format); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// toMessages renders a sample in the conversational fine-tuning form. The
// same underlying record backs both formats.
func toMessages(smp Sample) map[string]any {
	var parts []string
	if v, ok := smp.Inputs["memory_changes"]; ok {
		b, _ := json.Marshal(v)
		parts = append(parts, "Analyze these emulator memory changes: "+string(b))
	}
	if v, ok := smp.Inputs["buttons"]; ok {
		if btns, ok := v.([]string); ok && len(btns) > 0 {
			parts = append(parts, "Button inputs: "+strings.Join(btns, ", "))
		} else {
			parts = append(parts, "Button inputs: None")
		}
	}
	if v, ok := smp.Inputs["frame_range"]; ok {
		parts = append(parts, fmt.Sprintf("Frame range: %v", v))
	}
	var extra []string
	for k := range smp.Inputs {
		switch k {
		case "memory_changes", "buttons", "frame_range":
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		parts = append(parts, fmt.Sprintf("%s: %v", titleCase(k), smp.Inputs[k]))
	}
	if len(parts) == 0 {
		parts = append(parts, "Analyze this game state.")
	}

	var response []string
	if len(smp.Outputs) == 1 {
		for _, v := range smp.Outputs {
			response = append(response, fmt.Sprintf("%v", v))
		}
	} else {
		for _, k := range []string{"context", "scene", "tags", "description", "action_type", "intent", "outcome"} {
			if v, ok := smp.Outputs[k]; ok {
				response = append(response, fmt.Sprintf("%s: %v", titleCase(k), v))
			}
		}
	}

	return map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": strings.Join(parts, "\n")},
			{"role": "assistant", "content": strings.Join(response, "\n")},
		},
	}
}

func titleCase(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
