package sampler

import (
	"testing"

	"github.com/emulab/frametrace/internal/model"
	"github.com/emulab/frametrace/internal/store"
)

func labeledRecords(labels []string) []store.TrainingRecord {
	out := make([]store.TrainingRecord, len(labels))
	for i, l := range labels {
		out[i] = store.TrainingRecord{
			FrameSetID: i,
			Annotation: model.Annotation{Context: l},
		}
	}
	return out
}

func TestDownsampleLongRun(t *testing.T) {
	labels := make([]string, 12)
	for i := range labels {
		labels[i] = "battle"
	}
	out := Downsample(labeledRecords(labels), "context", 5)

	// positions 1-5 kept, then every third: 6, 9, 12
	if len(out) != 8 {
		t.Fatalf("kept %d of 12, want 8", len(out))
	}
	want := []int{0, 1, 2, 3, 4, 5, 8, 11}
	for i, rec := range out {
		if rec.FrameSetID != want[i] {
			t.Errorf("kept[%d] = %d, want %d", i, rec.FrameSetID, want[i])
		}
	}
}

func TestDownsampleResetsOnLabelChange(t *testing.T) {
	labels := []string{"a", "a", "a", "b", "b", "a", "a"}
	out := Downsample(labeledRecords(labels), "context", 5)
	if len(out) != len(labels) {
		t.Errorf("kept %d of %d, want all (no run exceeds the cap)", len(out), len(labels))
	}
}

func TestDownsampleShortRunsUntouched(t *testing.T) {
	labels := []string{"a", "a", "b", "c", "c", "c"}
	out := Downsample(labeledRecords(labels), "context", 5)
	if len(out) != len(labels) {
		t.Errorf("kept %d of %d", len(out), len(labels))
	}
}

func TestDownsampleTargetField(t *testing.T) {
	records := make([]store.TrainingRecord, 10)
	for i := range records {
		records[i] = store.TrainingRecord{
			FrameSetID: i,
			// context varies but the scene repeats
			Annotation: model.Annotation{Context: string(rune('a' + i)), Scene: "cave"},
		}
	}
	if out := Downsample(records, "context", 3); len(out) != 10 {
		t.Errorf("context labels all differ, kept %d of 10", len(out))
	}
	out := Downsample(records, "scene", 3)
	// run of 10: positions 1-3, 6, 9
	if len(out) != 5 {
		t.Errorf("scene run of 10 kept %d, want 5", len(out))
	}
}

func TestDownsampleEmpty(t *testing.T) {
	if out := Downsample(nil, "context", 5); out != nil {
		t.Errorf("got %v for empty input", out)
	}
}
