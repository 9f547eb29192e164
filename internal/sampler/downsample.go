package sampler

import "github.com/emulab/frametrace/internal/store"

// Downsample walks the label sequence in frame-set order and thins long
// runs of one repeated label. A run member at 1-based position p within
// its run is kept when p <= maxConsecutive or p%3 == 0; the position
// counter starts at 1 on the first member of a run and never resets inside
// the run. A run of 12 with maxConsecutive 5 keeps positions 1-5, 6, 9
// and 12. This caps memorization of trivially repeated states while
// preserving the dominant label of a long run.
func Downsample(records []store.TrainingRecord, targetField string, maxConsecutive int) []store.TrainingRecord {
	if len(records) == 0 {
		return nil
	}
	if maxConsecutive <= 0 {
		maxConsecutive = DefaultMaxConsecutive
	}

	out := make([]store.TrainingRecord, 0, len(records))
	current := labelOf(records[0], targetField)
	pos := 1
	out = append(out, records[0])

	for _, rec := range records[1:] {
		label := labelOf(rec, targetField)
		if label == current {
			pos++
			if pos <= maxConsecutive || pos%3 == 0 {
				out = append(out, rec)
			}
			continue
		}
		current = label
		pos = 1
		out = append(out, rec)
	}
	return out
}

// labelOf extracts the downsampling label from a record.
func labelOf(rec store.TrainingRecord, field string) string {
	switch field {
	case "scene":
		return rec.Annotation.Scene
	case "action_type":
		return rec.Annotation.ActionType
	case "intent":
		return rec.Annotation.Intent
	case "outcome":
		return rec.Annotation.Outcome
	default:
		return rec.Annotation.Context
	}
}
