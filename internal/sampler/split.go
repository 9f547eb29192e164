package sampler

import (
	"github.com/charmbracelet/log"

	"github.com/emulab/frametrace/internal/store"
)

// SplitResult is the outcome of a temporal train/test split. EffectiveGap
// is the gap actually enforced; TriedGaps records every gap attempted, so
// a reduced gap is an observable output rather than a silent side effect.
type SplitResult struct {
	Train        []store.TrainingRecord
	Test         []store.TrainingRecord
	EffectiveGap int
	TriedGaps    []int
}

// TemporalSplit partitions records (already in frame-set order) so no
// train item lies within minGap frame-set ids of any test item. Test items
// are chosen by systematic sampling with stride max(3, N/nTest). Naive
// random splits let a model memorize near-duplicate neighboring states;
// the gap keeps the partitions temporally decorrelated.
//
// If gap exclusion would shrink the train partition below half of all
// items, the gap is halved and the selection retried; the loop bottoms out
// at gap 0 (no exclusions), so it always terminates.
func TemporalSplit(records []store.TrainingRecord, testFraction float64, minGap int, logger *log.Logger) SplitResult {
	res := SplitResult{EffectiveGap: minGap}
	if len(records) == 0 {
		return res
	}
	if testFraction <= 0 {
		res.Train = records
		return res
	}

	nTest := int(float64(len(records)) * testFraction)
	if nTest == 0 {
		nTest = 1
	}
	step := len(records) / nTest
	if step < 3 {
		step = 3
	}

	testIdx := make(map[int]bool)
	testIDs := make([]int, 0, nTest)
	for i := 0; i < len(records) && len(testIDs) < nTest; i += step {
		testIdx[i] = true
		testIDs = append(testIDs, records[i].FrameSetID)
	}

	gap := minGap
	for {
		res.TriedGaps = append(res.TriedGaps, gap)

		var train []store.TrainingRecord
		for i, rec := range records {
			if testIdx[i] {
				continue
			}
			if withinGap(rec.FrameSetID, testIDs, gap) {
				continue
			}
			train = append(train, rec)
		}

		if len(train)*2 >= len(records) || gap == 0 {
			res.Train = train
			res.EffectiveGap = gap
			break
		}
		next := gap / 2
		logger.Warn("reducing temporal gap to keep enough train samples",
			"from", gap, "to", next)
		gap = next
	}

	for i, rec := range records {
		if testIdx[i] {
			res.Test = append(res.Test, rec)
		}
	}
	return res
}

func withinGap(id int, testIDs []int, gap int) bool {
	for _, t := range testIDs {
		d := id - t
		if d < 0 {
			d = -d
		}
		if d < gap {
			return true
		}
	}
	return false
}
