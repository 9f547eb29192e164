package store

import (
	"context"
	"fmt"
	"math"
	"time"
)

// NormalizationRun records one normalization batch so downstream samples
// are reproducible: which strategy ran over which session, and the scale
// parameter it derived (max frequency or clamp point; unused for ranks).
type NormalizationRun struct {
	ID          string  `json:"id"`
	SessionUUID string  `json:"session_uuid"`
	Strategy    string  `json:"strategy"`
	Param       float64 `json:"param"`
	AppliedAt   string  `json:"applied_at"`
}

// Normalize rewrites freq_normalized for every memory change in the
// session. All strategies yield values in [0,1]. An empty session is a
// no-op and still succeeds.
func (s *SQLiteStore) Normalize(ctx context.Context, sessionUUID, strategy string) (*NormalizationRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, freq FROM memory_changes WHERE session_uuid = ? ORDER BY freq`,
		sessionUUID)
	if err != nil {
		return nil, fmt.Errorf("load frequencies: %w", err)
	}
	defer rows.Close()

	var ids []int64
	var freqs []float64
	for rows.Next() {
		var id int64
		var f float64
		if err := rows.Scan(&id, &f); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		freqs = append(freqs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	run := &NormalizationRun{
		ID:          s.newID(),
		SessionUUID: sessionUUID,
		Strategy:    strategy,
		AppliedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if len(freqs) == 0 {
		s.logger.Info("no frequencies to normalize", "session", sessionUUID)
		return run, s.recordRun(ctx, run)
	}

	normalized, param, err := applyStrategy(strategy, freqs)
	if err != nil {
		return nil, err
	}
	run.Param = param

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE memory_changes SET freq_normalized = ? WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, normalized[i], id); err != nil {
			return nil, fmt.Errorf("update freq_normalized: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("frequencies normalized",
		"session", sessionUUID, "strategy", strategy,
		"rows", len(ids), "param", param)
	return run, s.recordRun(ctx, run)
}

func (s *SQLiteStore) recordRun(ctx context.Context, run *NormalizationRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO normalization_runs (id, session_uuid, strategy, param, applied_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.SessionUUID, run.Strategy, run.Param, run.AppliedAt)
	if err != nil {
		return fmt.Errorf("record normalization run: %w", err)
	}
	return nil
}

// applyStrategy maps raw frequencies (pre-sorted ascending) to [0,1].
// Returns the derived scale parameter alongside the values.
func applyStrategy(strategy string, freqs []float64) ([]float64, float64, error) {
	out := make([]float64, len(freqs))

	switch strategy {
	case "max_normalize":
		maxF := freqs[len(freqs)-1]
		if maxF <= 0 {
			maxF = 1
		}
		for i, f := range freqs {
			out[i] = clamp01(f / maxF)
		}
		return out, maxF, nil

	case "percentile_clamp":
		idx := int(float64(len(freqs)) * 0.95)
		if idx >= len(freqs) {
			idx = len(freqs) - 1
		}
		p95 := freqs[idx]
		if p95 <= 0 {
			p95 = 1
		}
		for i, f := range freqs {
			if f > p95 {
				out[i] = 1.0
			} else {
				out[i] = clamp01(f / p95)
			}
		}
		return out, p95, nil

	case "log_scale":
		maxF := freqs[len(freqs)-1]
		denom := math.Log(maxF + 1)
		if denom <= 0 {
			denom = 1
		}
		for i, f := range freqs {
			out[i] = clamp01(math.Log(f+1) / denom)
		}
		return out, maxF, nil

	case "rank_normalize":
		// ascending rank / count; ties share the lowest rank of the run
		n := float64(len(freqs))
		ranks := make([]float64, len(freqs))
		for i := range freqs {
			if i > 0 && freqs[i] == freqs[i-1] {
				ranks[i] = ranks[i-1]
			} else {
				ranks[i] = float64(i + 1)
			}
		}
		for i := range freqs {
			out[i] = clamp01(ranks[i] / n)
		}
		return out, n, nil

	default:
		return nil, 0, fmt.Errorf("unknown normalization strategy %q", strategy)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizationRuns returns the session's recorded runs, newest first.
func (s *SQLiteStore) NormalizationRuns(ctx context.Context, sessionUUID string) ([]NormalizationRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_uuid, strategy, param, applied_at
		 FROM normalization_runs WHERE session_uuid = ?
		 ORDER BY applied_at DESC`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []NormalizationRun
	for rows.Next() {
		var r NormalizationRun
		if err := rows.Scan(&r.ID, &r.SessionUUID, &r.Strategy, &r.Param, &r.AppliedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
