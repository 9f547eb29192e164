package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/emulab/frametrace/internal/model"
)

// TrainingRecords joins annotations, frame sets and memory changes for one
// session, ordered by frame_set_id so downstream output is deterministic.
func (s *SQLiteStore) TrainingRecords(ctx context.Context, sessionUUID string) ([]TrainingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.frame_set_id, a.context, a.scene, a.tags, a.description,
		       a.action_type, a.intent, a.outcome, a.complete,
		       fs.timestamp, fs.buttons, fs.frames_in_set
		FROM annotations a
		JOIN frame_sets fs
		  ON a.session_uuid = fs.session_uuid AND a.frame_set_id = fs.frame_set_id
		WHERE a.session_uuid = ?
		ORDER BY a.frame_set_id`, sessionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TrainingRecord
	index := make(map[int]int)
	for rows.Next() {
		var rec TrainingRecord
		var context, scene, tags, description, actionType, intent, outcome sql.NullString
		var complete int
		var buttonsJSON, framesJSON string
		if err := rows.Scan(&rec.FrameSetID, &context, &scene, &tags, &description,
			&actionType, &intent, &outcome, &complete,
			&rec.Timestamp, &buttonsJSON, &framesJSON); err != nil {
			return nil, err
		}
		rec.SessionUUID = sessionUUID
		rec.Annotation = model.Annotation{
			Context:     context.String,
			Scene:       scene.String,
			Description: description.String,
			ActionType:  actionType.String,
			Intent:      intent.String,
			Outcome:     outcome.String,
			Complete:    complete != 0,
		}
		if tags.Valid && tags.String != "" {
			json.Unmarshal([]byte(tags.String), &rec.Annotation.Tags)
		}
		json.Unmarshal([]byte(buttonsJSON), &rec.Buttons)
		json.Unmarshal([]byte(framesJSON), &rec.FramesInSet)
		if n := len(rec.FramesInSet); n > 1 {
			rec.FrameRange = rec.FramesInSet[n-1] - rec.FramesInSet[0]
		}
		index[rec.FrameSetID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachMemoryChanges(ctx, sessionUUID, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteStore) attachMemoryChanges(ctx context.Context, sessionUUID string, records []TrainingRecord, index map[int]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_set_id, region, frame, address, prev_val, curr_val, freq, freq_normalized
		FROM memory_changes
		WHERE session_uuid = ?
		ORDER BY frame_set_id, frame, id`, sessionUUID)
	if err != nil {
		return fmt.Errorf("load memory changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fsID int
		var c model.MemoryChange
		var norm sql.NullFloat64
		if err := rows.Scan(&fsID, &c.Region, &c.Frame, &c.Address,
			&c.PrevVal, &c.CurrVal, &c.Freq, &norm); err != nil {
			return err
		}
		if norm.Valid {
			v := norm.Float64
			c.FreqNorm = &v
		}
		if i, ok := index[fsID]; ok {
			records[i].MemoryChanges = append(records[i].MemoryChanges, c)
		}
	}
	return rows.Err()
}
