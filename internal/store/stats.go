package store

import (
	"context"
	"fmt"
)

// Stats summarizes the whole store.
type Stats struct {
	Sessions        int `json:"sessions"`
	FrameSets       int `json:"frame_sets"`
	MemoryChanges   int `json:"memory_changes"`
	Annotations     int `json:"annotations"`
	UniqueAddresses int `json:"unique_addresses"`
	UniqueContexts  int `json:"unique_contexts"`
}

// SessionStats summarizes one session.
type SessionStats struct {
	SessionUUID     string `json:"session_uuid"`
	FrameSets       int    `json:"frame_sets"`
	Annotated       int    `json:"annotated"`
	MemoryChanges   int    `json:"memory_changes"`
	UniqueAddresses int    `json:"unique_addresses"`
	NormalizedRows  int    `json:"normalized_rows"`
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &st.Sessions},
		{`SELECT COUNT(*) FROM frame_sets`, &st.FrameSets},
		{`SELECT COUNT(*) FROM memory_changes`, &st.MemoryChanges},
		{`SELECT COUNT(*) FROM annotations`, &st.Annotations},
		{`SELECT COUNT(DISTINCT address) FROM memory_changes`, &st.UniqueAddresses},
		{`SELECT COUNT(DISTINCT context) FROM annotations WHERE context IS NOT NULL AND context != ''`, &st.UniqueContexts},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}

func (s *SQLiteStore) SessionStats(ctx context.Context, sessionUUID string) (*SessionStats, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE session_uuid = ?`, sessionUUID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("session not found: %s", sessionUUID)
	}

	st := &SessionStats{SessionUUID: sessionUUID}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM frame_sets WHERE session_uuid = ?`, &st.FrameSets},
		{`SELECT COUNT(*) FROM annotations WHERE session_uuid = ?`, &st.Annotated},
		{`SELECT COUNT(*) FROM memory_changes WHERE session_uuid = ?`, &st.MemoryChanges},
		{`SELECT COUNT(DISTINCT address) FROM memory_changes WHERE session_uuid = ?`, &st.UniqueAddresses},
		{`SELECT COUNT(*) FROM memory_changes WHERE session_uuid = ? AND freq_normalized IS NOT NULL`, &st.NormalizedRows},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, sessionUUID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("session stats: %w", err)
		}
	}
	return st, nil
}
