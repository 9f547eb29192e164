// Package store provides the relational trace store and its SQLite
// implementation.
package store

import (
	"context"

	"github.com/emulab/frametrace/internal/model"
)

// LoadOptions control how a session directory is loaded into the store.
type LoadOptions struct {
	// AnnotatedOnly skips frame-set directories without an
	// annotations.json. The web annotator writes those files; records it
	// has not touched yet carry no label worth storing.
	AnnotatedOnly bool
}

// LoadResult reports what a directory load did.
type LoadResult struct {
	FrameSets   int
	Annotations int
	Skipped     int
}

// TrainingRecord is one annotated frame set joined with its memory
// changes, the row shape every sampler and export path consumes.
type TrainingRecord struct {
	SessionUUID   string               `json:"session_uuid"`
	FrameSetID    int                  `json:"frame_set_id"`
	Timestamp     int64                `json:"timestamp"`
	Buttons       []string             `json:"buttons"`
	FramesInSet   []int                `json:"frames_in_set"`
	FrameRange    int                  `json:"frame_range"`
	MemoryChanges []model.MemoryChange `json:"memory_changes"`
	Annotation    model.Annotation     `json:"annotation"`
}

// Store defines the trace storage interface.
type Store interface {
	// Ingest stores one frame set and its optional annotation in a single
	// transaction. Re-ingesting the same (session, frame_set_id) replaces
	// the prior memory-change set wholesale and upserts the rest.
	Ingest(ctx context.Context, sessionUUID string, fs model.FrameSet, ann *model.Annotation) error

	// LoadSession walks a session's record directories and ingests each
	// frame set. Malformed files are skipped and counted, never fatal.
	LoadSession(ctx context.Context, dataDir, sessionUUID string, opts LoadOptions) (*LoadResult, error)

	// Normalize rewrites raw change frequencies for one session into
	// [0,1] using the named strategy and records the run.
	Normalize(ctx context.Context, sessionUUID, strategy string) (*NormalizationRun, error)

	// TrainingRecords returns the session's annotated frame sets in
	// ascending frame-set order.
	TrainingRecords(ctx context.Context, sessionUUID string) ([]TrainingRecord, error)

	// Sessions lists known sessions with metadata.
	Sessions(ctx context.Context) ([]model.Session, error)

	// Query runs an arbitrary read query, returning generic rows. Used by
	// the natural-language engine.
	Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error)

	// Close closes the store.
	Close() error
}
