// Package model defines the core trace data types.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Session represents one recorded play-through. It owns every frame set
// ingested under its UUID and is immutable after creation except for
// metadata refreshes.
type Session struct {
	UUID      string          `json:"session_uuid"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  SessionMetadata `json:"metadata"`
}

// SessionMetadata describes where a session came from and what it spans.
type SessionMetadata struct {
	CreatedAt      string `json:"created_at,omitempty"`
	TotalFrameSets int    `json:"total_frame_sets"`
	FrameSetIDMin  int    `json:"frame_set_id_min"`
	FrameSetIDMax  int    `json:"frame_set_id_max"`
	SourceLog      string `json:"source_log,omitempty"`
	KeyMap         string `json:"key_map,omitempty"`
}

// FrameSet is the atomic decision unit: a contiguous run of emulated
// frames bounded by a controller sample. Top-level fields (Timestamp, PC,
// CurrentKeys) describe the final frame of the set; Buttons holds the
// controller state per frame, aligned with FramesInSet.
type FrameSet struct {
	SessionUUID   string         `json:"session_uuid,omitempty"`
	FrameSetID    int            `json:"frame_set_id"`
	Timestamp     int64          `json:"timestamp"`
	PC            string         `json:"pc,omitempty"`
	Buttons       []string       `json:"buttons"`
	FramesInSet   []int          `json:"frames_in_set"`
	KeyHistory    []string       `json:"key_history,omitempty"`
	CurrentKeys   []string       `json:"current_keys,omitempty"`
	MemoryChanges []MemoryChange `json:"memory_changes"`
}

// MemoryChange is one observed transition of one memory address within a
// frame set. Addresses are fixed-width uppercase hex so string equality
// implies address equality.
type MemoryChange struct {
	Region   string   `json:"region"`
	Frame    int      `json:"frame"`
	Address  string   `json:"address"`
	PrevVal  string   `json:"prev_val"`
	CurrVal  string   `json:"curr_val"`
	Freq     int      `json:"freq"`
	FreqNorm *float64 `json:"freq_normalized,omitempty"`
}

// Annotation is the human- or model-supplied label for a frame set. The
// web annotator owns these files; the core reads them only.
type Annotation struct {
	Context     string `json:"context,omitempty"`
	Scene       string `json:"scene,omitempty"`
	Tags        Tags   `json:"tags,omitempty"`
	Description string `json:"description,omitempty"`
	ActionType  string `json:"action_type,omitempty"`
	Intent      string `json:"intent,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Complete    bool   `json:"complete,omitempty"`
}

// Tags is a list of free-form label strings. Annotation files written by
// older tooling carry a single string; newer ones carry a list. Both
// decode into the list form here and never leave this boundary ambiguous.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			*t = nil
			return nil
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*t = out
		return nil
	}
	return fmt.Errorf("tags: expected string or list, got %s", data)
}

// AddressWidth is the canonical hex width for memory addresses.
const AddressWidth = 8

// CanonicalAddress renders an address as fixed-width uppercase hex,
// left-padded with zeros. Inputs longer than the canonical width are
// returned uppercased but untruncated.
func CanonicalAddress(addr string) string {
	a := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if len(a) < AddressWidth {
		a = strings.Repeat("0", AddressWidth-len(a)) + a
	}
	return a
}

// ValidStrategies are the allowed frequency normalization strategies.
var ValidStrategies = map[string]bool{
	"max_normalize":    true,
	"percentile_clamp": true,
	"log_scale":        true,
	"rank_normalize":   true,
}
