// Package hashchain computes and verifies the tamper-evident SHA-256 hash
// chain over captured events (spec.md §4.2). It provides detection, not
// prevention: a chain break tells you something changed, not who changed it.
package hashchain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diachron/diachron/internal/types"
)

// GenesisHash is the all-zero prev_hash used for the very first event.
var GenesisHash = [types.HashSize]byte{}

// canonicalEvent is the exact field set and order spec.md §4.2 names, using
// compact JSON. Changing this struct changes every future event_hash, so
// its shape is load-bearing and must never be reordered casually.
type canonicalEvent struct {
	ID           int64              `json:"id"`
	Timestamp    string             `json:"timestamp"`
	ToolName     string             `json:"tool_name"`
	FilePath     string             `json:"file_path"`
	Operation    types.Operation    `json:"operation"`
	DiffSummary  string             `json:"diff_summary"`
	RawInput     string             `json:"raw_input"`
	SessionID    string             `json:"session_id"`
	GitCommitSHA string             `json:"git_commit_sha"`
	Metadata     types.EventMetadata `json:"metadata"`
}

// Canonicalize produces the deterministic byte sequence hashed to form an
// event's event_hash, excluding the hash fields themselves.
func Canonicalize(e *types.Event) ([]byte, error) {
	c := canonicalEvent{
		ID:           e.ID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		ToolName:     e.ToolName,
		FilePath:     e.FilePath,
		Operation:    e.Operation,
		DiffSummary:  e.DiffSummary,
		RawInput:     e.RawInput,
		SessionID:    e.SessionID,
		GitCommitSHA: e.GitCommitSHA,
		Metadata:     e.Metadata,
	}
	return json.Marshal(c)
}

// ComputeHash returns event_hash = SHA-256(canonical(e) ‖ prev_hash).
func ComputeHash(e *types.Event, prevHash [types.HashSize]byte) ([types.HashSize]byte, error) {
	canon, err := Canonicalize(e)
	if err != nil {
		return [types.HashSize]byte{}, fmt.Errorf("hashchain: canonicalize event %d: %w", e.ID, err)
	}
	buf := make([]byte, 0, len(canon)+types.HashSize)
	buf = append(buf, canon...)
	buf = append(buf, prevHash[:]...)
	return sha256.Sum256(buf), nil
}

// Seal computes and assigns PrevHash/EventHash on e given the chain's
// current head hash (the all-zero genesis if e is the first event).
func Seal(e *types.Event, headHash [types.HashSize]byte) error {
	hash, err := ComputeHash(e, headHash)
	if err != nil {
		return err
	}
	e.PrevHash = headHash
	e.EventHash = hash
	return nil
}

// BreakPoint describes the first point at which the chain was found broken.
type BreakPoint struct {
	EventID      int64     `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	ExpectedHash string    `json:"expected_hash"`
	ActualHash   string    `json:"actual_hash"`
}

// VerifyResult is the outcome of walking the chain (spec.md §4.2).
type VerifyResult struct {
	Valid            bool        `json:"valid"`
	EventsChecked    int64       `json:"events_checked"`
	CheckpointsChecked int64     `json:"checkpoints_checked"`
	FirstEvent       *int64      `json:"first_event,omitempty"`
	LastEvent        *int64      `json:"last_event,omitempty"`
	ChainRoot        string      `json:"chain_root,omitempty"`
	Break            *BreakPoint `json:"break_point,omitempty"`
}

// Verify walks events in id order, recomputing each expected hash and
// comparing it against the stored event_hash and the next event's
// prev_hash. It short-circuits at the first break; EventsChecked reflects
// how far the walk progressed before stopping. events must already be
// sorted ascending by ID (the storage layer guarantees this).
func Verify(events []*types.Event, checkpointsChecked int64) VerifyResult {
	result := VerifyResult{Valid: true, CheckpointsChecked: checkpointsChecked}
	if len(events) == 0 {
		return result
	}

	first := events[0].ID
	last := events[len(events)-1].ID
	result.FirstEvent = &first
	result.LastEvent = &last

	prevHash := GenesisHash
	for i, e := range events {
		expected, err := ComputeHash(e, prevHash)
		if err != nil || expected != e.EventHash {
			result.Valid = false
			result.EventsChecked = int64(i)
			result.Break = &BreakPoint{
				EventID:      e.ID,
				Timestamp:    e.Timestamp,
				ExpectedHash: fmt.Sprintf("%x", expected),
				ActualHash:   fmt.Sprintf("%x", e.EventHash),
			}
			return result
		}
		if e.PrevHash != prevHash {
			result.Valid = false
			result.EventsChecked = int64(i)
			result.Break = &BreakPoint{
				EventID:      e.ID,
				Timestamp:    e.Timestamp,
				ExpectedHash: fmt.Sprintf("%x", prevHash),
				ActualHash:   fmt.Sprintf("%x", e.PrevHash),
			}
			return result
		}
		prevHash = e.EventHash
		result.EventsChecked = int64(i + 1)
	}

	result.ChainRoot = fmt.Sprintf("%x", prevHash)
	return result
}

// Checkpoint builds today's daily checkpoint from the chain's current state.
// event_count counts rows with a non-null event_hash; final_hash is the last
// event's hash (the all-zero genesis if the chain is empty).
func Checkpoint(events []*types.Event, date string) types.ChainCheckpoint {
	cp := types.ChainCheckpoint{Date: date, CreatedAt: time.Now().UTC()}
	cp.EventCount = int64(len(events))
	if len(events) > 0 {
		cp.FinalHash = events[len(events)-1].EventHash
	} else {
		cp.FinalHash = GenesisHash
	}
	return cp
}
