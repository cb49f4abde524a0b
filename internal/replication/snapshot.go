// Package replication publishes the authoritative session state and mirrors
// it read-only on every other member.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
)

// Announcement is the replicated banner shown to every member.
type Announcement struct {
	Active           bool   `json:"active"`
	Countdown        bool   `json:"countdown"` // Text is regenerated from RemainingSeconds
	Text             string `json:"text,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Snapshot is the complete replicated session state.
type Snapshot struct {
	SessionID        string       `json:"session_id"`
	Seq              uint64       `json:"seq"`
	ExperienceID     string       `json:"experience_id"`
	Phase            string       `json:"phase"`
	RemainingSeconds int          `json:"remaining_seconds"` // Match timer
	Announcement     Announcement `json:"announcement"`
}

// CountdownText returns the banner text members should display.
func (s Snapshot) CountdownText() string {
	if !s.Announcement.Active {
		return ""
	}
	return s.Announcement.Text
}

// Encode serializes the snapshot for the wire.
func Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a wire snapshot.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Transport carries snapshots from the authoritative side to members.
// PublishState is called from the session loop and must not block on I/O
// for long.
type Transport interface {
	PublishState(ctx context.Context, s Snapshot) error
}

// Fanout publishes to several transports. Every transport is tried; the
// first error is returned.
type Fanout []Transport

// PublishState implements Transport.
func (f Fanout) PublishState(ctx context.Context, s Snapshot) error {
	var first error
	for _, t := range f {
		if err := t.PublishState(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
