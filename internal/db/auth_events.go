package db

import (
	"fmt"
	"time"

	"github.com/presence-data/facegate/internal/face"
)

// AuthEventStore persists the authentication audit trail.
type AuthEventStore struct {
	db *DB
}

// NewAuthEventStore creates an audit store backed by the given database.
func NewAuthEventStore(db *DB) *AuthEventStore {
	return &AuthEventStore{db: db}
}

// Record appends one authentication event to the audit trail.
func (s *AuthEventStore) Record(ev face.AuthEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("auth event has no event id")
	}

	_, err := s.db.Exec(
		`INSERT INTO auth_events
		 (event_id, identity_id, identity_name, distance, matched, high_confidence,
		  liveness_state, liveness_detail, spoof_flagged, spoof_real_prob, frame_seq, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.IdentityID, ev.IdentityName, ev.Distance,
		boolToInt(ev.Matched), boolToInt(ev.HighConfidence),
		ev.LivenessState, ev.LivenessDetail,
		boolToInt(ev.SpoofFlagged), ev.SpoofRealProb,
		ev.FrameSeq, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record auth event %s: %w", ev.EventID, err)
	}

	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *AuthEventStore) RecentEvents(limit int) ([]face.AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT event_id, identity_id, identity_name, distance, matched, high_confidence,
		        liveness_state, liveness_detail, spoof_flagged, spoof_real_prob, frame_seq, occurred_at
		 FROM auth_events ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query auth events: %w", err)
	}
	defer rows.Close()

	var out []face.AuthEvent
	for rows.Next() {
		var ev face.AuthEvent
		var matched, highConf, flagged int
		var occurred time.Time
		if err := rows.Scan(
			&ev.EventID, &ev.IdentityID, &ev.IdentityName, &ev.Distance,
			&matched, &highConf, &ev.LivenessState, &ev.LivenessDetail,
			&flagged, &ev.SpoofRealProb, &ev.FrameSeq, &occurred,
		); err != nil {
			return nil, fmt.Errorf("failed to scan auth event: %w", err)
		}
		ev.Matched = matched != 0
		ev.HighConfidence = highConf != 0
		ev.SpoofFlagged = flagged != 0
		ev.OccurredAt = occurred
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth event iteration failed: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
