package face

import (
	"time"

	"github.com/google/uuid"

	"github.com/presence-data/facegate/internal/monitoring"
)

// AuthEvent is one audit record describing the outcome of an
// authentication attempt. Nullable columns map to pointer fields.
type AuthEvent struct {
	EventID        string
	IdentityID     *int64
	IdentityName   *string
	Distance       *float64
	Matched        bool
	HighConfidence bool
	LivenessState  string
	LivenessDetail *string
	SpoofFlagged   bool
	SpoofRealProb  *float64
	FrameSeq       uint64
	OccurredAt     time.Time
}

// EventWriter receives audit events. Implemented by db.AuthEventStore.
type EventWriter interface {
	Record(ev AuthEvent) error
}

// AuditSink drains authentication events to an EventWriter on a
// background goroutine. Recording is fire and forget: a full queue or
// a write failure never blocks or fails frame processing.
type AuditSink struct {
	writer EventWriter
	queue  chan AuthEvent
	done   chan struct{}
	logf   func(format string, v ...interface{})

	dropped uint64
}

// NewAuditSink starts a sink draining into writer. Call Close to flush
// and stop the background goroutine.
func NewAuditSink(writer EventWriter, queueSize int) *AuditSink {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &AuditSink{
		writer: writer,
		queue:  make(chan AuthEvent, queueSize),
		done:   make(chan struct{}),
		logf:   monitoring.Scoped("audit:"),
	}
	go s.drain()
	return s
}

// Submit enqueues an event without blocking. Events are dropped when
// the queue is full.
func (s *AuditSink) Submit(ev AuthEvent) {
	select {
	case s.queue <- ev:
	default:
		s.dropped++
		s.logf("queue full, dropped event %s", ev.EventID)
	}
}

// Close stops accepting events, flushes the queue, and waits for the
// drain goroutine to exit.
func (s *AuditSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *AuditSink) drain() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.writer.Record(ev); err != nil {
			s.logf("failed to record event %s: %v", ev.EventID, err)
		}
	}
}

// NewAuthEvent builds an audit event from a frame result.
func NewAuthEvent(res FrameResult, identityName string) AuthEvent {
	ev := AuthEvent{
		EventID:        uuid.New().String(),
		Matched:        res.Match.Matched,
		HighConfidence: res.Match.HighConfidence,
		LivenessState:  string(res.Liveness.State),
		FrameSeq:       res.FrameSeq,
		SpoofFlagged:   res.Spoof.Flagged,
		OccurredAt:     res.Timestamp,
	}
	if res.Match.Identity != nil {
		id := res.Match.Identity.ID
		ev.IdentityID = &id
		name := identityName
		if name == "" {
			name = res.Match.Identity.Name
		}
		ev.IdentityName = &name
		dist := res.Match.Distance
		ev.Distance = &dist
	}
	if res.Liveness.Detail != "" {
		detail := res.Liveness.Detail
		ev.LivenessDetail = &detail
	}
	if !res.Spoof.Degraded {
		prob := res.Spoof.RealProb
		ev.SpoofRealProb = &prob
	}
	return ev
}
