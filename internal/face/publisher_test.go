package face

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	a, cancelA := p.Subscribe(4)
	defer cancelA()
	b, cancelB := p.Subscribe(4)
	defer cancelB()

	p.Publish([]FrameResult{{FrameSeq: 7}})

	got := <-a
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].FrameSeq)

	got = <-b
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].FrameSeq)

	assert.Equal(t, uint64(1), p.Published())
}

func TestPublisherCopiesPerSubscriber(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	ch, cancel := p.Subscribe(1)
	defer cancel()

	original := []FrameResult{{FrameSeq: 1}}
	p.Publish(original)
	original[0].FrameSeq = 99

	got := <-ch
	assert.Equal(t, uint64(1), got[0].FrameSeq)
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	ch, cancel := p.Subscribe(1)
	defer cancel()

	p.Publish([]FrameResult{{FrameSeq: 1}})
	p.Publish([]FrameResult{{FrameSeq: 2}})
	p.Publish([]FrameResult{{FrameSeq: 3}})

	assert.Equal(t, uint64(2), p.Dropped())

	got := <-ch
	assert.Equal(t, uint64(1), got[0].FrameSeq)
}

func TestPublisherCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	ch, cancel := p.Subscribe(1)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// publishing after the last subscriber left is harmless
	p.Publish([]FrameResult{{FrameSeq: 1}})
}

func TestPublisherReportError(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	assert.NoError(t, p.LastError())

	p.ReportError("display", errors.New("terminal gone"))
	err := p.LastError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "display")

	p.ReportError("display", nil)
	assert.Error(t, p.LastError())
}

func TestPublisherErrorChannel(t *testing.T) {
	t.Parallel()

	p := NewPublisher()
	p.ReportError("pipeline", errors.New("stage blew up"))

	select {
	case err := <-p.Errors():
		assert.Contains(t, err.Error(), "pipeline")
		assert.Contains(t, err.Error(), "stage blew up")
	default:
		t.Fatal("error was not delivered to the channel")
	}

	// nil errors never reach the channel
	p.ReportError("pipeline", nil)
	select {
	case err := <-p.Errors():
		t.Fatalf("unexpected error delivered: %v", err)
	default:
	}
}
