package rtc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_PreservesOrder(t *testing.T) {
	q := NewEventQueue()
	defer q.Close()

	// Pushed before anyone consumes: nothing blocks.
	for i := 0; i < 100; i++ {
		q.Push(Event{Kind: EventTrack, Stream: StreamHandle{ID: fmt.Sprint(i)}})
	}

	for i := 0; i < 100; i++ {
		select {
		case ev := <-q.Events():
			require.Equal(t, fmt.Sprint(i), ev.Stream.ID)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := NewEventQueue()
	q.Close()
	q.Close()
	q.Push(Event{Kind: EventCandidate})

	select {
	case _, ok := <-q.Events():
		assert.False(t, ok, "events channel is closed after Close")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestSideAndKindStrings(t *testing.T) {
	assert.Equal(t, SideRemote, SideLocal.Peer())
	assert.Equal(t, SideLocal, SideRemote.Peer())
	assert.Equal(t, "candidate", EventCandidate.String())
	assert.Equal(t, "(null)", CandidateString(nil))
}
