package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []Event
	for {
		ev, ok, err := sub.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, ev)
		if ev.Kind == KindDone {
			return out
		}
	}
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	topic := NewBus().Topic("s1")

	s1, err := topic.Publish(KindStatus, StatusPayload{Message: "a"})
	require.NoError(t, err)
	s2, err := topic.Publish(KindStatus, StatusPayload{Message: "b"})
	require.NoError(t, err)
	assert.Equal(t, s1+1, s2)
}

func TestSubscriberSeesBacklogThenLive(t *testing.T) {
	topic := NewBus().Topic("s1")
	_, err := topic.Publish(KindStatus, StatusPayload{Message: "early"})
	require.NoError(t, err)

	sub := topic.Subscribe()
	_, err = topic.Publish(KindGameStart, GameStartPayload{AppID: 220, Name: "HL2"})
	require.NoError(t, err)
	_, err = topic.Publish(KindDone, nil)
	require.NoError(t, err)

	events := drain(t, sub)
	require.Len(t, events, 3)
	assert.Equal(t, KindStatus, events[0].Kind)
	assert.Equal(t, KindGameStart, events[1].Kind)
	assert.Equal(t, KindDone, events[2].Kind)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq, "seq must strictly increase")
	}
}

func TestLateSubscriberGetsFullReplayAfterDone(t *testing.T) {
	topic := NewBus().Topic("s1")
	_, err := topic.Publish(KindStatus, StatusPayload{Message: "Starting"})
	require.NoError(t, err)
	_, err = topic.Publish(KindImportComplete, ImportCompletePayload{Completed: 1})
	require.NoError(t, err)
	_, err = topic.Publish(KindDone, nil)
	require.NoError(t, err)

	events := drain(t, topic.Subscribe())
	require.Len(t, events, 3)
	assert.Equal(t, KindDone, events[2].Kind)
}

func TestPublishAfterDoneFails(t *testing.T) {
	topic := NewBus().Topic("s1")
	_, err := topic.Publish(KindDone, nil)
	require.NoError(t, err)
	_, err = topic.Publish(KindStatus, StatusPayload{Message: "too late"})
	assert.Error(t, err)
}

func TestLaggingSubscriberDropsOldestNonTerminal(t *testing.T) {
	topic := NewBus().Topic("s1")
	sub := topic.Subscribe()

	// Overflow the subscriber queue without draining it.
	total := subQueueCap + 50
	for i := 0; i < total; i++ {
		_, err := topic.Publish(KindScreenshotComplete, ScreenshotCompletePayload{GameName: "g", OverallProgress: int64(i)})
		require.NoError(t, err)
	}
	_, err := topic.Publish(KindImportComplete, ImportCompletePayload{})
	require.NoError(t, err)
	_, err = topic.Publish(KindDone, nil)
	require.NoError(t, err)

	events := drain(t, sub)

	// Bounded queue: fewer events than published.
	assert.Less(t, len(events), total+2)

	// Terminal events survived.
	kinds := make(map[string]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[KindImportComplete])
	assert.Equal(t, 1, kinds[KindDone])

	// A synthetic drop marker is present and seqs still strictly increase.
	foundMarker := false
	for i, ev := range events {
		if i > 0 {
			assert.Greater(t, ev.Seq, events[i-1].Seq)
		}
		if ev.Kind == KindStatus {
			var p StatusPayload
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			if p.Message != "" {
				foundMarker = true
			}
		}
	}
	assert.True(t, foundMarker, "expected a synthetic drop marker status event")
}

func TestIndependentSubscribers(t *testing.T) {
	topic := NewBus().Topic("s1")
	a := topic.Subscribe()
	b := topic.Subscribe()

	_, err := topic.Publish(KindStatus, StatusPayload{Message: "x"})
	require.NoError(t, err)
	_, err = topic.Publish(KindDone, nil)
	require.NoError(t, err)

	assert.Len(t, drain(t, a), 2)
	assert.Len(t, drain(t, b), 2)
}

func TestSubscriberCloseDetaches(t *testing.T) {
	topic := NewBus().Topic("s1")
	sub := topic.Subscribe()
	sub.Close()

	_, err := topic.Publish(KindStatus, StatusPayload{Message: "after close"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok, err := sub.Next(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNextHonoursContext(t *testing.T) {
	topic := NewBus().Topic("s1")
	sub := topic.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := sub.Next(ctx)
	assert.Error(t, err)
}

func TestBusLookupAndRemove(t *testing.T) {
	bus := NewBus()
	_, ok := bus.Lookup("nope")
	assert.False(t, ok)

	topic := bus.Topic("s1")
	got, ok := bus.Lookup("s1")
	assert.True(t, ok)
	assert.Same(t, topic, got)

	bus.Remove("s1")
	_, ok = bus.Lookup("s1")
	assert.False(t, ok)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(KindDone))
	assert.True(t, IsTerminal(KindImportComplete))
	assert.True(t, IsTerminal(KindImportCancelled))
	assert.True(t, IsTerminal(KindImportError))
	assert.False(t, IsTerminal(KindStatus))
	assert.False(t, IsTerminal(KindScreenshotComplete))
}
