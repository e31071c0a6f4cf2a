package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(UnitRound, UnitPayload{BatchID: "b1", RepoID: "a/b", Round: 2})

	select {
	case ev := <-ch:
		assert.Equal(t, UnitRound, ev.Type)
		assert.Equal(t, int64(1), ev.ID)
		var p UnitPayload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, 2, p.Round)
		assert.Equal(t, "a/b", p.RepoID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSnapshotSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(UnitStarted, nil)
	}

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	assert.Empty(t, h.SnapshotSince(5))
	assert.Len(t, h.SnapshotSince(1), 3)

	later := h.SnapshotSince(4)
	require.Len(t, later, 1)
	assert.Equal(t, int64(5), later[0].ID)
	assert.JSONEq(t, "{}", string(later[0].Data))
}

func TestCancelClosesChannelOnce(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	h.Publish(BatchCompleted, BatchPayload{BatchID: "b1"})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(UnitRound, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, 1000-feedBuffer, h.Dropped())
}
