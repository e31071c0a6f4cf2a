package watch

import (
	"bufio"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/codemig/internal/events"
)

func feedFrom(t *testing.T, publish func(h *events.Hub)) []events.Event {
	t.Helper()
	h := events.NewHub(64)
	publish(h)
	return h.SnapshotSince(0)
}

func TestModelTracksUnits(t *testing.T) {
	evs := feedFrom(t, func(h *events.Hub) {
		h.Publish(events.BatchStarted, events.BatchPayload{BatchID: "b1", Variant: "rag", Total: 2, Concurrency: 2})
		h.Publish(events.UnitStarted, events.UnitPayload{BatchID: "b1", RepoID: "a/b"})
		h.Publish(events.UnitAcquired, events.UnitPayload{BatchID: "b1", RepoID: "a/b"})
		h.Publish(events.UnitRound, events.UnitPayload{BatchID: "b1", RepoID: "a/b", Round: 3, MaxRounds: 80})
		h.Publish(events.UnitStarted, events.UnitPayload{BatchID: "b1", RepoID: "c/d"})
		h.Publish(events.UnitFailed, events.UnitPayload{BatchID: "b1", RepoID: "c/d", Error: "clone: not found"})
	})

	var tm tea.Model = NewLocal(nil, false)
	for _, ev := range evs {
		tm, _ = tm.Update(eventMsg(ev))
	}
	m := tm.(Model)

	assert.Equal(t, "b1", m.Batch().ID)
	assert.Equal(t, 2, m.Batch().Total)
	require.Contains(t, m.Units(), "a/b")
	assert.Equal(t, phaseRunning, m.Units()["a/b"].Phase)
	assert.Equal(t, 3, m.Units()["a/b"].Round)
	assert.Equal(t, phaseFailed, m.Units()["c/d"].Phase)
	assert.Equal(t, "clone: not found", m.Units()["c/d"].Error)

	tm, _ = tm.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := tm.View()
	assert.Contains(t, view, "a/b")
	assert.Contains(t, view, "3/80")
	assert.Contains(t, view, "EVENT STREAM")
}

func TestModelQuitsWhenBatchCompletes(t *testing.T) {
	evs := feedFrom(t, func(h *events.Hub) {
		h.Publish(events.BatchStarted, events.BatchPayload{BatchID: "b1", Total: 1})
		h.Publish(events.UnitCompleted, events.UnitPayload{BatchID: "b1", RepoID: "a/b", State: "CONVERGED", MaxVerdict: "pass", MinVerdict: "fail"})
		h.Publish(events.BatchCompleted, events.BatchPayload{BatchID: "b1", Completed: 1})
	})

	var tm tea.Model = NewLocal(nil, true)
	var cmd tea.Cmd
	for _, ev := range evs {
		tm, cmd = tm.Update(eventMsg(ev))
	}
	require.NotNil(t, cmd)
	_, quit := cmd().(tea.QuitMsg)
	assert.True(t, quit)

	m := tm.(Model)
	assert.True(t, m.Batch().Done)
	assert.Equal(t, "pass", m.Units()["a/b"].MaxVerdict)
}

func TestReceiveNextEventClosedFeed(t *testing.T) {
	ch := make(chan events.Event)
	close(ch)
	_, ok := receiveNextEvent(ch)().(feedClosedMsg)
	assert.True(t, ok)
}

func TestParseSSE(t *testing.T) {
	stream := "id: 7\nevent: unit.round\ndata: {\"repo_id\":\"a/b\"}\n\n: keep-alive\n\nid: 8\nevent: batch.completed\ndata: {}\n\n"

	var got []events.Event
	for ev := range ParseSSE(bufio.NewScanner(strings.NewReader(stream))) {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.UnitRound, got[0].Type)
	assert.JSONEq(t, `{"repo_id":"a/b"}`, string(got[0].Data))
	assert.Equal(t, events.BatchCompleted, got[1].Type)
}
