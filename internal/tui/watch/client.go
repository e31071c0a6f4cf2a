package watch

import (
	"bufio"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/codemig/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type tickMsg time.Time

type feedClosedMsg struct{}
type sseDisconnectedMsg struct{ err error }
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. It returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(ctx context.Context, apiURL, token string, lastID *int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiURL, "/")+"/events", nil)
		if err != nil {
			return sseDisconnectedMsg{err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if *lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(*lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{err: &statusError{code: resp.StatusCode}}
		}

		for ev := range ParseSSE(bufio.NewScanner(resp.Body)) {
			*lastID = ev.ID
			select {
			case ch <- ev:
			case <-ctx.Done():
				return feedClosedMsg{}
			}
		}
		return sseDisconnectedMsg{}
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "events endpoint returned " + strconv.Itoa(e.code) + " " + http.StatusText(e.code)
}

// ParseSSE yields the events framed in an SSE stream.
func ParseSSE(scanner *bufio.Scanner) func(yield func(events.Event) bool) {
	return func(yield func(events.Event) bool) {
		var (
			id       int64
			typ      string
			data     string
			haveData bool
		)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if haveData {
					if !yield(events.Event{ID: id, Type: typ, At: time.Now().UTC(), Data: []byte(data)}) {
						return
					}
				}
				id, typ, data, haveData = 0, "", "", false
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "id: "):
				if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					id = n
				}
			case strings.HasPrefix(line, "event: "):
				typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				data = line[6:]
				haveData = true
			}
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}
