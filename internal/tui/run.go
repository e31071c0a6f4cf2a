package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/codemig/internal/events"
	"github.com/mattjoyce/codemig/internal/tui/watch"
)

// WatchLocal shows live progress for a batch running in this process. The
// subscription must be taken before the batch starts so batch.started is
// seen. It returns when the batch completes, the user quits, or ctx ends;
// completed reports whether the view saw batch.completed.
func WatchLocal(ctx context.Context, feed <-chan events.Event) (completed bool, err error) {
	final, err := run(ctx, watch.NewLocal(feed, true))
	if m, ok := final.(watch.Model); ok {
		completed = m.Batch().Done
	}
	return completed, err
}

// WatchRemote follows the event stream of a `codemig serve` instance.
func WatchRemote(ctx context.Context, apiURL, token string) error {
	_, err := run(ctx, watch.NewRemote(ctx, apiURL, token))
	return err
}

func run(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return final, fmt.Errorf("watch: %w", err)
	}
	return final, nil
}
