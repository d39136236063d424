package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

// stateMsg carries a projection from the watch channel it was read from.
type stateMsg struct {
	ch    <-chan worklog.State
	state worklog.State
}

// watchClosedMsg reports that the service stopped delivering states.
type watchClosedMsg struct {
	ch <-chan worklog.State
}

type submitMsg struct{ err error }

type deleteMsg struct{ err error }

type categoryMsg struct {
	op      string
	name    string
	changed bool
	err     error
}

// waitForState reads the next projection from ch.
func waitForState(ch <-chan worklog.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return watchClosedMsg{ch: ch}
		}
		return stateMsg{ch: ch, state: st}
	}
}

func submitDraft(ctx context.Context, ed *worklog.Editor) tea.Cmd {
	return func() tea.Msg {
		return submitMsg{err: ed.Submit(ctx)}
	}
}

func deleteEntry(ctx context.Context, svc *worklog.Service, id string) tea.Cmd {
	return func() tea.Msg {
		return deleteMsg{err: svc.DeleteEntry(ctx, id)}
	}
}

func submitCategory(ctx context.Context, ed *worklog.Editor) tea.Cmd {
	name := ed.Form().Name
	return func() tea.Msg {
		added, err := ed.SubmitCategory(ctx)
		return categoryMsg{op: "added", name: name, changed: added, err: err}
	}
}

func deleteCategory(ctx context.Context, ed *worklog.Editor, c model.Category, name string) tea.Cmd {
	return func() tea.Msg {
		removed, err := ed.DeleteCategory(ctx, c, name)
		return categoryMsg{op: "removed", name: name, changed: removed, err: err}
	}
}
