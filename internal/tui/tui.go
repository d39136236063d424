// Package tui is the interactive work log: a new entry form, the history
// and the category lists, kept current by the data sync service.
package tui

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	textinput "github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

// Fields of the new entry form, top to bottom.
const (
	fieldDate = iota
	fieldTime
	fieldCategory
	fieldItem
	fieldQuantity
	fieldComments
	fieldCount
)

var fieldLabels = [fieldCount]string{"Date", "Time", "Category", "Item", "Quantity", "Comments"}

const crashText = "Something went wrong while drawing the work log.\n\n" +
	"Your saved entries are safe. Press r to reload or q to quit."

// Model is the bubbletea model of the work log.
type Model struct {
	ctx context.Context
	svc *worklog.Service
	ed  *worklog.Editor
	log *logging.Logger

	updates   <-chan worklog.State
	stopWatch context.CancelFunc
	state     worklog.State

	width  int
	height int

	field  int // Focused field of the new entry form
	inputs [fieldCount]textinput.Model

	historyCursor int
	confirmDelete bool

	categoryCursor int
	nameInput      textinput.Model

	status    string
	statusErr bool

	crashed bool
}

// New returns the model on the new entry view.
func New(ctx context.Context, svc *worklog.Service, logger *logging.Logger) Model {
	if logger == nil {
		logger = logging.Nop()
	}
	m := Model{ctx: ctx, svc: svc, log: logger.WithComponent("tui")}
	m.reload()
	return m
}

// Run shows the work log until the user quits or ctx is done.
func Run(ctx context.Context, svc *worklog.Service, logger *logging.Logger) error {
	p := tea.NewProgram(New(ctx, svc, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if fm, ok := final.(Model); ok && fm.stopWatch != nil {
		fm.stopWatch()
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// reload rebuilds every piece of UI state from the service. Unsaved input
// is dropped.
func (m *Model) reload() {
	if m.stopWatch != nil {
		m.stopWatch()
	}
	watchCtx, stop := context.WithCancel(m.ctx)
	m.updates = m.svc.Watch(watchCtx)
	m.stopWatch = stop
	m.state = m.svc.State()
	m.ed = worklog.NewEditor(m.svc, nil)

	for i := range m.inputs {
		if isText(i) {
			in := textinput.New()
			in.Prompt = ""
			in.CharLimit = 256
			m.inputs[i] = in
		}
	}
	m.inputs[fieldDate].Placeholder = "YYYY-MM-DD"
	m.inputs[fieldTime].Placeholder = "HH:MM"
	m.inputs[fieldQuantity].Placeholder = "0"
	m.inputs[fieldComments].Placeholder = "optional"

	m.nameInput = textinput.New()
	m.nameInput.Placeholder = "New item name"
	m.nameInput.CharLimit = 128

	m.field = fieldDate
	m.historyCursor, m.categoryCursor = 0, 0
	m.confirmDelete = false
	m.crashed = false
	m.loadDraft()
	m.focusView()
}

func isText(field int) bool {
	return field != fieldCategory && field != fieldItem
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForState(m.updates), textinput.Blink)
}

// Update is the fault boundary of the UI: a panic while handling msg is
// logged and the view is replaced by a failure notice until reloaded.
func (m Model) Update(msg tea.Msg) (result tea.Model, cmd tea.Cmd) {
	if m.crashed {
		return m.updateCrashed(msg)
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("ui update panicked", "panic", r, "stack", string(debug.Stack()))
			m.crashed = true
			result, cmd = m, nil
		}
	}()
	return m.update(msg)
}

func (m Model) updateCrashed(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			m.reload()
			m.setStatus("Reloaded")
			return m, waitForState(m.updates)
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case stateMsg:
		if msg.ch != m.updates {
			return m, nil
		}
		m.state = msg.state
		m.clampCursors()
		return m, waitForState(m.updates)

	case watchClosedMsg:
		if msg.ch != m.updates {
			return m, nil
		}
		return m, tea.Quit

	case submitMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		if _, ok := m.svc.Identity(); !ok {
			m.setError(errors.New("not signed in yet, the entry was kept"))
			return m, nil
		}
		m.setStatus("Entry saved")
		m.loadDraft()
		m.focusView()
		return m, nil

	case deleteMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.setStatus("Entry deleted")
		return m, nil

	case categoryMsg:
		switch {
		case msg.err != nil:
			m.setError(msg.err)
		case msg.changed:
			m.setStatus(fmt.Sprintf("%q %s", msg.name, msg.op))
			m.nameInput.SetValue(m.ed.Form().Name)
		default:
			m.setStatus("Nothing changed")
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Cursor blinks and other input internals.
	return m.updateFocusedInput(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		return m.selectView(1)
	case "shift+tab":
		return m.selectView(-1)
	}

	switch m.ed.View() {
	case worklog.ViewHistory:
		return m.keyHistory(msg)
	case worklog.ViewCategories:
		return m.keyCategories(msg)
	default:
		return m.keyNewEntry(msg)
	}
}

func (m Model) selectView(step int) (tea.Model, tea.Cmd) {
	views := worklog.Views
	i := indexOf(views, m.ed.View())
	next := views[(i+step+len(views))%len(views)]
	if err := m.ed.Select(next); err != nil {
		m.setError(err)
		return m, nil
	}
	m.confirmDelete = false
	m.focusView()
	return m, nil
}

func (m Model) keyNewEntry(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up":
		m.field = (m.field + fieldCount - 1) % fieldCount
		m.focusView()
		return m, nil
	case "down":
		m.field = (m.field + 1) % fieldCount
		m.focusView()
		return m, nil
	case "enter":
		if err := m.syncDraft(); err != nil {
			m.setError(err)
			return m, nil
		}
		return m, submitDraft(m.ctx, m.ed)
	case "esc":
		m.ed.Reset()
		m.loadDraft()
		m.setStatus("Draft cleared")
		return m, nil
	case "left", "right":
		step := 1
		if msg.String() == "left" {
			step = -1
		}
		switch m.field {
		case fieldCategory:
			m.cycleCategory(step)
			return m, nil
		case fieldItem:
			m.cycleItem(step)
			return m, nil
		}
	}

	if !isText(m.field) {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.field], cmd = m.inputs[m.field].Update(msg)
	// Errors are shown again on enter; typing goes on.
	_ = m.syncDraft()
	return m, cmd
}

func (m *Model) cycleCategory(step int) {
	cats := model.Categories
	i := indexOf(cats, m.ed.Draft().Category)
	if err := m.ed.SetCategory(cats[(i+step+len(cats))%len(cats)]); err != nil {
		m.setError(err)
	}
}

// cycleItem steps through the items of the draft category. The first
// option is no item.
func (m *Model) cycleItem(step int) {
	draft := m.ed.Draft()
	options := append([]string{""}, m.state.Taxonomy.Items(draft.Category)...)
	i := indexOf(options, draft.CategoryItem)
	if i < 0 {
		i = 0
	}
	if err := m.ed.SelectItem(options[(i+step+len(options))%len(options)]); err != nil {
		m.setError(err)
	}
}

// syncDraft copies the text inputs into the editor draft.
func (m *Model) syncDraft() error {
	m.ed.SetDate(strings.TrimSpace(m.inputs[fieldDate].Value()))
	m.ed.SetTime(strings.TrimSpace(m.inputs[fieldTime].Value()))
	m.ed.SetComments(m.inputs[fieldComments].Value())

	raw := strings.TrimSpace(m.inputs[fieldQuantity].Value())
	n := 0
	if raw != "" {
		var err error
		if n, err = strconv.Atoi(raw); err != nil {
			return fmt.Errorf("quantity %q is not a number", raw)
		}
	}
	return m.ed.SetQuantity(n)
}

// loadDraft copies the editor draft into the text inputs.
func (m *Model) loadDraft() {
	d := m.ed.Draft()
	m.inputs[fieldDate].SetValue(d.Date)
	m.inputs[fieldTime].SetValue(d.Time)
	m.inputs[fieldQuantity].SetValue(strconv.Itoa(d.ArticleQuantity))
	m.inputs[fieldComments].SetValue(d.Comments)
}

func (m Model) keyHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.history()
	selected, ok := m.selectedEntry(entries)

	if m.confirmDelete {
		switch msg.String() {
		case "y", "enter":
			m.confirmDelete = false
			if ok {
				return m, deleteEntry(m.ctx, m.svc, selected.ID)
			}
		case "n", "esc":
			m.confirmDelete = false
		}
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.historyCursor > 0 {
			m.historyCursor--
		}
	case "down", "j":
		if m.historyCursor < len(entries)-1 {
			m.historyCursor++
		}
	case "enter", "e":
		if ok {
			m.ed.Edit(selected)
			m.loadDraft()
			m.field = fieldDate
			m.focusView()
			m.setStatus("Editing entry " + selected.ID)
		}
	case "d", "delete":
		if ok {
			m.confirmDelete = true
		}
	}
	return m, nil
}

func (m Model) keyCategories(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	form := m.ed.Form()
	items := m.state.Taxonomy.Items(form.Type)

	switch msg.String() {
	case "left", "right":
		step := 1
		if msg.String() == "left" {
			step = -1
		}
		cats := model.Categories
		next := cats[(indexOf(cats, form.Type)+step+len(cats))%len(cats)]
		if err := m.ed.SetForm(worklog.CategoryForm{Type: next, Name: m.nameInput.Value()}); err != nil {
			m.setError(err)
		}
		m.categoryCursor = 0
		return m, nil
	case "up":
		if m.categoryCursor > 0 {
			m.categoryCursor--
		}
		return m, nil
	case "down":
		if m.categoryCursor < len(items)-1 {
			m.categoryCursor++
		}
		return m, nil
	case "enter":
		if err := m.ed.SetForm(worklog.CategoryForm{Type: form.Type, Name: m.nameInput.Value()}); err != nil {
			m.setError(err)
			return m, nil
		}
		return m, submitCategory(m.ctx, m.ed)
	case "ctrl+d":
		if m.categoryCursor < len(items) {
			return m, deleteCategory(m.ctx, m.ed, form.Type, items[m.categoryCursor])
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	if err := m.ed.SetForm(worklog.CategoryForm{Type: form.Type, Name: m.nameInput.Value()}); err != nil {
		m.setError(err)
	}
	return m, cmd
}

func (m Model) updateFocusedInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.ed.View() {
	case worklog.ViewNewEntry:
		if isText(m.field) {
			m.inputs[m.field], cmd = m.inputs[m.field].Update(msg)
		}
	case worklog.ViewCategories:
		m.nameInput, cmd = m.nameInput.Update(msg)
	}
	return m, cmd
}

// focusView gives keyboard focus to the input of the active view.
func (m *Model) focusView() {
	for i := range m.inputs {
		if isText(i) {
			m.inputs[i].Blur()
		}
	}
	m.nameInput.Blur()

	switch m.ed.View() {
	case worklog.ViewNewEntry:
		if isText(m.field) {
			m.inputs[m.field].Focus()
		}
	case worklog.ViewCategories:
		m.nameInput.Focus()
	}
}

func (m *Model) clampCursors() {
	m.historyCursor = clamp(m.historyCursor, len(m.state.Entries))
	m.categoryCursor = clamp(m.categoryCursor, len(m.state.Taxonomy.Items(m.ed.Form().Type)))
	if len(m.state.Entries) == 0 {
		m.confirmDelete = false
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (m *Model) setStatus(s string) {
	m.status, m.statusErr = s, false
}

func (m *Model) setError(err error) {
	m.status, m.statusErr = err.Error(), true
}

func (m Model) history() []model.Entry {
	return model.SortHistory(m.state.Entries)
}

func (m Model) selectedEntry(entries []model.Entry) (model.Entry, bool) {
	if m.historyCursor < 0 || m.historyCursor >= len(entries) {
		return model.Entry{}, false
	}
	return entries[m.historyCursor], true
}

func indexOf[T comparable](list []T, v T) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

// View renders the active view. A panic while rendering shows the failure
// notice instead.
func (m Model) View() (out string) {
	if m.crashed {
		return panelStyle.Render(dangerStyle.Render(crashText))
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("ui view panicked", "panic", r, "stack", string(debug.Stack()))
			out = panelStyle.Render(dangerStyle.Render(crashText))
		}
	}()
	return m.view()
}

func (m Model) view() string {
	var b strings.Builder

	who := "signing in…"
	if id, ok := m.svc.Identity(); ok {
		who = "signed in as " + shortID(id.UID)
	}
	b.WriteString(titleStyle.Render("twl") + "  " + footerStyle.Render(who) + "\n\n")

	tabs := make([]string, 0, len(worklog.Views))
	for _, v := range worklog.Views {
		if v == m.ed.View() {
			tabs = append(tabs, activeTabStyle.Render(v.Label()))
		} else {
			tabs = append(tabs, tabStyle.Render(v.Label()))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n")

	var body, help string
	switch m.ed.View() {
	case worklog.ViewHistory:
		body = m.viewHistory()
		help = "↑/↓ select • enter edit • d delete • tab switch view • q quit"
	case worklog.ViewCategories:
		body = m.viewCategories()
		help = "←/→ category • ↑/↓ select • enter add • ctrl+d delete • tab switch view"
	default:
		body = m.viewNewEntry()
		help = "↑/↓ field • ←/→ choose • enter save • esc clear • tab switch view"
	}
	if !m.state.Synced() {
		body = footerStyle.Render("Loading…") + "\n\n" + body
	}
	b.WriteString(panelStyle.Render(body) + "\n")

	if m.status != "" {
		if m.statusErr {
			b.WriteString(dangerStyle.Render(m.status))
		} else {
			b.WriteString(okStyle.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(footerStyle.Render(help))
	return b.String()
}

func (m Model) viewNewEntry() string {
	var b strings.Builder
	title := "New entry"
	if id, ok := m.ed.Editing(); ok {
		title = "Edit entry " + id
	}
	b.WriteString(labelStyle.Bold(true).Render(title) + "\n\n")

	draft := m.ed.Draft()
	for i := 0; i < fieldCount; i++ {
		var value string
		switch i {
		case fieldCategory:
			value = "< " + draft.Category.Label() + " >"
		case fieldItem:
			item := draft.CategoryItem
			if item == "" {
				item = "(none)"
			}
			if len(m.state.Taxonomy.Items(draft.Category)) == 0 {
				item += "  " + footerStyle.Render("add items in Categories")
			}
			value = "< " + item + " >"
		default:
			value = m.inputs[i].View()
		}
		label := labelStyle.Render(fmt.Sprintf("%-10s", fieldLabels[i]))
		b.WriteString(pointer(i == m.field) + label + value + "\n")
	}
	return b.String()
}

func (m Model) viewHistory() string {
	entries := m.history()
	if len(entries) == 0 {
		return textStyle.Render("No entries yet.")
	}

	var b strings.Builder
	var currentDay string
	for i, e := range entries {
		if e.Date != currentDay {
			if currentDay != "" {
				b.WriteString("\n")
			}
			b.WriteString(labelStyle.Render(timecalc.DayLabel(e.Date)) + "\n")
			currentDay = e.Date
		}
		item := e.CategoryItem
		if item == "" {
			item = "–"
		}
		line := fmt.Sprintf("%s  %-8s %-20s %4d  %s", e.Time, e.Category.Label(), item, e.ArticleQuantity, e.Comments)
		if i == m.historyCursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(pointer(i == m.historyCursor) + line + "\n")
	}
	if m.confirmDelete {
		b.WriteString("\n" + dangerStyle.Render("Delete the selected entry? y/n"))
	}
	return b.String()
}

func (m Model) viewCategories() string {
	var b strings.Builder
	form := m.ed.Form()
	b.WriteString(labelStyle.Render("Category  ") + "< " + form.Type.Label() + " >\n\n")

	items := m.state.Taxonomy.Items(form.Type)
	if len(items) == 0 {
		b.WriteString(footerStyle.Render("  No items yet.") + "\n")
	}
	for i, name := range items {
		line := name
		if i == m.categoryCursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(pointer(i == m.categoryCursor) + line + "\n")
	}
	b.WriteString("\n" + labelStyle.Render("Add       ") + m.nameInput.View())
	return b.String()
}

func shortID(uid string) string {
	if len(uid) > 8 {
		return uid[:8] + "…"
	}
	return uid
}
