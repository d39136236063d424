package worklog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tiliavir/trivial-work-log/internal/model"
)

// View is one of the three screens of the work log.
type View string

const (
	ViewNewEntry   View = "newEntry"
	ViewHistory    View = "history"
	ViewCategories View = "categories"
)

// Views lists every view in tab order.
var Views = []View{ViewNewEntry, ViewHistory, ViewCategories}

// Label returns the tab title of v.
func (v View) Label() string {
	switch v {
	case ViewNewEntry:
		return "New entry"
	case ViewHistory:
		return "History"
	case ViewCategories:
		return "Categories"
	default:
		return string(v)
	}
}

func (v View) valid() bool {
	return v == ViewNewEntry || v == ViewHistory || v == ViewCategories
}

// CategoryForm is the pending input of the categories view.
type CategoryForm struct {
	Type model.Category
	Name string
}

// Editor holds the active view, the entry draft and the category form.
// Drafts only reset after the store accepted the write.
type Editor struct {
	svc *Service
	now func() time.Time

	mu      sync.Mutex
	view    View
	draft   model.Entry
	editID  string
	form    CategoryForm
	lastErr error
}

// NewEditor returns an editor on the new entry view. A nil now uses
// time.Now.
func NewEditor(svc *Service, now func() time.Time) *Editor {
	if now == nil {
		now = time.Now
	}
	return &Editor{
		svc:   svc,
		now:   now,
		view:  ViewNewEntry,
		draft: model.NewDraft(now()),
		form:  CategoryForm{Type: model.CategoryClients},
	}
}

// View returns the active view.
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Select switches to v.
func (e *Editor) Select(v View) error {
	if !v.valid() {
		return fmt.Errorf("unknown view %q", v)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view = v
	return nil
}

// Draft returns the entry being edited.
func (e *Editor) Draft() model.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Editing returns the id of the entry being edited, if any.
func (e *Editor) Editing() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editID, e.editID != ""
}

// LastError returns the failure of the last submit, nil after a success.
func (e *Editor) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Edit loads entry into the draft and switches to the new entry view.
func (e *Editor) Edit(entry model.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.editID = entry.ID
	entry.ID = ""
	e.draft = entry
	e.lastErr = nil
	e.view = ViewNewEntry
}

// Reset discards the draft and any edit in progress.
func (e *Editor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Editor) resetLocked() {
	e.draft = model.NewDraft(e.now())
	e.editID = ""
	e.lastErr = nil
}

func (e *Editor) SetDate(date string) {
	e.mu.Lock()
	e.draft.Date = date
	e.mu.Unlock()
}

func (e *Editor) SetTime(t string) {
	e.mu.Lock()
	e.draft.Time = t
	e.mu.Unlock()
}

// SetCategory changes the draft category and clears its item.
func (e *Editor) SetCategory(c model.Category) error {
	if !c.IsValid() {
		return fmt.Errorf("unknown category %q", c)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draft.Category != c {
		e.draft.Category = c
		e.draft.CategoryItem = ""
	}
	return nil
}

// SelectItem sets the draft item. Non-empty names must belong to the current
// taxonomy of the draft category.
func (e *Editor) SelectItem(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name != "" && !e.svc.State().Taxonomy.Items(e.draft.Category).Has(name) {
		return fmt.Errorf("%q is not a %s item", name, e.draft.Category.Label())
	}
	e.draft.CategoryItem = name
	return nil
}

func (e *Editor) SetQuantity(n int) error {
	if n < 0 {
		return fmt.Errorf("quantity must be >= 0, got %d", n)
	}
	e.mu.Lock()
	e.draft.ArticleQuantity = n
	e.mu.Unlock()
	return nil
}

func (e *Editor) SetComments(s string) {
	e.mu.Lock()
	e.draft.Comments = s
	e.mu.Unlock()
}

// Submit writes the draft, adding a new entry or updating the edited one.
// On success the draft resets and the view switches to history. On failure
// nothing changes and the error is kept for LastError. Without a bound
// identity Submit does nothing, like every write, and the draft is kept.
func (e *Editor) Submit(ctx context.Context) error {
	e.mu.Lock()
	draft := e.draft
	draft.ID = e.editID
	e.mu.Unlock()

	var (
		written bool
		err     error
	)
	if draft.ID != "" {
		written, err = e.svc.updateEntry(ctx, draft)
	} else {
		_, written, err = e.svc.addEntry(ctx, draft)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastErr = err
		return err
	}
	if !written {
		return nil
	}
	e.resetLocked()
	e.view = ViewHistory
	return nil
}

// Form returns the category form.
func (e *Editor) Form() CategoryForm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// SetForm replaces the category form input.
func (e *Editor) SetForm(f CategoryForm) error {
	if !f.Type.IsValid() {
		return fmt.Errorf("unknown category %q", f.Type)
	}
	e.mu.Lock()
	e.form = f
	e.mu.Unlock()
	return nil
}

// SubmitCategory adds the form name to the form type. The name is cleared
// only when it was added.
func (e *Editor) SubmitCategory(ctx context.Context) (bool, error) {
	f := e.Form()
	added, err := e.svc.AddCategory(ctx, f.Type, f.Name)
	if err != nil || !added {
		return added, err
	}
	e.mu.Lock()
	if e.form == f {
		e.form.Name = ""
	}
	e.mu.Unlock()
	return true, nil
}

// DeleteCategory removes name from c.
func (e *Editor) DeleteCategory(ctx context.Context, c model.Category, name string) (bool, error) {
	return e.svc.DeleteCategory(ctx, c, name)
}
