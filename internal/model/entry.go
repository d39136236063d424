package model

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Layouts of the persisted date and time fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("invalid entry")

// Category names one of the two fixed taxonomies.
type Category string

const (
	CategoryClients Category = "clients"
	CategoryFamily  Category = "family"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryClients, CategoryFamily}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	return c == CategoryClients || c == CategoryFamily
}

// Label returns the human-readable category name.
func (c Category) Label() string {
	switch c {
	case CategoryClients:
		return "Clients"
	case CategoryFamily:
		return "Family"
	default:
		return string(c)
	}
}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q (want clients or family)", s)
	}
	return c, nil
}

// Entry represents a single work-log record. ID is the store key and is
// never part of the persisted record.
type Entry struct {
	ID              string   `json:"id,omitempty" validate:"-"`
	Date            string   `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string   `json:"time" validate:"required,datetime=15:04"`
	Category        Category `json:"category" validate:"required,oneof=clients family"`
	CategoryItem    string   `json:"categoryItem"`
	ArticleQuantity int      `json:"articleQuantity" validate:"gte=0"`
	Comments        string   `json:"comments"`
}

// NewDraft returns the default values of a new entry form at now.
func NewDraft(now time.Time) Entry {
	return Entry{
		Date:     now.Format(DateLayout),
		Time:     now.Format(TimeLayout),
		Category: CategoryClients,
	}
}

// Fields returns the record as it is written to the store.
func (e Entry) Fields() map[string]any {
	return map[string]any{
		"date":            e.Date,
		"time":            e.Time,
		"category":        string(e.Category),
		"categoryItem":    e.CategoryItem,
		"articleQuantity": e.ArticleQuantity,
		"comments":        e.Comments,
	}
}

// Day parses the entry date in loc. Malformed dates yield the zero time.
func (e Entry) Day(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout, e.Date, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the persisted fields of e.
func (e Entry) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "datetime":
		return fmt.Sprintf("%s %q does not match %s", fe.Field(), fe.Value(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

// SortHistory returns a copy of entries ordered newest first.
func SortHistory(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.ID > b.ID
	})
	return out
}
