package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Tiliavir/trivial-work-log/internal/model"
)

func TestCsvEscape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"with space", "with space"},
		{"with,comma", `"with,comma"`},
		{`with"quote`, `"with""quote"`},
		{"with\nnewline", "\"with\nnewline\""},
		{"with\rreturn", "\"with\rreturn\""},
		{"", ""},
	}
	for _, tt := range tests {
		got := csvEscape(tt.input)
		if got != tt.want {
			t.Errorf("csvEscape(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPrintCSV(t *testing.T) {
	var buf bytes.Buffer
	printCSV(&buf, []model.Entry{{
		ID:              "k1",
		Date:            "2024-05-06",
		Time:            "09:00",
		Category:        model.CategoryClients,
		CategoryItem:    "Acme, Inc.",
		ArticleQuantity: 3,
		Comments:        `said "hi"`,
	}})
	want := "id,date,time,category,categoryItem,articleQuantity,comments\n" +
		`k1,2024-05-06,09:00,clients,"Acme, Inc.",3,"said ""hi"""` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("printCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestPrintListGroupsByDay(t *testing.T) {
	var buf bytes.Buffer
	printList(&buf, []model.Entry{
		{ID: "b", Date: "2024-05-07", Time: "10:00", Category: model.CategoryClients, CategoryItem: "Acme"},
		{ID: "a", Date: "2024-05-06", Time: "18:00", Category: model.CategoryFamily, Comments: "dinner"},
		{ID: "c", Date: "2024-05-06", Time: "08:00", Category: model.CategoryFamily},
	})
	out := buf.String()

	if got := strings.Count(out, "Tue, 07 May 2024"); got != 1 {
		t.Errorf("day heading 07 May printed %d times", got)
	}
	if got := strings.Count(out, "Mon, 06 May 2024"); got != 1 {
		t.Errorf("day heading 06 May printed %d times", got)
	}
	for _, want := range []string{"[a]", "[b]", "[c]", "dinner", "Acme", "–"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "07 May") > strings.Index(out, "06 May") {
		t.Errorf("days out of order:\n%s", out)
	}
}

func TestPrintListEmpty(t *testing.T) {
	var buf bytes.Buffer
	printList(&buf, nil)
	if got := buf.String(); got != "No entries found.\n" {
		t.Errorf("printList(nil) = %q", got)
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"csv", "json", "md"} {
		if err := checkFormat(f); err != nil {
			t.Errorf("checkFormat(%q) = %v", f, err)
		}
	}
	if err := checkFormat("xlsx"); err == nil {
		t.Error("checkFormat(xlsx) = nil, want error")
	}
}
