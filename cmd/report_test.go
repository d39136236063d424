package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/timecalc"
)

func TestBuildReport(t *testing.T) {
	entries := []model.Entry{
		{ID: "1", Date: "2024-05-06", Category: model.CategoryFamily, CategoryItem: "Grandma", ArticleQuantity: 1},
		{ID: "2", Date: "2024-05-06", Category: model.CategoryClients, CategoryItem: "Globex", ArticleQuantity: 2},
		{ID: "3", Date: "2024-05-07", Category: model.CategoryClients, CategoryItem: "Acme", ArticleQuantity: 4},
		{ID: "4", Date: "2024-05-08", Category: model.CategoryClients, CategoryItem: "Acme", ArticleQuantity: 1},
		{ID: "5", Date: "2024-05-08", Category: model.CategoryClients, ArticleQuantity: 5},
		{ID: "6", Date: "2024-04-30", Category: model.CategoryClients, CategoryItem: "Acme", ArticleQuantity: 100},
	}

	got := buildReport(timecalc.DateRange{From: "2024-05-06", To: "2024-05-12"}, entries)
	want := report{
		Range: "2024-05-06 – 2024-05-12",
		Rows: []reportRow{
			{Category: model.CategoryClients, Item: "", Quantity: 5, Entries: 1},
			{Category: model.CategoryClients, Item: "Acme", Quantity: 5, Entries: 2},
			{Category: model.CategoryClients, Item: "Globex", Quantity: 2, Entries: 1},
			{Category: model.CategoryFamily, Item: "Grandma", Quantity: 1, Entries: 1},
		},
		Total:   13,
		Entries: 5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buildReport mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReportEmpty(t *testing.T) {
	got := buildReport(timecalc.DateRange{}, nil)
	if got.Range != "all time" || len(got.Rows) != 0 || got.Total != 0 {
		t.Errorf("buildReport(nil) = %+v", got)
	}
	if got.Rows == nil {
		t.Error("rows must encode as [] rather than null")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{
		Range:   "2024-05-06",
		Rows:    []reportRow{{Category: model.CategoryClients, Quantity: 2, Entries: 1}},
		Total:   2,
		Entries: 1,
	})
	out := buf.String()
	for _, want := range []string{"Report 2024-05-06", "Clients", "(no item)", "Total"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestSelectRange(t *testing.T) {
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC) // Wednesday
	tests := []struct {
		name        string
		today, week bool
		want        timecalc.DateRange
	}{
		{"all", false, false, timecalc.DateRange{}},
		{"today", true, false, timecalc.DateRange{From: "2024-05-08", To: "2024-05-08"}},
		{"week", false, true, timecalc.DateRange{From: "2024-05-06", To: "2024-05-12"}},
		{"week wins", true, true, timecalc.DateRange{From: "2024-05-06", To: "2024-05-12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectRange(now, tt.today, tt.week); got != tt.want {
				t.Errorf("selectRange() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckItem(t *testing.T) {
	tax := model.Taxonomy{Clients: model.NameSet{"Acme"}, Family: model.NameSet{}}
	if err := checkItem(tax, model.CategoryClients, "Acme"); err != nil {
		t.Errorf("known item: %v", err)
	}
	if err := checkItem(tax, model.CategoryClients, ""); err != nil {
		t.Errorf("empty item: %v", err)
	}
	err := checkItem(tax, model.CategoryFamily, "Acme")
	if err == nil || !strings.Contains(err.Error(), "twl categories add family") {
		t.Errorf("missing item error = %v", err)
	}
}
