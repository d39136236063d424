package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Tiliavir/trivial-work-log/internal/model"
	"github.com/Tiliavir/trivial-work-log/internal/worklog"
)

// sandbox points HOME, the working directory and the data directory at temp
// dirs and resets the persistent flags.
func sandbox(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "TWL_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	t.Setenv("TWL_DATA_DIR", t.TempDir())
	flagConfig, flagBackend, flagLayout, flagLogLevel = "", "", "", ""
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	sandbox(t)
	flagBackend = "sqlite"
	flagLayout = "shared"
	flagLogLevel = "debug"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Backend != "sqlite" || cfg.Layout != "shared" || cfg.LogLevel != "debug" {
		t.Errorf("flags not applied: %+v", cfg)
	}

	flagBackend = "mongo"
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig with unknown backend = nil, want error")
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetOut(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("twl %s: %v", strings.Join(args, " "), err)
	}
	return buf.String()
}

func TestCommandsShareFileBackend(t *testing.T) {
	sandbox(t)

	if out := run(t, "--backend", "file", "categories", "add", "clients", "Acme"); !strings.Contains(out, `Added "Acme" to Clients`) {
		t.Fatalf("categories add: %q", out)
	}
	out := run(t, "--backend", "file", "add", "--item", "Acme", "--quantity", "3", "--comment", "first", "--date", "2024-05-06", "--time", "09:30")
	if !strings.HasPrefix(out, "Added ") {
		t.Fatalf("add: %q", out)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Added "))

	out = run(t, "--backend", "file", "list")
	for _, want := range []string{"Mon, 06 May 2024", "09:30", "Acme", "first", "[" + id + "]"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}

	out = run(t, "--backend", "file", "report", "--format", "csv")
	if !strings.Contains(out, "clients,Acme,3,1") {
		t.Errorf("report:\n%s", out)
	}
}

func TestRenderWatch(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	st := worklog.State{Entries: []model.Entry{
		{ID: "a", Date: "2024-05-05", Time: "10:00", Category: model.CategoryClients},
		{ID: "b", Date: "2024-05-06", Time: "10:00", Category: model.CategoryClients},
	}}
	renderWatch(&buf, st, now, false)
	out := buf.String()
	if strings.Contains(out, "\033[2J") {
		t.Error("screen cleared without a terminal")
	}
	if !strings.Contains(out, "2 entries · updated 12:00:00") {
		t.Errorf("header missing:\n%s", out)
	}
	if strings.Index(out, "[b]") > strings.Index(out, "[a]") {
		t.Errorf("newest entry not first:\n%s", out)
	}

	buf.Reset()
	renderWatch(&buf, st, now, true)
	if !strings.HasPrefix(buf.String(), "\033[H\033[2J") {
		t.Error("terminal frame not cleared")
	}
}
