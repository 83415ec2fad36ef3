package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arpa-simc/provami/internal/database"
	"github.com/arpa-simc/provami/internal/dballe"
)

func seedFile(t *testing.T) string {
	t.Helper()
	url := "sqlite:" + filepath.Join(t.TempDir(), "obs.sqlite")
	db, err := database.Connect(url, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i, rep := range []string{"synop", "temp"} {
		err := db.Transaction(ctx, func(tx dballe.Transaction) error {
			return tx.InsertData(ctx, dballe.DataRecord{
				Station:  dballe.StationKey{Report: rep, Lat: 44.5 + float64(i), Lon: 11.3},
				Level:    dballe.NewLevel(1),
				Trange:   dballe.NewTrange(254, 0, 0),
				Datetime: time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC),
				Vars:     []dballe.Var{{Code: "B12101", Value: 280.15 + float64(i)}},
			}, false, true)
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", rep, err)
		}
	}
	return url
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "provami "+Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestExportCommand(t *testing.T) {
	url := seedFile(t)

	tests := []struct {
		name      string
		args      []string
		wantLines int
		wantErr   bool
	}{
		{"all data", []string{"export", url}, 3, false},
		{"filtered by report", []string{"export", "--db", url, "-f", "rep_memo=synop"}, 2, false},
		{"filtered by level", []string{"export", url, "-f", "level=[1,null,null,null]", "-f", "rep_memo=temp"}, 2, false},
		{"nothing selected", []string{"export", url, "-f", "rep_memo=metar"}, 0, false},
		{"bad format", []string{"export", url, "--format", "grib"}, 0, true},
		{"bad filter value", []string{"export", url, "-f", "latmin=north"}, 0, true},
		{"malformed filter", []string{"export", url, "-f", "rep_memo"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			lines := strings.Count(out, "\n")
			if lines != tt.wantLines {
				t.Errorf("got %d lines, want %d:\n%s", lines, tt.wantLines, out)
			}
		})
	}
}

func TestExportToFile(t *testing.T) {
	url := seedFile(t)
	path := filepath.Join(t.TempDir(), "out.bufr")
	if _, err := execute(t, "export", url, "--format", "BUFR", "-o", path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("BUFR")) || !bytes.HasSuffix(data, []byte("7777")) {
		t.Errorf("not a BUFR message: %q...", data[:min(len(data), 16)])
	}
}

func TestParseFilterArgs(t *testing.T) {
	got, err := parseFilterArgs([]string{"rep_memo=synop", " var = B12101 ", "trange=[254,0,0]", "datemin=2020-01-01 00:00:00"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"rep_memo": `"synop"`,
		"var":      `"B12101"`,
		"trange":   `[254,0,0]`,
		"datemin":  `"2020-01-01 00:00:00"`,
	}
	for k, v := range want {
		if string(got[k]) != v {
			t.Errorf("%s = %s, want %s", k, got[k], v)
		}
	}

	for _, bad := range []string{"nokey", "=x", "level=[1,"} {
		if _, err := parseFilterArgs([]string{bad}); err == nil {
			t.Errorf("parseFilterArgs(%q) expected an error", bad)
		}
	}
}

func TestSummaryCommand(t *testing.T) {
	url := seedFile(t)

	out, err := execute(t, "summary", url)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"2020-01-01 12:00:00", "2 selected, 0 disabled", "synop", "temp", "B12101"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "summary", url, "-f", "rep_memo=synop", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var view struct {
		Stations         []json.RawMessage `json:"stations"`
		StationsDisabled []json.RawMessage `json:"stations_disabled"`
		FilterCmdline    string            `json:"filter_cmdline"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if len(view.Stations) != 1 || len(view.StationsDisabled) != 1 {
		t.Errorf("stations = %d selected, %d disabled", len(view.Stations), len(view.StationsDisabled))
	}
	if view.FilterCmdline != "rep_memo=synop" {
		t.Errorf("filter_cmdline = %q", view.FilterCmdline)
	}
}
