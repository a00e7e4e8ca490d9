package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/recurrence"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRuleGolden(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name: "encode_weekly",
			args: []string{"rule", "encode", "--pattern", "weekly", "--days", "mon,wed,fri", "--until", "2025-01-24"},
		},
		{
			name: "encode_monthly_json",
			args: []string{"--format", "json", "rule", "encode", "--pattern", "monthly", "--interval", "2"},
		},
		{
			name: "expand_weekly",
			args: []string{"rule", "expand", "FREQ=WEEKLY;BYDAY=MO,WE,FR;UNTIL=20250124T000000Z", "--start", "2025-01-15T10:00:00Z"},
		},
		{
			name: "expand_month_end_json",
			args: []string{"--format", "json", "rule", "expand", "FREQ=MONTHLY",
				"--start", "2025-01-31T09:00:00Z", "--end", "2025-01-31T10:00:00Z", "--limit", "100"},
		},
		{
			name:    "expand_malformed",
			args:    []string{"rule", "expand", "INTERVAL=2", "--start", "2025-01-15T10:00:00Z"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			golden(t).Assert(t, tt.name, []byte(out))
		})
	}
}

func TestRuleEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad pattern", []string{"rule", "encode", "--pattern", "hourly"}},
		{"bad day", []string{"rule", "encode", "--pattern", "weekly", "--days", "funday"}},
		{"day out of range", []string{"rule", "encode", "--pattern", "weekly", "--days", "7"}},
		{"duplicate day", []string{"rule", "encode", "--pattern", "weekly", "--days", "mon,monday"}},
		{"bad until", []string{"rule", "encode", "--pattern", "daily", "--until", "31/01/2025"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E_INPUT]")
		})
	}
}

func TestRuleDecode(t *testing.T) {
	out, err := run(t, "rule", "decode", "FREQ=WEEKLY;BYDAY=TU,TH;UNTIL=20250301T000000Z;X-FOO=1", "--start", "2025-01-14T18:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "pattern:     weekly\n")
	assert.Contains(t, out, "interval:    1\n")
	assert.Contains(t, out, "days:        Tue, Thu\n")
	assert.Contains(t, out, "until:       2025-03-01\n")
	assert.Contains(t, out, "description: Every week on Tue, Thu until 2025-03-01\n")
	assert.Contains(t, out, "FREQ=WEEKLY")
	assert.Contains(t, out, "BYDAY=TU,TH")

	out, err = run(t, "--format", "json", "rule", "decode", "FREQ=DAILY;INTERVAL=3")
	require.NoError(t, err)
	var resp struct {
		Status string       `json:"status"`
		Data   DecodeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, recurrence.Spec{Pattern: recurrence.Daily, Interval: 3}, resp.Data.Spec)
	assert.Equal(t, "Every 3 days", resp.Data.Description)

	out, err = run(t, "--format", "json", "rule", "decode", "FREQ=FORTNIGHTLY")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var failed CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &failed))
	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, ErrCodeRule, failed.Error.Code)

	_, err = run(t, "rule", "decode", "  ")
	assert.Error(t, err)
}

func TestRuleExpand_Validation(t *testing.T) {
	_, err := run(t, "rule", "expand", "FREQ=DAILY", "--start", "tomorrow")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, "rule", "expand", "FREQ=DAILY", "--start", "2025-01-15T10:00:00Z", "--end", "2025-01-15T09:00:00Z")
	assert.Error(t, err)

	// The cap is clamped rather than rejected.
	out, err := run(t, "--format", "json", "rule", "expand", "FREQ=DAILY", "--start", "2025-01-01T00:00:00Z", "--limit", "5000")
	require.NoError(t, err)
	var resp struct {
		Data ExpandResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.Occurrences, recurrence.MaxLimit)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "--format", "yaml", "rule", "encode", "--pattern", "daily")
	assert.ErrorContains(t, err, "invalid format")
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"0":        time.Sunday,
		"6":        time.Saturday,
		"mo":       time.Monday,
		"Wed":      time.Wednesday,
		"THURSDAY": time.Thursday,
		" friday ": time.Friday,
		"sa":       time.Saturday,
	} {
		got, err := parseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "t", "-1", "xyz"} {
		_, err := parseWeekday(in)
		assert.ErrorIs(t, err, recurrence.ErrInvalidWeekday, in)
	}
}

func TestImportCommand(t *testing.T) {
	feed, err := os.ReadFile(filepath.Join("..", "ics", "testdata", "community.ics"))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write(feed)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := `listen: 127.0.0.1:0
timezone: UTC
log_level: error
store:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "var", "eventcal.db") + `
imports:
  - id: community
    name: Community
    url: ` + srv.URL + `
    organizer_id: 5
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	out, err := run(t, "--config", cfgPath, "import")
	require.NoError(t, err)
	assert.Equal(t, "imported 1 source(s): 4 created, 0 updated, 1 native, 1 expanded, 0 failed\n", out)

	// The sqlite file persists between runs, so the second import updates.
	out, err = run(t, "--config", cfgPath, "--format", "json", "import")
	require.NoError(t, err)
	var resp struct {
		Status string       `json:"status"`
		Data   ImportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 4, resp.Data.Updated)
	assert.Zero(t, resp.Data.Created)
}

func TestImportCommand_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := "log_level: error\nstore:\n  driver: memory\nimports:\n  - id: dead\n    url: " + srv.URL + "\n    organizer_id: 1\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o600))

	out, err := run(t, "--config", cfgPath, "import")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "import dead")
}
