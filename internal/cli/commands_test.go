package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meshtrace/internal/bundle"
	"github.com/roach88/meshtrace/internal/config"
	"github.com/roach88/meshtrace/internal/runid"
	"github.com/roach88/meshtrace/internal/testutil"
)

const suffix = config.DefaultFileNameSuffix

// harness runs the root command against a sqlite store configured through
// the environment.
type harness struct {
	t      *testing.T
	dbPath string
	fs     afero.Fs
	env    map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dbPath := testutil.StorePath(t)
	return &harness{
		t:      t,
		dbPath: dbPath,
		fs:     afero.NewMemMapFs(),
		env: map[string]string{
			config.EnvDriver: "sqlite3",
			config.EnvPath:   dbPath,
			config.EnvTable:  testutil.Table,
		},
	}
}

// seed creates the table and inserts rows.
func (h *harness) seed(rows ...bundle.Observation) {
	h.t.Helper()
	testutil.NewStoreAt(h.t, h.dbPath, rows...)
}

func (h *harness) lookupEnv(key string) (string, bool) {
	v, ok := h.env[key]
	return v, ok
}

// run executes args and returns stdout, stderr and the command error.
func (h *harness) run(args ...string) (string, string, error) {
	h.t.Helper()
	opts := &RootOptions{
		Fs:        h.fs,
		LookupEnv: h.lookupEnv,
		RunIDs:    runid.NewFixedGenerator("run-1"),
	}
	cmd := newRootCommand(opts)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (h *harness) survey(paths ...string) {
	h.t.Helper()
	for _, p := range paths {
		require.NoError(h.t, afero.WriteFile(h.fs, p, []byte("<data/>"), 0o644))
	}
}

func wave(tablet, fileID string, ms int64, origin bool) bundle.Observation {
	return testutil.Obs(tablet, fileID, fileID+suffix, 1024, ms, origin)
}

func TestCreateTableCommand(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run("create-table")
	require.NoError(t, err)
	assert.Contains(t, out, "Created table obs")

	_, stderr, err := h.run("create-table")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [consistency]")
}

func TestCreateTableCommand_TableFlagOverridesEnv(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run("--table", "other", "--format", "json", "create-table")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, map[string]any{"table": "other"}, resp.Data)
}

func TestCommand_InvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	h.env[config.EnvDriver] = "postgres"

	_, stderr, err := h.run("stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [configuration]")
}

func TestCommand_ConfigFile(t *testing.T) {
	h := newHarness(t)
	h.env = map[string]string{}
	h.seed(wave("tab-o", "F1", 0, true))

	cfg := "db:\n  driver: sqlite3\n  path: " + h.dbPath + "\nanalysis:\n  table: obs\n"
	require.NoError(t, afero.WriteFile(h.fs, "/etc/meshtrace.yaml", []byte(cfg), 0o644))

	out, _, err := h.run("--config", "/etc/meshtrace.yaml", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Statistical analysis for table: obs")
}

func TestStatsCommand_MissingTable(t *testing.T) {
	h := newHarness(t)

	_, stderr, err := h.run("stats")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [not_found]")
}

func TestStatsCommand_JSON(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 0, true),
		wave("tab-a", "F1", 5000, false),
	)

	out, _, err := h.run("--format", "json", "stats")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Table   string `json:"table"`
			Metrics []struct {
				Key   string  `json:"key"`
				Value float64 `json:"value"`
				Valid bool    `json:"valid"`
			} `json:"metrics"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "obs", resp.Data.Table)
	require.NotEmpty(t, resp.Data.Metrics)
	assert.Equal(t, float64(1), resp.Data.Metrics[0].Value)
}

func TestImportCommand(t *testing.T) {
	h := newHarness(t)
	h.fs = afero.NewOsFs()
	h.seed()

	root := t.TempDir()
	testutil.WriteManifest(t, filepath.Join(root, "tab-a"),
		testutil.ManifestRow{ID: "F1", Name: "a" + suffix, InsertTime: 1000, Size: 10},
		testutil.ManifestRow{ID: "F2", Name: "b" + suffix, InsertTime: 2000, Size: 20},
	)
	testutil.WriteManifest(t, filepath.Join(root, "tab-b"),
		testutil.ManifestRow{ID: "F1", Name: "a" + suffix, InsertTime: 3000, Size: 10},
	)

	out, _, err := h.run("import", root)
	require.NoError(t, err)
	assert.Contains(t, out, "tab-a: 2 rows")
	assert.Contains(t, out, "Imported 3 rows from 2 databases into obs")
}

func TestImportCommand_NoDatabases(t *testing.T) {
	h := newHarness(t)
	h.fs = afero.NewOsFs()
	h.seed()

	_, stderr, err := h.run("import", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "Error [no_input]")
}

func TestReconcileCommand(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-1", "F1", 1000, false),
		wave("tab-2", "F1", 2000, false),
		wave("tab-2", "F2", 3000, false),
	)
	h.survey(
		"/survey/tab-1/records/F1",
		"/survey/tab-9/records/ghost",
	)

	out, _, err := h.run("--format", "json", "reconcile", "/survey")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		RunID  string `json:"run_id"`
		Data   struct {
			SurveyFiles int `json:"survey_files"`
			Marked      int `json:"marked"`
			Warnings    []struct {
				Kind string `json:"kind"`
			} `json:"warnings"`
			Purged []struct {
				FileID string `json:"file_id"`
				Rows   int64  `json:"rows"`
			} `json:"purged"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 2, resp.Data.SurveyFiles)
	assert.Equal(t, 1, resp.Data.Marked)
	require.Len(t, resp.Data.Warnings, 1)
	assert.Equal(t, "partial_match", resp.Data.Warnings[0].Kind)
	require.Len(t, resp.Data.Purged, 1)
	assert.Equal(t, "F2", resp.Data.Purged[0].FileID)

	// Second run marks nothing and purges nothing
	out, _, err = h.run("reconcile", "/survey")
	require.NoError(t, err)
	assert.Contains(t, out, "Origins marked: 0 (already marked: 1)")
	assert.Contains(t, out, "Purged bundles: 0 (0 rows)")
}

func TestReconcileCommand_AbortReportsWarnings(t *testing.T) {
	h := newHarness(t)
	h.seed(
		testutil.Obs("tab-1", "F1", "b"+suffix, 1, 1000, false),
		testutil.Obs("tab-1", "F2", "b"+suffix, 1, 2000, false),
	)
	h.survey(
		"/survey/tab-1/records/a",
		"/survey/tab-1/records/b",
	)

	_, stderr, err := h.run("reconcile", "/survey")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "warning partial_match")
	assert.Contains(t, stderr, "/survey/tab-1/records/a")
	assert.Contains(t, stderr, "Error [consistency]")

	out, _, err := h.run("--format", "json", "reconcile", "/survey")
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string `json:"code"`
			Details struct {
				Warnings []struct {
					Path string `json:"path"`
				} `json:"warnings"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "consistency", resp.Error.Code)
	require.Len(t, resp.Error.Details.Warnings, 1)
	assert.Equal(t, "/survey/tab-1/records/a", resp.Error.Details.Warnings[0].Path)
}

func TestReconcileCommand_EmptySurvey(t *testing.T) {
	h := newHarness(t)
	h.seed()
	require.NoError(t, h.fs.MkdirAll("/survey", 0o755))

	_, _, err := h.run("reconcile", "/survey")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGraphCommand(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 0, true),
		wave("tab-a", "F1", 10_000, false),
		wave("tab-b", "F1", 50_000, false),
	)

	out, _, err := h.run("graph", "F1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, `digraph "F1" {`), out)
	assert.Contains(t, out, "subgraph cluster_0")
	assert.Contains(t, out, "subgraph cluster_1")
	assert.Contains(t, out, `"tab-o" -> "tab-a" [lhead=cluster_0];`)
}

func TestGraphCommand_WindowFlag(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 0, true),
		wave("tab-a", "F1", 10_000, false),
		wave("tab-b", "F1", 50_000, false),
	)

	out, _, err := h.run("graph", "--window", "1m")
	require.NoError(t, err)
	assert.Contains(t, out, "subgraph cluster_0")
	assert.NotContains(t, out, "subgraph cluster_1")
}

func TestGraphCommand_OutputFile(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 0, true),
		wave("tab-a", "F1", 10_000, false),
	)

	out, _, err := h.run("graph", "-o", "/F1.dot")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote graph of F1 (1 clusters) to /F1.dot")

	data, err := afero.ReadFile(h.fs, "/F1.dot")
	require.NoError(t, err)
	assert.Contains(t, string(data), `digraph "F1" {`)

	// An existing output file is never replaced
	_, stderr, err := h.run("graph", "-o", "/F1.dot")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "already exists")
}

func TestGraphCommand_InsufficientData(t *testing.T) {
	h := newHarness(t)
	h.seed(wave("tab-o", "F1", 0, true))

	_, stderr, err := h.run("graph", "F1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [insufficient_data]")
}

func TestTimeseriesCommand(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 100, true),
		wave("tab-a", "F1", 200, false),
		wave("tab-o", "F2", 50, true),
	)

	out, _, err := h.run("timeseries")
	require.NoError(t, err)
	assert.Equal(t, "file_id,tablet_id,timestamp,count\n"+
		"F1,tab-o,100,1\n"+
		"F1,tab-a,200,2\n"+
		"F2,tab-o,50,1\n", out)
}

func TestTimeseriesCommand_CurveToFile(t *testing.T) {
	h := newHarness(t)
	h.seed(
		wave("tab-o", "F1", 0, true),
		wave("tab-a", "F1", 120_000, false),
	)

	out, _, err := h.run("timeseries", "--curve", "-o", "/curve.csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 curve rows to /curve.csv")

	data, err := afero.ReadFile(h.fs, "/curve.csv")
	require.NoError(t, err)
	assert.Equal(t, "minutes,count\n0,1.000000\n1,1.000000\n", string(data))
}

func TestTimeseriesCommand_JSON(t *testing.T) {
	h := newHarness(t)
	h.seed(wave("tab-o", "F1", 100, true))

	out, _, err := h.run("--format", "json", "timeseries")
	require.NoError(t, err)

	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "F1", resp.Data[0]["file_id"])
}
