package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"chefq/internal/config"
	"chefq/internal/logging"
	"chefq/internal/store"
	"chefq/internal/table"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const sampleFirstBoot = `{"run_list":["role[foo]","recipe[bar]","Foo::Bar","role[oof]","Rab::Oof"]}`

// useFirstBoot points the global config at a temp first-boot file and database.
// An empty content leaves the file missing.
func useFirstBoot(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "first-boot.json")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	c := config.DefaultConfig()
	c.FirstBootPath = path
	c.Store.DatabasePath = filepath.Join(dir, "chefq.db")
	cfg = c

	t.Cleanup(func() {
		cfg = config.DefaultConfig()
		queryFormat, queryRaw, queryRecord = "", false, false
		historyLimit, historyDiff, historyFormat = 20, false, ""
		configForce = false
	})
	return path
}

func sortedLines(s string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

func run(t *testing.T, fn func(*cobra.Command, []string) error, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err = fn(cmd, args)
	return out.String(), errOut.String(), err
}

func TestQuery_JSON(t *testing.T) {
	useFirstBoot(t, sampleFirstBoot)
	queryFormat = "json"

	out, _, err := run(t, runQuery)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	want := []map[string]any{
		{"seq_no": float64(0), "role": "foo"},
		{"seq_no": float64(3), "role": "oof"},
		{"seq_no": float64(1), "role": "bar"},
		{"seq_no": float64(2), "role": "Foo::Bar"},
		{"seq_no": float64(4), "role": "Rab::Oof"},
	}
	assert.Equal(t, want, rows)
}

func TestQuery_MissingFileCSV(t *testing.T) {
	useFirstBoot(t, "")
	queryFormat = "csv"

	out, _, err := run(t, runQuery, table.ChefRunListName)
	require.NoError(t, err)
	assert.Equal(t, "seq_no,role\n", out)
}

func TestQuery_UnknownTable(t *testing.T) {
	useFirstBoot(t, sampleFirstBoot)

	_, _, err := run(t, runQuery, "osquery_info")
	assert.ErrorIs(t, err, table.ErrUnknownTable)
}

func TestQuery_RecordThenHistory(t *testing.T) {
	path := useFirstBoot(t, sampleFirstBoot)
	queryFormat = "csv"
	queryRecord = true

	_, stderr, err := run(t, runQuery)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Recorded snapshot")

	// Unchanged content is not recorded again.
	_, stderr, err = run(t, runQuery)
	require.NoError(t, err)
	assert.NotContains(t, stderr, "Recorded snapshot")

	require.NoError(t, os.WriteFile(path, []byte(`{"run_list":["role[foo]","role[web]","Foo::Bar"]}`), 0644))
	_, _, err = run(t, runQuery)
	require.NoError(t, err)

	historyFormat = "json"
	out, _, err := run(t, runHistory)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, float64(2), rows[0]["roles"])
	assert.Equal(t, float64(1), rows[0]["recipes"])

	historyDiff = true
	out, _, err = run(t, runHistory)
	require.NoError(t, err)
	assert.Equal(t, "+ role[web]\n- role[oof]\n- recipe[bar]\n- recipe[Rab::Oof]\n", out)
}

func TestQuery_RecordReadsFileOnce(t *testing.T) {
	useFirstBoot(t, `{"run_list":["role[a]", 7]}`)
	cfg.Store.Enabled = true
	queryFormat = "csv"

	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetRoot(zap.New(core), nil)
	t.Cleanup(func() { logging.SetRoot(zap.NewNop(), nil) })

	out, stderr, err := run(t, runQuery)
	require.NoError(t, err)
	assert.Equal(t, "seq_no,role\n0,a\n", out)
	assert.Contains(t, stderr, "Recorded snapshot")
	assert.Equal(t, 1, logs.FilterMessage("Did not get string type for Chef run_list member").Len())

	st, err := store.Open(cfg.Store.DatabasePath)
	require.NoError(t, err)
	defer st.Close()
	latest, err := st.Latest(context.Background(), cfg.FirstBootPath)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.RoleCount)
	assert.Equal(t, 0, latest.RecipeCount)
}

func TestHistory_Empty(t *testing.T) {
	useFirstBoot(t, sampleFirstBoot)

	out, _, err := run(t, runHistory)
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots recorded")
}

func TestFacts_All(t *testing.T) {
	useFirstBoot(t, sampleFirstBoot)

	out, _, err := run(t, runFacts)
	require.NoError(t, err)
	assert.Contains(t, out, `chef_run_list(0, "foo", /role).`)
	assert.Contains(t, out, `chef_run_list(2, "Foo::Bar", /recipe).`)
	assert.Contains(t, out, `chef_role("oof").`)
	assert.Contains(t, out, `chef_role_before_recipe("foo", "bar").`)
	assert.NotContains(t, out, `chef_role_before_recipe("oof", "bar").`)
}

func TestFacts_Query(t *testing.T) {
	useFirstBoot(t, sampleFirstBoot)

	out, _, err := run(t, runFacts, "chef_run_list(N, Name, /recipe)")
	require.NoError(t, err)
	assert.Contains(t, out, `N=1 Name="bar"`)
	assert.Contains(t, out, `N=4 Name="Rab::Oof"`)

	out, _, err = run(t, runFacts, "chef_role(Name)")
	require.NoError(t, err)
	assert.Equal(t, "Name=\"foo\"\nName=\"oof\"\n", sortedLines(out))
}

func TestFacts_QueryConstantsFilter(t *testing.T) {
	useFirstBoot(t, `{"run_list":["role[web]","recipe[nginx]","recipe[php]"]}`)

	out, _, err := run(t, runFacts, `chef_role_before_recipe(R, "nginx")`)
	require.NoError(t, err)
	assert.Equal(t, "R=\"web\"\n", out)

	out, _, err = run(t, runFacts, `chef_recipe("php")`)
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, _, err = run(t, runFacts, `chef_recipe("nope")`)
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}

func TestFacts_QueryNoResults(t *testing.T) {
	useFirstBoot(t, "")

	out, _, err := run(t, runFacts, "chef_role(Name)")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}

func TestRecorder_HandlePrintsDiffAndRecords(t *testing.T) {
	path := useFirstBoot(t, sampleFirstBoot)
	ctx := context.Background()

	st, err := store.Open(cfg.Store.DatabasePath)
	require.NoError(t, err)
	defer st.Close()

	var out bytes.Buffer
	rec, err := newRecorder(ctx, newSource(), st, &out)
	require.NoError(t, err)
	assert.Len(t, rec.last.Roles, 2)

	// No change, nothing printed.
	require.NoError(t, rec.handle(ctx))
	assert.Empty(t, out.String())

	require.NoError(t, os.WriteFile(path, []byte(`{"run_list":["role[foo]","role[oof]","recipe[bar]","Foo::Bar","Rab::Oof","recipe[ntp]"]}`), 0644))
	require.NoError(t, rec.handle(ctx))
	assert.Contains(t, out.String(), "+ recipe[ntp]")
	assert.Contains(t, out.String(), "~ role[oof] 3 -> 1")

	history, err := st.History(ctx, path, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestConfigInit(t *testing.T) {
	useFirstBoot(t, "")
	cfgPath = filepath.Join(t.TempDir(), "etc", "config.yaml")
	defer func() { cfgPath = config.DefaultPath }()

	out, _, err := run(t, configInit)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	_, _, err = run(t, configInit)
	assert.ErrorContains(t, err, "already exists")

	configForce = true
	_, _, err = run(t, configInit)
	require.NoError(t, err)

	loaded, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().FirstBootPath, loaded.FirstBootPath)
}

func TestRoot_FlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("first_boot_path: /from/config.json\noutput:\n  format: json\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfgFile, "--file", "/from/flag.json", "--strict", "config", "show"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgPath, firstBoot, strict = config.DefaultPath, "", false
		cfg = config.DefaultConfig()
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "first_boot_path: /from/flag.json")
	assert.Contains(t, out.String(), "strict: true")
	assert.Contains(t, out.String(), "format: json")
}

func TestSetup_InstallsCategoryLoggers(t *testing.T) {
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	data := "first_boot_path: " + filepath.Join(dir, "fb.json") + "\nlogging:\n  categories:\n    chef: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0644))
	t.Cleanup(func() {
		cfgPath = config.DefaultPath
		cfg = config.DefaultConfig()
		logging.SetRoot(zap.NewNop(), nil)
	})

	require.NoError(t, setup(&cobra.Command{}))

	assert.Equal(t, filepath.Join(dir, "fb.json"), cfg.FirstBootPath)
	assert.False(t, logging.IsCategoryEnabled(logging.CategoryChef))
	assert.True(t, logging.IsCategoryEnabled(logging.CategoryStore))
}
