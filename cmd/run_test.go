package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// captureOutput swaps os.Stdout and os.Stderr for pipes while fn runs.
func captureOutput(t *testing.T, fn func()) (string, string) {
	t.Helper()

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	origStdout, origStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdoutW, stderrW
	func() {
		defer func() { os.Stdout, os.Stderr = origStdout, origStderr }()
		fn()
	}()

	require.NoError(t, stdoutW.Close())
	require.NoError(t, stderrW.Close())

	stdout, err := io.ReadAll(stdoutR)
	require.NoError(t, err)
	stderr, err := io.ReadAll(stderrR)
	require.NoError(t, err)

	return string(stdout), string(stderr)
}

func TestExecutePlan(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	dir := t.TempDir()

	cfg := &Config{
		Mode:          "run",
		ResultsDir:    filepath.Join(dir, "results"),
		OutputFormat:  "json",
		OutputFile:    filepath.Join(dir, "report.json"),
		TextfilePath:  filepath.Join(dir, "launch.prom"),
		SkipGitLookup: true,
		Labels:        "host=gpu01",
		HistoryConfig: HistoryConfig{DSN: filepath.Join(dir, "history.db")},
	}
	require.NoError(t, cfg.Validate())
	cfg.parseLabels()

	plan, err := LoadPlan("")
	require.NoError(t, err)
	plan.SearchPath = "/opt/conda/bin"

	runner := &recordingRunner{codes: map[string]int{"ACDC": 1}}
	report, err := executePlan(context.Background(), cfg, plan, runner)
	require.NoError(t, err)

	require.Equal(t, []string{"ISIC2018", "KvasirSEG", "ACDC"}, runner.names())
	require.Equal(t, 1, report.ExitCode())
	require.Equal(t, map[string]string{"host": "gpu01"}, report.Labels)
	require.Empty(t, report.GitCommit)

	t.Run("run record", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(cfg.ResultsDir, report.RunID+".json"))
		require.NoError(t, err)

		var stored Report
		require.NoError(t, json.Unmarshal(data, &stored))
		require.Equal(t, report.RunID, stored.RunID)
		require.Equal(t, report.Timestamp, stored.Timestamp)
		require.Len(t, stored.Invocations, 3)
		require.Equal(t, 1, stored.Invocations[2].ExitCode)
	})

	t.Run("report file", func(t *testing.T) {
		data, err := os.ReadFile(cfg.OutputFile)
		require.NoError(t, err)
		require.Contains(t, string(data), `"run_id": "`+report.RunID+`"`)
	})

	t.Run("textfile", func(t *testing.T) {
		data, err := os.ReadFile(cfg.TextfilePath)
		require.NoError(t, err)
		require.Contains(t, string(data), "ccb_launcher_invocations_failed")
		require.Contains(t, string(data), `host="gpu01"`)
	})

	t.Run("history", func(t *testing.T) {
		store, err := OpenHistory(context.Background(), cfg.HistoryConfig)
		require.NoError(t, err)
		defer store.Close()

		entries, err := store.List(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, report.RunID, entries[0].RunID)
		require.Equal(t, 1, entries[0].ExitCode)
	})
}

func TestExecutePlanSinkFailuresKeepStatus(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	dir := t.TempDir()

	blocker := writeFile(t, dir, "not-a-dir", "")

	cfg := &Config{
		Mode:          "run",
		ResultsDir:    filepath.Join(blocker, "results"),
		OutputFormat:  "text",
		OutputFile:    filepath.Join(dir, "report.txt"),
		SkipGitLookup: true,
		PrometheusConfig: PrometheusConfig{
			PushURL: "http://127.0.0.1:1",
			JobName: "ccb_launcher",
		},
	}
	require.NoError(t, cfg.Validate())

	plan, err := LoadPlan("")
	require.NoError(t, err)
	plan.SearchPath = ""

	report, err := executePlan(context.Background(), cfg, plan, &recordingRunner{codes: map[string]int{"ACDC": 5}})
	require.NoError(t, err)
	require.Equal(t, 5, report.ExitCode())

	data, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "Exit code: 5")
}

func TestExecutePlanWithClashingLabels(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	dir := t.TempDir()

	cfg := &Config{
		Mode:          "run",
		ResultsDir:    filepath.Join(dir, "results"),
		OutputFile:    filepath.Join(dir, "report.txt"),
		TextfilePath:  filepath.Join(dir, "launch.prom"),
		SkipGitLookup: true,
		Labels:        "config=foo,run=bar,gpu=a100",
		HistoryConfig: HistoryConfig{DSN: filepath.Join(dir, "history.db")},
	}
	require.NoError(t, cfg.Validate())
	cfg.parseLabels()

	plan, err := LoadPlan("")
	require.NoError(t, err)
	plan.SearchPath = ""

	var report *Report
	require.NotPanics(t, func() {
		report, err = executePlan(context.Background(), cfg, plan, &recordingRunner{codes: map[string]int{"ACDC": 5}})
	})
	require.NoError(t, err)
	require.Equal(t, 5, report.ExitCode())

	data, err := os.ReadFile(cfg.TextfilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), `config="configs/ACDC.yaml"`)
	require.Contains(t, string(data), `gpu="a100"`)
	require.NotContains(t, string(data), `config="foo"`)

	store, err := OpenHistory(context.Background(), cfg.HistoryConfig)
	require.NoError(t, err)
	defer store.Close()

	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 5, entries[0].ExitCode)
}

func TestExecutePlanIsSilentAtErrorLevel(t *testing.T) {
	requireShell(t)
	t.Setenv("LOG_LEVEL", "error")

	var logs bytes.Buffer
	configureLogging(&logs)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	cfg := &Config{
		Mode:          "run",
		ResultsDir:    filepath.Join(t.TempDir(), "results"),
		SkipGitLookup: true,
	}
	require.NoError(t, cfg.Validate())
	cfg.parseLabels()

	plan := &Plan{
		Source:     "test",
		LabelRatio: "1_4",
		Runs: []Run{
			{Name: "a", Program: []string{"sh", "-c", "echo child-a", "sh"}, Config: "a.yaml"},
			{Name: "b", Program: []string{"sh", "-c", "echo child-b; echo child-b-err >&2; exit 3", "sh"}, Config: "b.yaml"},
		},
	}
	plan.applyDefaults()
	require.NoError(t, plan.Validate())

	var report *Report
	stdout, stderr := captureOutput(t, func() {
		var err error
		report, err = executePlan(context.Background(), cfg, plan, newExecRunner())
		require.NoError(t, err)
	})

	require.Equal(t, 3, report.ExitCode())
	require.Equal(t, "child-a\nchild-b\n", stdout)
	require.Equal(t, "child-b-err\n", stderr)
	require.Empty(t, logs.String())

	t.Run("report is printed when asked for", func(t *testing.T) {
		cfg.PrintReport = true
		stdout, _ := captureOutput(t, func() {
			require.NoError(t, writeReport(cfg, report))
		})
		require.Contains(t, stdout, "Exit code: 3")
	})
}

func TestWritePlan(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	plan, err := LoadPlan("")
	require.NoError(t, err)

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writePlan(&buf, "text", plan))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Equal(t, []string{
			"Plan: built-in",
			"Prepend to PATH: /home/tester/anaconda3/bin",
			"1. [ISIC2018] python train_2d_CCB.py --config configs/isic2018.yaml --labeled-num 1_4",
			"2. [KvasirSEG] python train_2d_CCB.py --config configs/KvasirSEG.yaml --labeled-num 1_4",
			"3. [ACDC] python train_2d_ACDC_CCB.py --config configs/ACDC.yaml --labeled-num 3",
		}, lines)
	})

	t.Run("unchanged path", func(t *testing.T) {
		p := *plan
		p.SearchPath = ""

		var buf bytes.Buffer
		require.NoError(t, writePlan(&buf, "text", &p))
		require.Contains(t, buf.String(), "Prepend to PATH: (unchanged)")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writePlan(&buf, "json", plan))

		var out planJSON
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		require.Equal(t, "built-in", out.Source)
		require.Len(t, out.Invocations, 3)
		require.Equal(t, "3", out.Invocations[2].LabelRatio)
	})
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	writeHistory(&buf, nil)
	require.Equal(t, "no launches recorded\n", buf.String())

	buf.Reset()
	writeHistory(&buf, []HistoryEntry{{
		RunID:       "6f0c4a4e-6f55-4b1f-9d8e-2c3b8d1f0a11",
		Timestamp:   "20240309_070502",
		Plan:        "built-in",
		GitCommit:   "0123456789abcdef",
		TookSeconds: 90,
		Invocations: 3,
		Failed:      1,
	}})
	require.Contains(t, buf.String(), "01234567")
	require.Contains(t, buf.String(), "1/3 failed")
	require.Contains(t, buf.String(), "1m30s")
}
