package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type InvocationResult struct {
	Invocation
	ExitCode        int           `json:"exit_code"`
	Started         time.Time     `json:"started"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	Error           string        `json:"error,omitempty"`
	Skipped         bool          `json:"skipped"`
}

// Report is everything known about one launch once the last invocation has
// returned. It is what gets written to the results directory.
type Report struct {
	RunID       string             `json:"run_id"`
	Timestamp   string             `json:"timestamp"`
	Plan        string             `json:"plan"`
	SearchPath  string             `json:"search_path"`
	GitCommit   string             `json:"git_commit,omitempty"`
	GitBranch   string             `json:"git_branch,omitempty"`
	Labels      map[string]string  `json:"labels,omitempty"`
	Started     time.Time          `json:"started"`
	Took        time.Duration      `json:"-"`
	TookSeconds float64            `json:"took_seconds"`
	Invocations []InvocationResult `json:"invocations"`
}

// ExitCode is the status of the last invocation that actually ran, like the
// status of a shell script without `set -e`.
func (r Report) ExitCode() int {
	for i := len(r.Invocations) - 1; i >= 0; i-- {
		if !r.Invocations[i].Skipped {
			return r.Invocations[i].ExitCode
		}
	}
	return 0
}

func (r Report) Failed() int {
	failed := 0
	for _, inv := range r.Invocations {
		if !inv.Skipped && inv.ExitCode != 0 {
			failed++
		}
	}
	return failed
}

func (r Report) Skipped() int {
	skipped := 0
	for _, inv := range r.Invocations {
		if inv.Skipped {
			skipped++
		}
	}
	return skipped
}

func (r Report) WriteTextTo(w io.Writer) (int64, error) {
	b := strings.Builder{}

	for _, inv := range r.Invocations {
		status := fmt.Sprintf("exit %d", inv.ExitCode)
		if inv.Skipped {
			status = "skipped"
		}
		b.WriteString(fmt.Sprintf("%d. %s [%s, ratio %s]: %s in %s\n",
			inv.Index+1, inv.Name, inv.Config, inv.LabelRatio, status, inv.Duration.Round(time.Millisecond)))
	}

	n, err := w.Write([]byte(fmt.Sprintf(
		"Results\nRun: %s\nTimestamp: %s\nPlan: %s\n%sFailed: %d\nSkipped: %d\nTook: %s\nExit code: %d\n",
		r.RunID, r.Timestamp, r.Plan, b.String(), r.Failed(), r.Skipped(), r.Took, r.ExitCode())))
	return int64(n), err
}

func (r Report) WriteJSONTo(w io.Writer) (int, error) {
	r.TookSeconds = r.Took.Seconds()

	bytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, err
	}

	return w.Write(bytes)
}

// writeResultsFile stores the report as <dir>/<run_id>.json and returns the
// path it wrote. The record appears under its final name only once complete,
// so a watcher never reads a partial file.
func writeResultsFile(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create results directory")
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.json", r.RunID))

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create results file")
	}
	defer os.Remove(tmp.Name())

	if _, err := r.WriteJSONTo(tmp); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write results file")
	}

	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close results file")
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", errors.Wrap(err, "chmod results file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "replace results file")
	}

	return path, nil
}
