package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Launcher executes a plan's invocations one after another.
type Launcher struct {
	plan     *Plan
	runner   ProcessRunner
	failFast bool
	now      func() time.Time
}

func NewLauncher(plan *Plan, runner ProcessRunner, failFast bool) *Launcher {
	return &Launcher{
		plan:     plan,
		runner:   runner,
		failFast: failFast,
		now:      time.Now,
	}
}

// Launch prepends the plan's search path, stamps the run and then starts
// every invocation in order, waiting for each to finish. A failing
// invocation does not stop the ones after it unless fail-fast is set.
func (l *Launcher) Launch(ctx context.Context) (*Report, error) {
	searchPath, err := prependSearchPath(l.plan.SearchPath)
	if err != nil {
		return nil, err
	}

	started := l.now()
	report := &Report{
		RunID:      uuid.New().String(),
		Timestamp:  launchTimestamp(started),
		Plan:       l.plan.Source,
		SearchPath: searchPath,
		Started:    started,
	}

	log.WithFields(log.Fields{
		"run_id":      report.RunID,
		"timestamp":   report.Timestamp,
		"plan":        report.Plan,
		"search_path": l.plan.SearchPath,
	}).Info("Starting launch")

	invocations := l.plan.Resolve()
	failed := false
	for _, inv := range invocations {
		if failed && l.failFast {
			log.WithFields(log.Fields{"run": inv.Name, "index": inv.Index}).Warn("Skipping invocation after failure")
			report.Invocations = append(report.Invocations, InvocationResult{Invocation: inv, Skipped: true})
			continue
		}

		result := l.invoke(ctx, inv)
		if result.ExitCode != 0 {
			failed = true
		}
		report.Invocations = append(report.Invocations, result)
	}

	report.Took = l.now().Sub(started)

	log.WithFields(log.Fields{
		"run_id":    report.RunID,
		"took":      report.Took,
		"failed":    report.Failed(),
		"exit_code": report.ExitCode(),
	}).Info("Launch finished")

	return report, nil
}

func (l *Launcher) invoke(ctx context.Context, inv Invocation) InvocationResult {
	logger := log.WithFields(log.Fields{
		"run":         inv.Name,
		"index":       inv.Index,
		"config":      inv.Config,
		"label_ratio": inv.LabelRatio,
	})
	logger.WithField("command", inv.CommandLine()).Info("Starting invocation")

	before := l.now()
	code, err := l.runner.Run(ctx, inv)
	took := l.now().Sub(before)

	result := InvocationResult{
		Invocation:      inv,
		ExitCode:        code,
		Started:         before,
		Duration:        took,
		DurationSeconds: took.Seconds(),
	}

	if err != nil {
		if code == 0 {
			result.ExitCode = -1
		}
		result.Error = err.Error()
		logger.WithError(errors.Cause(err)).WithField("exit_code", result.ExitCode).Warn("Invocation failed")
		return result
	}

	logger.WithFields(log.Fields{"took": took, "exit_code": code}).Info("Invocation finished")
	return result
}
