package cmd

import (
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every training invocation of the plan in order",
	Long: `Prepends the plan's search path to PATH, then starts each training program of
the plan one after another, waiting for each to exit. A failing program does not
stop the ones after it unless --fail-fast is given. The exit status is the one of
the last program that ran.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "run"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		cfg.parseLabels()
		cfg.PrintReport = cmd.Flags().Changed("format")

		plan, err := LoadPlan(cfg.PlanFile)
		if err != nil {
			fatal(err)
		}

		if cmd.Flags().Changed("search-path") {
			plan.SearchPath = cfg.SearchPath
		}

		report, err := executePlan(cmd.Context(), &cfg, plan, newExecRunner())
		if err != nil {
			fatal(err)
		}

		if code := report.ExitCode(); code != 0 {
			log.WithField("exit_code", code).Warn("Last invocation failed")
			os.Exit(code)
		}
	},
}

func initRun() {
	rootCmd.AddCommand(runCmd)
	runCmd.PersistentFlags().StringVarP(&globalConfig.PlanFile,
		"plan", "p", "", "Plan file (.yaml or .hcl). If none provided, the built-in plan is used")
	runCmd.PersistentFlags().StringVar(&globalConfig.SearchPath,
		"search-path", "", "Directory to prepend to PATH instead of the plan's search_path")
	runCmd.PersistentFlags().BoolVar(&globalConfig.FailFast,
		"fail-fast", false, "Skip the remaining invocations after the first failure")
	runCmd.PersistentFlags().StringVar(&globalConfig.ResultsDir,
		"results-dir", "./results", "Directory the run record is written to")
	runCmd.PersistentFlags().StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	runCmd.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]. The report is printed to stdout only when set or with --output")
	runCmd.PersistentFlags().StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename for an output file. If none provided, output to stdout only")
	runCmd.PersistentFlags().BoolVar(&globalConfig.SkipGitLookup,
		"no-git", false, "Do not record the git commit and branch of the working directory")
	runCmd.PersistentFlags().StringVar(&globalConfig.EnvFile,
		"env-file", "", "Load variables from this .env file before launching; they are inherited by every invocation")
	runCmd.PersistentFlags().StringVar(&globalConfig.TextfilePath,
		"textfile", "", "Write launch metrics in Prometheus text format to this file")
	runCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.PushURL,
		"prometheus-url", "", "Prometheus pushgateway URL. If none provided, nothing is pushed")
	runCmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.JobName,
		"prometheus-job", "ccb_launcher", "Job name used when pushing to the pushgateway")
	runCmd.PersistentFlags().IntVar(&globalConfig.PrometheusConfig.Retries,
		"prometheus-retries", 3, "Retries for a failed push")
	runCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.URL,
		"influx-url", "", "InfluxDB URL. If none provided, nothing is written")
	runCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Token,
		"influx-token", "", "InfluxDB token (or INFLUX_TOKEN)")
	runCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Org,
		"influx-org", "", "InfluxDB organization")
	runCmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Bucket,
		"influx-bucket", "", "InfluxDB bucket")
	addHistoryFlags(runCmd)
}

// executePlan launches the plan and then hands the report to every
// configured sink. Sink failures are logged and never alter the report.
func executePlan(ctx context.Context, cfg *Config, plan *Plan, runner ProcessRunner) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := NewLauncher(plan, runner, cfg.FailFast).Launch(ctx)
	if err != nil {
		return nil, err
	}

	report.Labels = cfg.LabelMap
	if !cfg.SkipGitLookup {
		report.GitCommit, report.GitBranch = gitInfo()
	}

	publishReport(ctx, cfg, report)

	return report, nil
}

func publishReport(ctx context.Context, cfg *Config, report *Report) {
	path, err := writeResultsFile(cfg.ResultsDir, report)
	if err != nil {
		log.WithError(err).Error("Failed to write run record")
	} else {
		log.WithField("file", path).Info("Run record written")
	}

	if err := writeReport(cfg, report); err != nil {
		log.WithError(err).Error("Failed to write report")
	}

	if cfg.PrometheusConfig.Enabled() || cfg.TextfilePath != "" {
		publishLaunchMetrics(cfg, report)
	}

	_ = PushMetricsToInfluxDB(ctx, cfg, report)

	if cfg.HistoryConfig.Enabled() {
		if err := recordHistory(ctx, cfg.HistoryConfig, report); err != nil {
			log.WithError(err).Error("Failed to record launch in history")
		}
	}
}

func publishLaunchMetrics(cfg *Config, report *Report) {
	registry, err := newLaunchRegistry(cfg, report)
	if err != nil {
		log.WithError(err).Error("Failed to build launch metrics")
		return
	}

	if cfg.TextfilePath != "" {
		if err := writeTextfile(cfg.TextfilePath, registry); err != nil {
			log.WithError(err).Error("Failed to write metrics textfile")
		}
	}

	// errors are logged by the pusher
	_ = PushMetricsToPrometheus(cfg, registry, report)
}

// writeReport keeps stdout to the children unless a report was asked for.
func writeReport(cfg *Config, report *Report) error {
	if cfg.OutputFile == "" && !cfg.PrintReport {
		return nil
	}

	var w io.Writer
	if cfg.OutputFile == "" {
		w = os.Stdout
	} else {
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return err
		}

		defer f.Close()
		w = f
	}

	var err error
	if cfg.OutputFormat == "json" {
		_, err = report.WriteJSONTo(w)
	} else {
		_, err = report.WriteTextTo(w)
	}

	if err == nil && cfg.OutputFile != "" {
		log.WithField("file", cfg.OutputFile).Info("Results successfully written")
	}

	return err
}

func recordHistory(ctx context.Context, cfg HistoryConfig, report *Report) error {
	store, err := OpenHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Record(ctx, report)
}
