package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the invocation sequence without running anything",
	Long:  `Resolves the plan and prints every invocation, in order, exactly as run would start it`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "plan"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		plan, err := LoadPlan(cfg.PlanFile)
		if err != nil {
			fatal(err)
		}

		if cmd.Flags().Changed("search-path") {
			plan.SearchPath = cfg.SearchPath
		}

		if err := writePlan(cmd.OutOrStdout(), cfg.OutputFormat, plan); err != nil {
			fatal(err)
		}
	},
}

func initPlan() {
	rootCmd.AddCommand(planCmd)
	planCmd.PersistentFlags().StringVarP(&globalConfig.PlanFile,
		"plan", "p", "", "Plan file (.yaml or .hcl). If none provided, the built-in plan is used")
	planCmd.PersistentFlags().StringVar(&globalConfig.SearchPath,
		"search-path", "", "Directory to prepend to PATH instead of the plan's search_path")
	planCmd.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
}

type planJSON struct {
	Source      string       `json:"source"`
	SearchPath  string       `json:"search_path"`
	Invocations []Invocation `json:"invocations"`
}

func writePlan(w io.Writer, format string, plan *Plan) error {
	invocations := plan.Resolve()

	if format == "json" {
		bytes, err := json.MarshalIndent(planJSON{
			Source:      plan.Source,
			SearchPath:  plan.SearchPath,
			Invocations: invocations,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bytes))
		return err
	}

	searchPath := plan.SearchPath
	if searchPath == "" {
		searchPath = "(unchanged)"
	}

	if _, err := fmt.Fprintf(w, "Plan: %s\nPrepend to PATH: %s\n", plan.Source, searchPath); err != nil {
		return err
	}

	for _, inv := range invocations {
		if _, err := fmt.Fprintf(w, "%d. [%s] %s\n", inv.Index+1, inv.Name, inv.CommandLine()); err != nil {
			return err
		}
	}

	return nil
}

