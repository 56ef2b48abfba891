package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every program and configuration document of the plan exists",
	Long: `Prepends the plan's search path, then checks that every program can be found
and every configuration document exists and is valid YAML. run never performs
these checks; use this before a long launch.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "validate"

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

		if _, err := prependSearchPath(plan.SearchPath); err != nil {
			fatal(err)
		}

		checks := checkPlan(plan)
		writeChecks(cmd.OutOrStdout(), checks)

		for _, c := range checks {
			if !c.OK() {
				fatal(errors.Errorf("plan %q has problems", plan.Source))
			}
		}
	},
}

func initValidate() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.PersistentFlags().StringVarP(&globalConfig.PlanFile,
		"plan", "p", "", "Plan file (.yaml or .hcl). If none provided, the built-in plan is used")
	validateCmd.PersistentFlags().StringVar(&globalConfig.SearchPath,
		"search-path", "", "Directory to prepend to PATH instead of the plan's search_path")
}

// trainingConfig is the part of a training configuration document the
// launcher reports on. Everything else is left to the training program.
type trainingConfig struct {
	Data struct {
		Dataset  string `yaml:"dataset"`
		RootPath string `yaml:"root_path"`
	} `yaml:"data"`
	Train struct {
		Epochs     int `yaml:"epochs"`
		BatchSize  int `yaml:"batch_size"`
		NumClasses int `yaml:"num_classes"`
	} `yaml:"train"`
}

type InvocationCheck struct {
	Invocation  Invocation
	ProgramPath string
	Training    trainingConfig
	Problems    []string
}

func (c InvocationCheck) OK() bool {
	return len(c.Problems) == 0
}

// checkPlan resolves programs against the current PATH, so the search path
// must already be prepended.
func checkPlan(plan *Plan) []InvocationCheck {
	invocations := plan.Resolve()
	checks := make([]InvocationCheck, 0, len(invocations))

	for _, inv := range invocations {
		check := InvocationCheck{Invocation: inv}

		if path, err := exec.LookPath(inv.Path); err != nil {
			check.Problems = append(check.Problems, fmt.Sprintf("program %q not found: %v", inv.Path, err))
		} else {
			check.ProgramPath = path
		}

		training, err := readTrainingConfig(inv.Config)
		if err != nil {
			check.Problems = append(check.Problems, err.Error())
		} else {
			check.Training = *training
			if training.Data.Dataset == "" {
				check.Problems = append(check.Problems, fmt.Sprintf("%s: data.dataset is not set", inv.Config))
			}
		}

		checks = append(checks, check)
	}

	return checks
}

func readTrainingConfig(path string) (*trainingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}

	var cfg trainingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}

	return &cfg, nil
}

func writeChecks(w io.Writer, checks []InvocationCheck) {
	for _, c := range checks {
		status := "ok"
		if !c.OK() {
			status = "FAILED"
		}

		fmt.Fprintf(w, "%d. [%s] %s: %s\n", c.Invocation.Index+1, c.Invocation.Name, c.Invocation.CommandLine(), status)
		if c.ProgramPath != "" {
			fmt.Fprintf(w, "   program: %s\n", c.ProgramPath)
		}
		if c.Training.Data.Dataset != "" {
			fmt.Fprintf(w, "   dataset: %s, epochs: %d, batch size: %d\n",
				c.Training.Data.Dataset, c.Training.Train.Epochs, c.Training.Train.BatchSize)
		}
		for _, p := range c.Problems {
			fmt.Fprintf(w, "   - %s\n", p)
		}
	}
}
