package cmd

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	defaultConfigFlag = "--config"
	defaultRatioFlag  = "--labeled-num"
)

// Plan is an ordered list of training runs sharing one search path.
//
// LabelRatio behaves like a shell variable: it is the token every run uses
// until a run sets its own, after which that value carries forward.
type Plan struct {
	Source     string `json:"source" yaml:"-"`
	SearchPath string `json:"search_path" yaml:"search_path"`
	LabelRatio string `json:"label_ratio" yaml:"label_ratio"`
	ConfigFlag string `json:"config_flag" yaml:"config_flag"`
	RatioFlag  string `json:"ratio_flag" yaml:"ratio_flag"`
	Runs       []Run  `json:"runs" yaml:"runs"`
}

// Run is one entry of a plan: a program invoked with a configuration
// document and a label ratio.
type Run struct {
	Name       string            `json:"name" yaml:"name"`
	Program    []string          `json:"program" yaml:"program"`
	Config     string            `json:"config" yaml:"config"`
	LabelRatio string            `json:"label_ratio,omitempty" yaml:"label_ratio"`
	Args       []string          `json:"args,omitempty" yaml:"args"`
	Env        map[string]string `json:"env,omitempty" yaml:"env"`
}

// Invocation is a fully resolved run, ready to be handed to a ProcessRunner.
type Invocation struct {
	Index      int               `json:"index"`
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Args       []string          `json:"args"`
	Config     string            `json:"config"`
	LabelRatio string            `json:"label_ratio"`
	Env        map[string]string `json:"env,omitempty"`
}

// CommandLine renders the invocation the way it would be typed in a shell.
func (inv Invocation) CommandLine() string {
	return strings.Join(append([]string{inv.Path}, inv.Args...), " ")
}

func (p *Plan) applyDefaults() {
	if p.ConfigFlag == "" {
		p.ConfigFlag = defaultConfigFlag
	}
	if p.RatioFlag == "" {
		p.RatioFlag = defaultRatioFlag
	}
}

func (p *Plan) Validate() error {
	if len(p.Runs) == 0 {
		return errors.Errorf("plan %q has no runs", p.Source)
	}

	ratio := p.LabelRatio
	for i, run := range p.Runs {
		if run.Name == "" {
			return errors.Errorf("run #%d has no name", i+1)
		}
		if len(run.Program) == 0 || run.Program[0] == "" {
			return errors.Errorf("run %q has no program", run.Name)
		}
		if run.Config == "" {
			return errors.Errorf("run %q has no config document", run.Name)
		}
		if run.LabelRatio != "" {
			ratio = run.LabelRatio
		}
		if ratio == "" {
			return errors.Errorf("run %q has no label ratio and none was set before it", run.Name)
		}
	}

	return nil
}

// Resolve turns the plan into the exact invocation sequence. It has no side
// effects, so resolving the same plan twice yields the same sequence.
func (p Plan) Resolve() []Invocation {
	p.applyDefaults()

	ratio := p.LabelRatio
	out := make([]Invocation, 0, len(p.Runs))
	for i, run := range p.Runs {
		if run.LabelRatio != "" {
			ratio = run.LabelRatio
		}

		args := make([]string, 0, len(run.Program)+3+len(run.Args))
		args = append(args, run.Program[1:]...)
		args = append(args, p.ConfigFlag, run.Config, p.RatioFlag, ratio)
		args = append(args, run.Args...)

		out = append(out, Invocation{
			Index:      i,
			Name:       run.Name,
			Path:       run.Program[0],
			Args:       args,
			Config:     run.Config,
			LabelRatio: ratio,
			Env:        run.Env,
		})
	}

	return out
}

// LoadPlan reads a plan file, picking the decoder by extension. An empty path
// selects the built-in plan.
func LoadPlan(path string) (*Plan, error) {
	var (
		plan *Plan
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
		plan, err = defaultPlan()
	case ext == ".yaml" || ext == ".yml":
		plan, err = loadYAMLPlan(path)
	case ext == ".hcl":
		plan, err = loadHCLPlan(path)
	default:
		return nil, errors.Errorf("unsupported plan file %q, must be .yaml, .yml or .hcl", path)
	}
	if err != nil {
		return nil, err
	}

	plan.applyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid plan %q", plan.Source)
	}

	return plan, nil
}
