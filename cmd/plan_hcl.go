package cmd

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

// hclPlanFile is the top-level structure of an .hcl plan:
//
//	search_path = "${env.HOME}/anaconda3/bin"
//	label_ratio = "1_4"
//
//	run "ISIC2018" {
//	  program = ["python", "train_2d_CCB.py"]
//	  config  = "configs/isic2018.yaml"
//	}
type hclPlanFile struct {
	SearchPath string    `hcl:"search_path,optional"`
	LabelRatio string    `hcl:"label_ratio,optional"`
	ConfigFlag string    `hcl:"config_flag,optional"`
	RatioFlag  string    `hcl:"ratio_flag,optional"`
	Runs       []*hclRun `hcl:"run,block"`
}

type hclRun struct {
	Name       string            `hcl:"name,label"`
	Program    []string          `hcl:"program"`
	Config     string            `hcl:"config"`
	LabelRatio string            `hcl:"label_ratio,optional"`
	Args       []string          `hcl:"args,optional"`
	Env        map[string]string `hcl:"env,optional"`
}

func loadHCLPlan(path string) (*Plan, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parse plan %q", path)
	}

	return decodeHCLPlan(file.Body, path)
}

func decodeHCLPlan(body hcl.Body, source string) (*Plan, error) {
	var parsed hclPlanFile
	if diags := gohcl.DecodeBody(body, planEvalContext(), &parsed); diags.HasErrors() {
		return nil, errors.Wrapf(diags, "decode plan %q", source)
	}

	plan := &Plan{
		Source:     source,
		SearchPath: parsed.SearchPath,
		LabelRatio: parsed.LabelRatio,
		ConfigFlag: parsed.ConfigFlag,
		RatioFlag:  parsed.RatioFlag,
		Runs:       make([]Run, 0, len(parsed.Runs)),
	}

	for _, r := range parsed.Runs {
		plan.Runs = append(plan.Runs, Run{
			Name:       r.Name,
			Program:    r.Program,
			Config:     r.Config,
			LabelRatio: r.LabelRatio,
			Args:       r.Args,
			Env:        r.Env,
		})
	}

	return plan, nil
}

// planEvalContext exposes the launcher's environment as the `env` object.
func planEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) == 2 && pair[0] != "" {
			vars[pair[0]] = cty.StringVal(pair[1])
		}
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
