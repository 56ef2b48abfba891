package cmd

import (
	"bytes"
	_ "embed"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed plans/default.yaml
var defaultPlanYAML []byte

const defaultPlanSource = "built-in"

func defaultPlan() (*Plan, error) {
	return decodeYAMLPlan(defaultPlanYAML, defaultPlanSource)
}

func loadYAMLPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read plan %q", path)
	}

	return decodeYAMLPlan(data, path)
}

func decodeYAMLPlan(data []byte, source string) (*Plan, error) {
	var plan Plan

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, errors.Wrapf(err, "decode plan %q", source)
	}

	plan.Source = source
	plan.SearchPath = os.ExpandEnv(plan.SearchPath)

	return &plan, nil
}
