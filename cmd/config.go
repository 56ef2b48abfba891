package cmd

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Mode          string
	PlanFile      string
	SearchPath    string
	FailFast      bool
	ResultsDir    string
	Labels        string
	LabelMap      map[string]string
	OutputFormat  string
	OutputFile    string
	PrintReport   bool
	TextfilePath  string
	HistoryLimit  int
	SkipGitLookup bool
	EnvFile       string

	PrometheusConfig PrometheusConfig
	InfluxDBConfig   InfluxDBConfig
	HistoryConfig    HistoryConfig
}

func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch c.Mode {
	case "run":
		return c.validateRun()
	case "plan", "validate":
		return nil
	case "history":
		return c.validateHistory()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}
}

func (c *Config) validateCommon() error {
	switch c.OutputFormat {
	case "text", "":
		c.OutputFormat = "text"
	case "json":
	default:
		return errors.Errorf("unsupported output format %q, must be one of [text, json]",
			c.OutputFormat)
	}

	return nil
}

func (c *Config) validateRun() error {
	if c.ResultsDir == "" {
		return errors.Errorf("results directory must be set")
	}

	if c.PrometheusConfig.Enabled() && c.PrometheusConfig.JobName == "" {
		return errors.Errorf("a prometheus job name must be set when pushing metrics")
	}

	// variables already set in the environment win over the file
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return errors.Wrapf(err, "load env file %q", c.EnvFile)
		}
	}

	if token, ok := os.LookupEnv("INFLUX_TOKEN"); ok && c.InfluxDBConfig.Token == "" {
		c.InfluxDBConfig.Token = token
	}

	if c.InfluxDBConfig.Enabled() && (c.InfluxDBConfig.Org == "" || c.InfluxDBConfig.Bucket == "") {
		return errors.Errorf("influxdb org and bucket must be set when --influx-url is given")
	}

	return c.HistoryConfig.validate()
}

func (c *Config) validateHistory() error {
	if c.HistoryConfig.DSN == "" {
		return errors.Errorf("a history database must be provided with --history-dsn")
	}

	if c.HistoryLimit < 0 {
		return errors.Errorf("limit must not be negative")
	}

	return c.HistoryConfig.validate()
}

func (c *Config) parseLabels() {
	result := make(map[string]string)
	if c.Labels == "" {
		c.LabelMap = result
		return
	}

	pairs := strings.Split(c.Labels, ",")

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2) // only split on the first "="
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}

	c.LabelMap = result
}
