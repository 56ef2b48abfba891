package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{"run", Config{Mode: "run", ResultsDir: "results"}, ""},
		{"plan", Config{Mode: "plan"}, ""},
		{"validate", Config{Mode: "validate"}, ""},
		{"unknown mode", Config{Mode: "train"}, "unrecognized mode"},
		{"bad format", Config{Mode: "run", ResultsDir: "results", OutputFormat: "xml"}, "unsupported output format"},
		{"no results dir", Config{Mode: "run"}, "results directory"},
		{"push without job", Config{Mode: "run", ResultsDir: "results", PrometheusConfig: PrometheusConfig{PushURL: "http://gw:9091"}}, "job name"},
		{"influx without bucket", Config{Mode: "run", ResultsDir: "results", InfluxDBConfig: InfluxDBConfig{URL: "http://influx:8086", Org: "lab"}}, "org and bucket"},
		{"history without dsn", Config{Mode: "history"}, "--history-dsn"},
		{"history bad table", Config{Mode: "history", HistoryConfig: HistoryConfig{DSN: "h.db", Table: "launches; DROP"}}, "invalid history table"},
		{"history bad driver", Config{Mode: "history", HistoryConfig: HistoryConfig{DSN: "h.db", Driver: "postgres"}}, "unsupported history driver"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), test.err)
		})
	}
}

func TestConfigDefaultsFormat(t *testing.T) {
	c := Config{Mode: "plan"}
	require.NoError(t, c.Validate())
	require.Equal(t, "text", c.OutputFormat)
}

func TestInfluxTokenFromEnv(t *testing.T) {
	t.Setenv("INFLUX_TOKEN", "secret")

	c := Config{Mode: "run", ResultsDir: "results"}
	require.NoError(t, c.Validate())
	require.Equal(t, "secret", c.InfluxDBConfig.Token)

	c = Config{Mode: "run", ResultsDir: "results", InfluxDBConfig: InfluxDBConfig{Token: "flag"}}
	require.NoError(t, c.Validate())
	require.Equal(t, "flag", c.InfluxDBConfig.Token)
}

func TestEnvFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), ".env", "INFLUX_TOKEN=from-file\nCCB_LAUNCHER_TEST_SEED=1337\n")
	t.Setenv("INFLUX_TOKEN", "")
	os.Unsetenv("INFLUX_TOKEN")
	t.Setenv("CCB_LAUNCHER_TEST_SEED", "")
	os.Unsetenv("CCB_LAUNCHER_TEST_SEED")

	c := Config{Mode: "run", ResultsDir: "results", EnvFile: path}
	require.NoError(t, c.Validate())
	require.Equal(t, "from-file", c.InfluxDBConfig.Token)
	require.Equal(t, "1337", os.Getenv("CCB_LAUNCHER_TEST_SEED"))

	c = Config{Mode: "run", ResultsDir: "results", EnvFile: path + ".missing"}
	err := c.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "load env file")
}

func TestEnvFileDoesNotOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), ".env", "INFLUX_TOKEN=from-file\n")
	t.Setenv("INFLUX_TOKEN", "from-env")

	c := Config{Mode: "run", ResultsDir: "results", EnvFile: path}
	require.NoError(t, c.Validate())
	require.Equal(t, "from-env", c.InfluxDBConfig.Token)
}

func TestParseLabels(t *testing.T) {
	c := Config{Labels: "gpu=a100,branch=feature=x,broken"}
	c.parseLabels()
	require.Equal(t, map[string]string{"gpu": "a100", "branch": "feature=x"}, c.LabelMap)

	c = Config{}
	c.parseLabels()
	require.Empty(t, c.LabelMap)
}
