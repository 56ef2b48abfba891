package cmd

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
)

// PrometheusConfig holds configuration for Prometheus metrics reporting
type PrometheusConfig struct {
	PushURL string
	JobName string
	Retries int
}

func (c PrometheusConfig) Enabled() bool {
	return c.PushURL != ""
}

var invocationLabels = []string{"run", "index", "config", "label_ratio"}

var labelNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LaunchMetrics holds the Prometheus metrics for one launch
type LaunchMetrics struct {
	InvocationDuration *prometheus.GaugeVec
	InvocationExitCode *prometheus.GaugeVec
	InvocationSuccess  *prometheus.GaugeVec
	Invocations        prometheus.Gauge
	Failed             prometheus.Gauge
	Skipped            prometheus.Gauge
	Took               prometheus.Gauge
	LastLaunch         prometheus.Gauge
}

// NewLaunchMetrics creates a new set of launch metrics and registers them
func NewLaunchMetrics(registry prometheus.Registerer, labels prometheus.Labels) (*LaunchMetrics, error) {
	metrics := &LaunchMetrics{
		InvocationDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocation_duration_seconds",
			Help:        "Wall time of a training invocation in seconds",
			ConstLabels: labels,
		}, invocationLabels),
		InvocationExitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocation_exit_code",
			Help:        "Exit status of a training invocation",
			ConstLabels: labels,
		}, invocationLabels),
		InvocationSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocation_success",
			Help:        "1 if the training invocation exited with status 0",
			ConstLabels: labels,
		}, invocationLabels),
		Invocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocations",
			Help:        "Number of invocations in the plan",
			ConstLabels: labels,
		}),
		Failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocations_failed",
			Help:        "Number of invocations that exited with a non-zero status",
			ConstLabels: labels,
		}),
		Skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ccb_launcher_invocations_skipped",
			Help:        "Number of invocations skipped by fail-fast",
			ConstLabels: labels,
		}),
		Took: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ccb_launcher_took_seconds",
			Help:        "Wall time of the whole launch in seconds",
			ConstLabels: labels,
		}),
		LastLaunch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "ccb_launcher_last_launch_timestamp_seconds",
			Help:        "Unix time the launch started",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		metrics.InvocationDuration,
		metrics.InvocationExitCode,
		metrics.InvocationSuccess,
		metrics.Invocations,
		metrics.Failed,
		metrics.Skipped,
		metrics.Took,
		metrics.LastLaunch,
	} {
		if err := registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "register launch metrics")
		}
	}

	return metrics, nil
}

func (m *LaunchMetrics) observe(r *Report) {
	for _, inv := range r.Invocations {
		if inv.Skipped {
			continue
		}

		values := []string{inv.Name, fmt.Sprintf("%d", inv.Index), inv.Config, inv.LabelRatio}
		m.InvocationDuration.WithLabelValues(values...).Set(inv.Duration.Seconds())
		m.InvocationExitCode.WithLabelValues(values...).Set(float64(inv.ExitCode))

		success := 0.0
		if inv.ExitCode == 0 {
			success = 1
		}
		m.InvocationSuccess.WithLabelValues(values...).Set(success)
	}

	m.Invocations.Set(float64(len(r.Invocations)))
	m.Failed.Set(float64(r.Failed()))
	m.Skipped.Set(float64(r.Skipped()))
	m.Took.Set(r.Took.Seconds())
	m.LastLaunch.Set(float64(r.Started.Unix()))
}

// newLaunchRegistry builds a registry holding the metrics of one report.
// Custom labels that are not valid Prometheus label names, or that clash
// with a label the launcher sets itself, are dropped.
func newLaunchRegistry(cfg *Config, r *Report) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	labels := prometheus.Labels{
		"run_id":    r.RunID,
		"timestamp": r.Timestamp,
		"plan":      r.Plan,
	}

	reserved := make(map[string]bool, len(labels)+len(invocationLabels))
	for key := range labels {
		reserved[key] = true
	}
	for _, key := range invocationLabels {
		reserved[key] = true
	}

	for key, value := range cfg.LabelMap {
		if reserved[key] || !labelNamePattern.MatchString(key) {
			log.WithField("label", key).Warn("Ignoring label that cannot be used with Prometheus")
			continue
		}
		labels[key] = value
	}

	metrics, err := NewLaunchMetrics(registry, labels)
	if err != nil {
		return nil, err
	}
	metrics.observe(r)

	return registry, nil
}

// PushMetricsToPrometheus pushes the launch results to a Prometheus pushgateway
func PushMetricsToPrometheus(cfg *Config, registry prometheus.Gatherer, r *Report) error {
	if !cfg.PrometheusConfig.Enabled() {
		return nil
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.PrometheusConfig.Retries
	client.RetryWaitMax = 10 * time.Second
	client.Logger = retryLogger{}

	pusher := push.New(cfg.PrometheusConfig.PushURL, cfg.PrometheusConfig.JobName).
		Gatherer(registry).
		Client(client.StandardClient())

	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return err
	}

	log.WithFields(log.Fields{
		"url":    cfg.PrometheusConfig.PushURL,
		"job":    cfg.PrometheusConfig.JobName,
		"run_id": r.RunID,
	}).Info("Successfully pushed metrics to Prometheus")

	return nil
}

// retryLogger routes retryablehttp's leveled logging through logrus.
type retryLogger struct{}

func (retryLogger) Error(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Error(msg)
}

func (retryLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func kvFields(keysAndValues []interface{}) log.Fields {
	fields := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
