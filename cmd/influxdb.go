package cmd

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"
)

// InfluxDBConfig holds configuration for InfluxDB metrics reporting
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}

// invocationPoints builds one point per invocation that actually ran.
func invocationPoints(cfg *Config, r *Report) []*write.Point {
	points := make([]*write.Point, 0, len(r.Invocations))

	for _, inv := range r.Invocations {
		if inv.Skipped {
			continue
		}

		p := influxdb2.NewPointWithMeasurement("ccb_launcher_invocation").
			AddTag("run", inv.Name).
			AddTag("index", fmt.Sprintf("%d", inv.Index)).
			AddTag("config", inv.Config).
			AddTag("label_ratio", inv.LabelRatio).
			AddTag("run_id", r.RunID).
			AddTag("timestamp", r.Timestamp).
			AddTag("plan", r.Plan).
			AddField("duration_seconds", inv.Duration.Seconds()).
			AddField("exit_code", inv.ExitCode).
			AddField("success", inv.ExitCode == 0)

		if !inv.Started.IsZero() {
			p.SetTime(inv.Started)
		}

		for key, value := range cfg.LabelMap {
			p.AddTag(key, value)
		}

		points = append(points, p)
	}

	return points
}

// PushMetricsToInfluxDB writes the launch results to an InfluxDB instance
func PushMetricsToInfluxDB(ctx context.Context, cfg *Config, r *Report) error {
	if !cfg.InfluxDBConfig.Enabled() {
		return nil
	}

	client := influxdb2.NewClient(cfg.InfluxDBConfig.URL, cfg.InfluxDBConfig.Token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(cfg.InfluxDBConfig.Org, cfg.InfluxDBConfig.Bucket)

	points := invocationPoints(cfg, r)
	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		log.WithError(err).Error("Failed to push metrics to InfluxDB")
		return err
	}

	log.WithFields(log.Fields{
		"url":    cfg.InfluxDBConfig.URL,
		"bucket": cfg.InfluxDBConfig.Bucket,
		"run_id": r.RunID,
		"points": len(points),
	}).Info("Successfully pushed metrics to InfluxDB")

	return nil
}
