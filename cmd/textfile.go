package cmd

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

// writeTextfile dumps the gathered metrics in the Prometheus text format,
// suitable for node_exporter's textfile collector. The file is replaced
// atomically so the collector never reads a partial write.
func writeTextfile(path string, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create textfile directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create textfile")
	}
	defer os.Remove(tmp.Name())

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "encode %s", mf.GetName())
		}
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close textfile")
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "chmod textfile")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace textfile")
	}

	log.WithFields(log.Fields{"file": path, "families": len(families)}).Info("Metrics written to textfile")

	return nil
}
