package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	namespace = "ccb_launch"
)

// LaunchRecord is the subset of a launcher run record the exporter reads.
type LaunchRecord struct {
	RunID       string             `json:"run_id"`
	Timestamp   string             `json:"timestamp"`
	Plan        string             `json:"plan"`
	GitBranch   string             `json:"git_branch"`
	TookSeconds float64            `json:"took_seconds"`
	Invocations []InvocationRecord `json:"invocations"`
}

type InvocationRecord struct {
	Index           int     `json:"index"`
	Name            string  `json:"name"`
	Config          string  `json:"config"`
	LabelRatio      string  `json:"label_ratio"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	Skipped         bool    `json:"skipped"`
}

type Exporter struct {
	invocations map[string]*prometheus.GaugeVec
	launches    map[string]*prometheus.GaugeVec
}

func NewExporter() *Exporter {
	return &Exporter{
		invocations: make(map[string]*prometheus.GaugeVec),
		launches:    make(map[string]*prometheus.GaugeVec),
	}
}

func (e *Exporter) initializeMetrics(reg prometheus.Registerer) {
	invocationLabels := []string{"branch", "plan", "run", "index", "config", "label_ratio"}
	launchLabels := []string{"branch", "plan"}

	invocationMetrics := []struct {
		name string
		help string
	}{
		{"invocation_duration_seconds", "Wall time of the training invocation"},
		{"invocation_exit_code", "Exit status of the training invocation"},
		{"invocation_skipped", "1 if the invocation was skipped after a failure"},
	}

	launchMetrics := []struct {
		name string
		help string
	}{
		{"took_seconds", "Wall time of the whole launch"},
		{"invocations_failed", "Number of invocations with a non-zero exit status"},
	}

	for _, metric := range invocationMetrics {
		e.invocations[metric.name] = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      metric.name,
				Help:      metric.help,
			},
			invocationLabels,
		)
		reg.MustRegister(e.invocations[metric.name])
	}

	for _, metric := range launchMetrics {
		e.launches[metric.name] = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      metric.name,
				Help:      metric.help,
			},
			launchLabels,
		)
		reg.MustRegister(e.launches[metric.name])
	}
}

func (e *Exporter) processJSONFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file %s: %v", path, err)
	}

	var record LaunchRecord
	if err := json.Unmarshal(content, &record); err != nil {
		return fmt.Errorf("error parsing JSON from file %s: %v", path, err)
	}

	if record.RunID == "" {
		return fmt.Errorf("file %s is not a launch record", path)
	}

	// Reset metrics before processing new data
	for _, metric := range e.invocations {
		metric.Reset()
	}
	for _, metric := range e.launches {
		metric.Reset()
	}

	branch := record.GitBranch
	if branch == "" {
		branch = "main"
	}

	failed := 0
	for _, inv := range record.Invocations {
		labels := prometheus.Labels{
			"branch":      branch,
			"plan":        record.Plan,
			"run":         inv.Name,
			"index":       strconv.Itoa(inv.Index),
			"config":      inv.Config,
			"label_ratio": inv.LabelRatio,
		}

		skipped := 0.0
		if inv.Skipped {
			skipped = 1
		} else if inv.ExitCode != 0 {
			failed++
		}

		e.invocations["invocation_duration_seconds"].With(labels).Set(inv.DurationSeconds)
		e.invocations["invocation_exit_code"].With(labels).Set(float64(inv.ExitCode))
		e.invocations["invocation_skipped"].With(labels).Set(skipped)
	}

	launchLabels := prometheus.Labels{"branch": branch, "plan": record.Plan}
	e.launches["took_seconds"].With(launchLabels).Set(record.TookSeconds)
	e.launches["invocations_failed"].With(launchLabels).Set(float64(failed))

	log.WithFields(log.Fields{"file": path, "run_id": record.RunID}).Info("Successfully processed file")
	return nil
}

// jsonFilesByAge lists the .json files of dir, oldest first, so that the
// newest record is the one left exported after an initial scan.
func jsonFilesByAge(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %v", err)
	}

	type file struct {
		path  string
		mtime int64
	}

	var files []file
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(dir, entry.Name()), info.ModTime().UnixNano()})
	}

	sort.Slice(files, func(a, b int) bool {
		return files[a].mtime < files[b].mtime
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func watchDirectory(dirPath string, exporter *Exporter) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %v", err)
	}

	files, err := jsonFilesByAge(dirPath)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	for _, path := range files {
		if err := exporter.processJSONFile(path); err != nil {
			log.WithError(err).Warn("Error processing existing file")
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if filepath.Ext(event.Name) == ".json" {
						if err := exporter.processJSONFile(event.Name); err != nil {
							log.WithError(err).Warn("Error processing file")
						}
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Error("Error watching directory")
			}
		}
	}()

	if err := watcher.Add(dirPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("error adding directory to watcher: %v", err)
	}

	return watcher, nil
}

func main() {
	var (
		dirPath string
		port    int
	)

	rootCmd := &cobra.Command{
		Use:   "metrics-exporter",
		Short: "Launch Metrics Exporter",
		Long:  `Watch a ccb-launcher results directory and export the latest launch via Prometheus.`,
		Run: func(cmd *cobra.Command, args []string) {
			registry := prometheus.NewRegistry()
			exporter := NewExporter()
			exporter.initializeMetrics(registry)

			watcher, err := watchDirectory(dirPath, exporter)
			if err != nil {
				log.Fatal(err)
			}
			defer watcher.Close()

			http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>
					<head><title>Launch Metrics Exporter</title></head>
					<body>
						<h1>Launch Metrics Exporter</h1>
						<p><a href="/metrics">Metrics</a></p>
					</body>
					</html>`))
			})

			serverAddr := fmt.Sprintf(":%d", port)
			log.Printf("Starting metrics server on port %s", serverAddr)
			if err := http.ListenAndServe(serverAddr, nil); err != nil {
				log.Fatal(err)
			}
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if dirPath == "" {
				return fmt.Errorf("directory path is required")
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&dirPath, "dir", "d", "", "Results directory path to watch (required)")
	rootCmd.MarkFlagRequired("dir")
	rootCmd.Flags().IntVarP(&port, "port", "p", 2120, "Port to serve metrics on")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
