package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// timestampLayout is YYYYMMDD_HHMMSS.
const timestampLayout = "20060102_150405"

func launchTimestamp(now time.Time) string {
	return now.Format(timestampLayout)
}

// prependSearchPath puts dir in front of PATH for this process and every
// child it starts afterwards. An empty dir leaves PATH alone. Nothing is
// restored on exit.
func prependSearchPath(dir string) (string, error) {
	current := os.Getenv("PATH")
	if dir == "" {
		return current, nil
	}

	updated := dir
	if current != "" {
		updated = dir + string(filepath.ListSeparator) + current
	}

	if err := os.Setenv("PATH", updated); err != nil {
		return current, errors.Wrap(err, "set PATH")
	}

	return updated, nil
}
