package cmd

import (
	"os/exec"
	"strings"
)

// gitInfo reports the commit and branch of the working directory. Both are
// empty outside a git checkout or when git is not installed.
func gitInfo() (commit, branch string) {
	c1 := exec.Command("git", "rev-parse", "HEAD")
	if out, err := c1.Output(); err == nil {
		commit = strings.TrimSpace(string(out))
	}
	c2 := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	if out, err := c2.Output(); err == nil {
		branch = strings.TrimSpace(string(out))
	}
	return
}
