package rank

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// RecencySource reports the last commit time of project files.
type RecencySource interface {
	LastCommits(ctx context.Context, root string) (map[string]time.Time, error)
}

// GitRecency reads commit times from `git log`.
type GitRecency struct {
	// MaxCommits bounds the history scanned. Zero means 2000.
	MaxCommits int
}

// LastCommits maps slash-separated paths, relative to the repository root,
// to the time of the newest commit touching them.
func (g GitRecency) LastCommits(ctx context.Context, root string) (map[string]time.Time, error) {
	limit := g.MaxCommits
	if limit <= 0 {
		limit = 2000
	}
	cmd := exec.CommandContext(ctx, "git", "-C", root, "log",
		"-n", strconv.Itoa(limit), "--pretty=format:@%ct", "--name-only", "--relative")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseGitLog(out), nil
}

// parseGitLog reads "@<unix>" header lines followed by file names. git log
// lists newest commits first, so the first time seen per file wins.
func parseGitLog(out []byte) map[string]time.Time {
	res := map[string]time.Time{}
	var current time.Time
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "@") {
			if secs, err := strconv.ParseInt(line[1:], 10, 64); err == nil {
				current = time.Unix(secs, 0)
			}
			continue
		}
		if _, ok := res[line]; !ok && !current.IsZero() {
			res[line] = current
		}
	}
	return res
}
