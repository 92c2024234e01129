package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	maxLineBytes = 1 << 20
	pollInterval = 200 * time.Millisecond
)

// Entry is one parsed line of the JSON log.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	// Raw is the original line; unparseable lines keep only Raw.
	Raw   string
	Valid bool
}

// ViewerConfig filters and decorates log entries.
type ViewerConfig struct {
	// MinLevel hides entries below this level. Empty shows everything.
	MinLevel string
	Pattern  *regexp.Regexp
	// StyleLevel decorates the padded level column, e.g. with colour.
	StyleLevel func(level, padded string) string
}

// Viewer reads server logs written by Setup.
type Viewer struct {
	cfg ViewerConfig
}

// NewViewer creates a Viewer.
func NewViewer(cfg ViewerConfig) *Viewer {
	return &Viewer{cfg: cfg}
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	var out []Entry
	for _, line := range ring {
		if e := ParseEntry(line); v.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Follow sends matching entries appended to path after the call until ctx
// is cancelled.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek log file: %w", err)
	}

	r := bufio.NewReader(f)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for {
			chunk, err := r.ReadString('\n')
			if err != nil {
				partial += chunk
				break
			}
			line := strings.TrimSuffix(partial+chunk, "\n")
			partial = ""
			if line == "" {
				continue
			}
			if e := ParseEntry(line); v.Match(e) {
				select {
				case entries <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// ParseEntry parses a slog JSON line.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true
	if t, ok := data[slog.TimeKey].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, t)
	}
	e.Level, _ = data[slog.LevelKey].(string)
	e.Msg, _ = data[slog.MessageKey].(string)
	delete(data, slog.TimeKey)
	delete(data, slog.LevelKey)
	delete(data, slog.MessageKey)
	e.Attrs = data
	return e
}

// Match reports whether e passes the level and pattern filters.
func (v *Viewer) Match(e Entry) bool {
	if v.cfg.MinLevel != "" && e.Valid && ParseLevel(e.Level) < ParseLevel(v.cfg.MinLevel) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Format renders e as "15:04:05.000 LEVEL msg key=value ...", attributes
// sorted by key.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}
	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level))
	if v.cfg.StyleLevel != nil {
		level = v.cfg.StyleLevel(strings.ToLower(e.Level), level)
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05.000"))
	sb.WriteByte(' ')
	sb.WriteString(level)
	sb.WriteByte(' ')
	sb.WriteString(e.Msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}
