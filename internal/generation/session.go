package generation

import (
	"sync"
	"time"

	"github.com/sbarron/ambiance/internal/telemetry"
)

// Progress counts work done by a session.
type Progress struct {
	TotalFiles     int `json:"total_files"`
	ProcessedFiles int `json:"processed_files"`
	ChunksStored   int `json:"chunks_stored"`
}

// Session is one generation run for one project. Sessions live in memory
// only; a restarted process starts with none.
type Session struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	ProjectPath  string     `json:"project_path"`
	IsGenerating bool       `json:"is_generating"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Progress     Progress   `json:"progress"`
	Errors       []string   `json:"errors,omitempty"`
}

// ETA estimates the remaining time from files-per-minute throughput so far.
// ok is false until at least one file is done, and after completion.
func (s Session) ETA(now time.Time) (eta time.Duration, ok bool) {
	if !s.IsGenerating || s.Progress.ProcessedFiles == 0 || s.Progress.TotalFiles == 0 {
		return 0, false
	}
	elapsed := now.Sub(s.StartedAt)
	if elapsed <= 0 {
		return 0, false
	}
	perMinute := float64(s.Progress.ProcessedFiles) / elapsed.Minutes()
	remaining := s.Progress.TotalFiles - s.Progress.ProcessedFiles
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(float64(remaining) / perMinute * float64(time.Minute)), true
}

// snapshot deep-copies the session.
func (s *Session) snapshot() *Session {
	cp := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Errors = append([]string(nil), s.Errors...)
	return &cp
}

// Tracker is the write side of a live session handed to a Runner. A nil
// Tracker discards progress.
type Tracker struct {
	mu      *sync.Mutex
	session *Session
	metrics *telemetry.Metrics
}

// SetTotal records how many files the run will process.
func (t *Tracker) SetTotal(files int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.Progress.TotalFiles = files
}

// FileDone records one processed file and the chunks stored for it.
func (t *Tracker) FileDone(chunks int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.session.Progress.ProcessedFiles++
	t.session.Progress.ChunksStored += chunks
	t.mu.Unlock()
	t.metrics.GenerationProgress(1, chunks)
}

// Error records a non-fatal failure.
func (t *Tracker) Error(err error) {
	if t == nil || err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.Errors = append(t.session.Errors, err.Error())
}

// Progress returns the current counters.
func (t *Tracker) Progress() Progress {
	if t == nil {
		return Progress{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Progress
}
