package engine

import (
	"fmt"
	"strings"

	"github.com/sbarron/ambiance/internal/bundle"
	"github.com/sbarron/ambiance/internal/config"
	amerrors "github.com/sbarron/ambiance/internal/errors"
	"github.com/sbarron/ambiance/internal/rank"
)

// TaskType tunes query terms and diversity for what the caller is doing.
type TaskType string

const (
	TaskUnderstand   TaskType = "understand"
	TaskOverview     TaskType = "overview"
	TaskTroubleshoot TaskType = "troubleshoot"
	TaskDebug        TaskType = "debug"
	TaskTrace        TaskType = "trace"
)

// Format selects how bundle content is rendered.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Request is a local context query.
type Request struct {
	ProjectPath string   `json:"project_path"`
	Query       string   `json:"query"`
	TaskType    TaskType `json:"task_type,omitempty"`
	// Threshold is the similarity floor; zero uses the configured default.
	Threshold   float64 `json:"threshold,omitempty"`
	MaxChunks   int     `json:"max_chunks,omitempty"`
	TokenBudget int     `json:"token_budget,omitempty"`
	Format      Format  `json:"format,omitempty"`
}

// withDefaults validates r and fills unset fields from cfg.
func (r Request) withDefaults(cfg config.RetrievalConfig) (Request, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return r, amerrors.New(amerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Describe what you are looking for, e.g. 'database initialization'")
	}
	if r.ProjectPath == "" {
		return r, amerrors.New(amerrors.ErrCodeInvalidPath, "project path is required", nil)
	}

	if r.TaskType == "" {
		r.TaskType = TaskUnderstand
	}
	if _, ok := taskTuning[r.TaskType]; !ok {
		return r, amerrors.InvalidInput(fmt.Sprintf("unknown task type %q", r.TaskType)).
			WithSuggestion("Use one of: understand, overview, troubleshoot, debug, trace")
	}

	if r.Format == "" {
		r.Format = FormatMarkdown
	}
	if r.Format != FormatMarkdown && r.Format != FormatJSON {
		return r, amerrors.InvalidInput(fmt.Sprintf("unknown format %q", r.Format)).
			WithSuggestion("Use markdown or json")
	}

	if r.Threshold < 0 || r.Threshold > 1 {
		return r, amerrors.InvalidInput("threshold must be between 0 and 1")
	}
	if r.Threshold == 0 {
		r.Threshold = cfg.SimilarityThreshold
	}
	if r.MaxChunks <= 0 {
		r.MaxChunks = cfg.MaxSimilarChunks
	}
	if r.TokenBudget <= 0 {
		r.TokenBudget = cfg.TokenBudget
	}
	return r, nil
}

// flightKey identifies requests that may share one execution. Every field
// that shapes the bundle is part of it, so a coalesced caller never gets
// content built for a larger budget.
func (r Request) flightKey(root string) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%g\x00%d\x00%d",
		root, r.Format, r.Query, r.TaskType, r.Threshold, r.MaxChunks, r.TokenBudget)
}

func (f Format) layout() bundle.Layout {
	if f == FormatJSON {
		return bundle.JSON
	}
	return bundle.Markdown
}

type tuning struct {
	extraTerms []string
	lambda     func(configured float64) float64
}

var taskTuning = map[TaskType]tuning{
	TaskUnderstand: {lambda: rank.ClampLambda},
	TaskOverview: {lambda: func(float64) float64 {
		return rank.MinLambda
	}},
	TaskTroubleshoot: {extraTerms: []string{"error"}, lambda: func(float64) float64 {
		return rank.MaxLambda
	}},
	TaskDebug: {extraTerms: []string{"error"}, lambda: func(float64) float64 {
		return rank.MaxLambda
	}},
	TaskTrace: {extraTerms: []string{"call"}, lambda: func(l float64) float64 {
		return rank.ClampLambda(rank.ClampLambda(l) + 0.05)
	}},
}

// terms returns the ranking terms of the query plus the task's extras.
func (r Request) terms() []string {
	terms := rank.Terms(r.Query)
	for _, extra := range taskTuning[r.TaskType].extraTerms {
		if !containsString(terms, extra) {
			terms = append(terms, extra)
		}
	}
	return terms
}

func (r Request) lambda(configured float64) float64 {
	return taskTuning[r.TaskType].lambda(configured)
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
