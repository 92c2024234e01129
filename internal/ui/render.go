package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sbarron/ambiance/internal/engine"
	"github.com/sbarron/ambiance/internal/manage"
	"github.com/sbarron/ambiance/internal/store"
)

// maxListed bounds the file lists printed for a response.
const maxListed = 10

// Response renders a management response. Results of unknown types are
// printed as JSON.
func (p *Printer) Response(r *manage.Response) error {
	mark, style := "✓", p.styles.Success
	if !r.Success {
		mark, style = "✗", p.styles.Error
	}
	p.linef("%s %s %s", style.Render(mark), p.styles.Header.Render(string(r.Action)), p.styles.Dim.Render(r.Duration))
	if r.Project != nil {
		p.field("project", r.Project.ID)
		if r.Project.Root != "" {
			p.field("root", r.Project.Root)
		}
		if r.Project.DataID != "" {
			p.field("data id", r.Project.DataID+" (legacy)")
		}
	}

	if r.Error != nil {
		p.field("error", p.styles.Error.Render(r.Error.Code)+" "+r.Error.Message)
	}
	if err := p.result(r.Result); err != nil {
		return err
	}
	p.recommendations(r.Recommendations)
	return nil
}

func (p *Printer) result(v any) error {
	switch res := v.(type) {
	case nil:
	case *manage.StatusResult:
		p.status(res)
	case *manage.HealthReport:
		p.health(res)
	case *manage.GenerateResult:
		p.field("mode", res.Mode)
		p.field("session", res.SessionID)
	case *store.Compatibility:
		p.compatibility(res)
	case *manage.StaleResult:
		p.field("stored", humanize.Comma(int64(res.StoredFiles))+" files")
		p.field("on disk", humanize.Comma(int64(res.DiskFiles))+" files")
		p.list("stale", res.Stale)
		p.list("new", res.New)
		p.list("missing", res.Missing)
	case *manage.DuplicatesResult:
		p.field("files", fmt.Sprint(res.Count))
		p.field("reclaimable", fmt.Sprintf("%d chunks, %s", res.ReclaimableChunks, res.ReclaimableBytes))
		paths := make([]string, len(res.Files))
		for i, f := range res.Files {
			paths[i] = fmt.Sprintf("%s (%d generations)", f.FilePath, len(f.Generations))
		}
		p.list("duplicated", paths)
	case *manage.CleanupResult:
		p.field("files", fmt.Sprint(res.StaleFilesFound))
		p.field("removed", fmt.Sprintf("%d chunks", res.ChunksDeleted))
		p.field("saved", res.SpaceSavedHuman)
	case *manage.ProjectList:
		p.projects(res)
	case *manage.DeleteResult:
		p.list("deleted", res.Deleted)
	case *manage.ProjectDetails:
		p.details(res)
	default:
		return JSON(p.out, v)
	}
	return nil
}

func (p *Printer) status(s *manage.StatusResult) {
	p.field("source", string(s.Source))
	if s.Stats != nil && s.Stats.TotalChunks > 0 {
		p.field("indexed", fmt.Sprintf("%s files, %s chunks",
			humanize.Comma(int64(s.Stats.TotalFiles)), humanize.Comma(int64(s.Stats.TotalChunks))))
	}
	if s.Model != nil {
		p.field("model", fmt.Sprintf("%s/%s, %d dims, %s", s.Model.Provider, s.Model.Model, s.Model.Dimensions, s.Model.Format))
	}
	if s.Compatibility != nil {
		p.field("compatible", p.yesNo(s.Compatibility.Compatible))
	}
	if s.LastUpdated != "" {
		p.field("updated", s.LastUpdated)
	}
	if s.StoreSize != "" {
		p.field("store", s.StoreSize)
	}
	if g := s.Generation; g != nil {
		p.generation(g)
	}
}

func (p *Printer) generation(g *manage.GenerationStatus) {
	state := "finished"
	if g.Session.IsGenerating {
		state = "running"
	}
	p.field("generation", fmt.Sprintf("%s %s %s", state, Bar(g.Percent, 20), g.StartedAt))
	if g.ETA != "" {
		p.field("eta", g.ETA)
	}
	if n := len(g.Session.Errors); n > 0 {
		p.field("file errors", p.styles.Warning.Render(fmt.Sprint(n)))
	}
}

func (p *Printer) health(h *manage.HealthReport) {
	p.field("healthy", p.yesNo(h.Healthy))
	p.list("issues", h.Issues)
	p.list("fixes", h.Fixes)
	if h.FixTimedOut {
		p.field("auto-fix", p.styles.Warning.Render("stopped at time budget"))
	}
}

func (p *Printer) compatibility(c *store.Compatibility) {
	p.field("compatible", p.yesNo(c.Compatible))
	p.field("stored", fmt.Sprintf("%s/%s, %d dims", c.Stored.Provider, c.Stored.Model, c.Stored.Dimensions))
	p.field("current", fmt.Sprintf("%s, %d dims", c.CurrentProvider, c.CurrentDimensions))
	p.list("issues", c.Issues)
}

func (p *Printer) projects(l *manage.ProjectList) {
	for _, pr := range l.Projects {
		state := ""
		if pr.Generating {
			state = p.styles.Warning.Render(" generating")
		}
		p.linef("  %s %s%s", p.styles.Code.Render(pr.ProjectID), pr.RootPath, state)
		p.linef("    %s files, %s chunks, %s/%s, updated %s",
			humanize.Comma(int64(pr.TotalFiles)), humanize.Comma(int64(pr.TotalChunks)),
			pr.ModelProvider, pr.ModelName, pr.Updated)
	}
}

func (p *Printer) details(d *manage.ProjectDetails) {
	p.field("root", d.Record.RootPath)
	p.field("indexed", fmt.Sprintf("%s files, %s chunks", humanize.Comma(int64(d.Stats.TotalFiles)), humanize.Comma(int64(d.Stats.TotalChunks))))
	p.field("model", fmt.Sprintf("%s/%s, %d dims, %s", d.Record.ModelProvider, d.Record.ModelName, d.Record.Dimensions, d.Record.Format))
	p.field("created", humanize.Time(d.Record.CreatedAt))

	langs := make([]string, 0, len(d.Languages))
	for lang, n := range d.Languages {
		langs = append(langs, fmt.Sprintf("%s %d", lang, n))
	}
	sort.Strings(langs)
	p.field("languages", strings.Join(langs, ", "))
	p.field("duplicates", fmt.Sprint(d.DuplicateFiles))

	recent := make([]string, len(d.Files))
	for i, f := range d.Files {
		recent[i] = fmt.Sprintf("%s (gen %d, %d chunks)", f.FilePath, f.Generation, f.ChunkCount)
	}
	p.list("recent", recent)
	if d.Generation != nil {
		p.generation(d.Generation)
	}
}

// Bundle renders a context bundle: its content followed by a summary.
func (p *Printer) Bundle(b *engine.Bundle) {
	if b.Content != "" {
		p.linef("%s", b.Content)
	}
	m := b.Metadata
	summary := fmt.Sprintf("%s context from %s: %d/%d files, %d tokens",
		b.BaseKind, b.Source, m.IncludedFiles, m.TotalFiles, m.TokenCount)
	if m.CompressionRatio > 0 {
		summary += fmt.Sprintf(", %.2fx compression", m.CompressionRatio)
	}
	p.linef("%s", p.styles.Dim.Render(summary))
	if b.Degraded {
		p.linef("%s", p.styles.Warning.Render("degraded: stored embeddings do not match the current model"))
	}
	p.recommendations(b.Recommendations)
}

func (p *Printer) recommendations(recs []string) {
	if len(recs) == 0 {
		return
	}
	p.linef("")
	p.linef("%s", p.styles.Header.Render("Recommendations"))
	for _, r := range recs {
		p.linef("  • %s", r)
	}
}

func (p *Printer) field(label, value string) {
	p.linef("  %s %s", p.styles.Label.Render(fmt.Sprintf("%-12s", label)), value)
}

func (p *Printer) list(label string, items []string) {
	if len(items) == 0 {
		return
	}
	p.field(label, fmt.Sprint(len(items)))
	for _, it := range items[:min(len(items), maxListed)] {
		p.linef("      %s", it)
	}
	if len(items) > maxListed {
		p.linef("      %s", p.styles.Dim.Render(fmt.Sprintf("… %d more", len(items)-maxListed)))
	}
}

func (p *Printer) yesNo(ok bool) string {
	if ok {
		return p.styles.Success.Render("yes")
	}
	return p.styles.Error.Render("no")
}

func (p *Printer) linef(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

// Bar draws a fixed-width progress bar with a percentage.
func Bar(percent float64, width int) string {
	percent = min(max(percent, 0), 100)
	filled := int(percent / 100 * float64(width))
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), percent)
}
