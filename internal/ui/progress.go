package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/sbarron/ambiance/internal/generation"
)

// Progress renders one-line generation progress for terminals.
type Progress struct {
	bar    progress.Model
	styles Styles
}

// NewProgress creates a Progress with a bar width columns wide.
func NewProgress(width int) *Progress {
	return &Progress{
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(width),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Line renders s as "<bar>  42%  21/50 files".
func (p *Progress) Line(s *generation.Session) string {
	frac := 0.0
	if s.Progress.TotalFiles > 0 {
		frac = float64(s.Progress.ProcessedFiles) / float64(s.Progress.TotalFiles)
	}
	return fmt.Sprintf("%s  %s  %s",
		p.bar.ViewAs(frac),
		fmt.Sprintf("%3.0f%%", frac*100),
		p.styles.Dim.Render(fmt.Sprintf("%d/%d files", s.Progress.ProcessedFiles, s.Progress.TotalFiles)))
}
