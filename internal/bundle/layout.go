package bundle

import (
	"encoding/json"
	"strings"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Layout renders admitted entries as bundle content. Render's output is
// Frame plus the concatenation of Entry over all entries, so its token
// estimate never exceeds the framing plus the sum of entry costs.
type Layout interface {
	Entry(e Entry) string
	Frame() string
	Render(entries []Entry) string
}

// Layouts for the two content formats.
var (
	Markdown Layout = markdownLayout{}
	JSON     Layout = jsonLayout{}
)

// Render renders entries in the Markdown layout.
func Render(entries []Entry) string {
	return Markdown.Render(entries)
}

// entryCost returns the tokens e occupies in layout. The JSON form carries
// the count itself, so it is raised until the rendered entry fits in it.
func entryCost(layout Layout, e Entry) int {
	for {
		n := chunk.EstimateTokens(layout.Entry(e))
		if n <= e.Tokens {
			return e.Tokens
		}
		e.Tokens = n
	}
}

type markdownLayout struct{}

func (markdownLayout) Frame() string { return "" }

func (markdownLayout) Entry(e Entry) string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(e.File)
	if e.Symbol != "" {
		b.WriteString(" · ")
		b.WriteString(e.Symbol)
	}
	b.WriteString("\n```")
	b.WriteString(e.Language)
	b.WriteString("\n")
	b.WriteString(e.Snippet)
	b.WriteString("\n```\n\n")
	return b.String()
}

func (l markdownLayout) Render(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(l.Entry(e))
	}
	return b.String()
}

// jsonLayout renders an indented JSON array of entries.
type jsonLayout struct{}

// Frame is the "[\n" and "]" around the elements; the last element trades
// its ",\n" for "\n".
func (jsonLayout) Frame() string { return "[\n]" }

func (jsonLayout) Entry(e Entry) string {
	// Entry holds only strings and ints.
	data, _ := json.MarshalIndent(e, "  ", "  ")
	return "  " + string(data) + ",\n"
}

func (l jsonLayout) Render(entries []Entry) string {
	if len(entries) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("[\n")
	for i, e := range entries {
		s := l.Entry(e)
		if i == len(entries)-1 {
			s = strings.TrimSuffix(s, ",\n") + "\n"
		}
		b.WriteString(s)
	}
	b.WriteString("]")
	return b.String()
}
