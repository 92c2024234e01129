package bundle

import (
	"sort"
	"strings"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Reserve sizing for high-priority candidates.
const (
	ReserveFraction  = 0.3
	MaxReserveTokens = 1500
	HighPriority     = 0.8
)

// Candidate is a normalised snippet competing for the budget.
type Candidate struct {
	File       string
	Symbol     string
	Language   string
	Snippet    string
	Priority   float64
	Confidence float64
	StartLine  int
	EndLine    int
}

// Entry is an admitted snippet.
type Entry struct {
	File       string `json:"file"`
	Symbol     string `json:"symbol,omitempty"`
	Language   string `json:"language,omitempty"`
	Snippet    string `json:"snippet"`
	ByteLength int    `json:"byte_length"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Tokens     int    `json:"tokens"`
}

// Result is the outcome of Pack.
type Result struct {
	Entries    []Entry
	TokensUsed int
	Skipped    int
}

// Pack admits candidates into budget tokens, costing them in the Markdown
// layout.
func Pack(cands []Candidate, budget int) Result {
	return PackLayout(cands, budget, Markdown)
}

// PackLayout admits candidates into budget tokens. Each entry costs the
// tokens of its form in layout, and the layout's framing is charged once.
// Candidates with priority >= HighPriority first fill a reserve of
// min(30% of budget, 1500 tokens) in priority order; every remaining
// candidate is then admitted greedily by priority × confidence while it
// fits. Snippets are never truncated, so a candidate larger than the space
// left is skipped.
func PackLayout(cands []Candidate, budget int, layout Layout) Result {
	var res Result
	res.TokensUsed = chunk.EstimateTokens(layout.Frame())
	if budget <= 0 || res.TokensUsed > budget {
		res.Skipped = len(cands)
		res.TokensUsed = 0
		return res
	}

	type item struct {
		c     Candidate
		idx   int
		entry Entry
	}
	items := make([]item, 0, len(cands))
	seen := map[string]bool{}
	for i, c := range cands {
		key := c.File + "\x00" + c.Snippet
		if strings.TrimSpace(c.Snippet) == "" || seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true
		e := Entry{
			File:       c.File,
			Symbol:     c.Symbol,
			Language:   c.Language,
			Snippet:    c.Snippet,
			ByteLength: len(c.Snippet),
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
		}
		e.Tokens = entryCost(layout, e)
		items = append(items, item{c: c, idx: i, entry: e})
	}

	admitted := make([]bool, len(items))
	admit := func(i int) {
		admitted[i] = true
		res.Entries = append(res.Entries, items[i].entry)
		res.TokensUsed += items[i].entry.Tokens
	}

	reserve := min(int(float64(budget)*ReserveFraction), MaxReserveTokens)
	high := make([]int, 0, len(items))
	for i, it := range items {
		if it.c.Priority >= HighPriority {
			high = append(high, i)
		}
	}
	sort.SliceStable(high, func(a, b int) bool {
		ca, cb := items[high[a]].c, items[high[b]].c
		if ca.Priority != cb.Priority {
			return ca.Priority > cb.Priority
		}
		return ca.Confidence > cb.Confidence
	})
	for _, i := range high {
		if res.TokensUsed+items[i].entry.Tokens <= reserve {
			admit(i)
		}
	}

	rest := make([]int, 0, len(items))
	for i := range items {
		if !admitted[i] {
			rest = append(rest, i)
		}
	}
	sort.SliceStable(rest, func(a, b int) bool {
		ca, cb := items[rest[a]].c, items[rest[b]].c
		return ca.Priority*ca.Confidence > cb.Priority*cb.Confidence
	})
	for _, i := range rest {
		if res.TokensUsed+items[i].entry.Tokens <= budget {
			admit(i)
		} else {
			res.Skipped++
		}
	}
	return res
}
