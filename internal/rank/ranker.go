// Package rank orders retrieval candidates with a deterministic,
// multiplicative score and diversifies the selection.
//
//	score = pathPrior × surfaceBoost × degreeBoost × recencyBoost × keywordScore
//
// No weights are learned; the same inputs always produce the same order and
// the same explanations.
package rank

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Item is a rankable symbol: an exported function, route, tool or type.
type Item struct {
	ID   string
	Name string
	Path string
	Kind chunk.SymbolKind
}

// Scored is an Item with its score and explanation.
type Scored struct {
	Item
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Why        []string `json:"why,omitempty"`
}

// Ranker scores items against a project's import graph and commit history.
type Ranker struct {
	graph   *Graph
	commits map[string]time.Time
	now     time.Time
}

// NewRanker creates a Ranker. graph and commits may be nil; missing data is
// neutral. now anchors commit ages.
func NewRanker(graph *Graph, commits map[string]time.Time, now time.Time) *Ranker {
	return &Ranker{graph: graph, commits: commits, now: now}
}

// Score computes the multiplicative score of one item.
func (r *Ranker) Score(item Item, terms []string) Scored {
	var why []string
	note := func(factor string, v float64, reason string) {
		if v != 1.0 {
			why = append(why, fmt.Sprintf("%s=%.2f: %s", factor, v, reason))
		}
	}

	prior, priorReason := pathPrior(item.Path)
	note("pathPrior", prior, priorReason)

	surface := surfaceBoost(item.Kind)
	note("surfaceBoost", surface, "kind "+string(item.Kind))

	in, out := r.graph.Degree(item.Path)
	degree := degreeBoost(in, out)
	note("degreeBoost", degree, fmt.Sprintf("imported by %d, imports %d", in, out))

	commit, known := r.commits[item.Path]
	recency, recencyReason := recencyBoost(r.now.Sub(commit), known)
	note("recencyBoost", recency, recencyReason)

	keyword, matches := keywordScore(item.Name, item.Path, terms)
	if len(matches) > 0 {
		parts := make([]string, len(matches))
		for i, m := range matches {
			parts[i] = m.term + " (" + m.how + ")"
		}
		note("keywordScore", keyword, "matched "+strings.Join(parts, ", "))
	}

	score := prior * surface * degree * recency * keyword
	return Scored{Item: item, Score: score, Confidence: Confidence(score), Why: why}
}

// Rank scores items and sorts them by score, then path, then name.
func (r *Ranker) Rank(items []Item, terms []string) []Scored {
	out := make([]Scored, len(items))
	for i, it := range items {
		out[i] = r.Score(it, terms)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], out[i].Score, out[j].Score)
	})
	return out
}

func less(a, b Scored, sa, sb float64) bool {
	if sa != sb {
		return sa > sb
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

// Confidence maps a raw score onto [0.5, 0.98] for display. It never
// affects ordering.
func Confidence(score float64) float64 {
	c := min(max(score, 0.5), 3.0)
	return 0.5 + (c-0.5)/2.5*0.48
}
