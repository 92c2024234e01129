package rank

import (
	"sort"

	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/quantize"
)

// Lambda bounds for MMR.
const (
	MinLambda     = 0.3
	MaxLambda     = 0.5
	DefaultLambda = 0.4
)

// Candidate is a retrieved chunk awaiting ranking.
type Candidate struct {
	ID         string
	Path       string
	Name       string
	Kind       chunk.SymbolKind
	Facets     []string
	Signals    []string
	Similarity float64
	Vector     []float32
}

// Ranked is a scored chunk. Relevance = Similarity × Score.
type Ranked struct {
	Candidate
	Scored
	Relevance float64
}

// RankChunks scores every candidate and orders them by relevance.
func (r *Ranker) RankChunks(cands []Candidate, terms []string) []Ranked {
	out := make([]Ranked, len(cands))
	for i, c := range cands {
		s := r.Score(Item{ID: c.ID, Name: c.Name, Path: c.Path, Kind: c.Kind}, terms)
		out[i] = Ranked{Candidate: c, Scored: s, Relevance: c.Similarity * s.Score}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i].Scored, out[j].Scored, out[i].Relevance, out[j].Relevance)
	})
	return out
}

// DiversityOptions tunes Diversify.
type DiversityOptions struct {
	// Lambda trades relevance (high) against novelty (low). Clamped to [0.3, 0.5].
	Lambda float64
	// FacetCap bounds how many selected chunks may share a facet. Zero disables.
	FacetCap int
	// Limit bounds the selection. Zero keeps every eligible chunk.
	Limit int
}

// ClampLambda forces l into [MinLambda, MaxLambda]; zero selects the default.
func ClampLambda(l float64) float64 {
	if l == 0 {
		return DefaultLambda
	}
	return min(max(l, MinLambda), MaxLambda)
}

// Diversify re-ranks items by maximal marginal relevance:
// λ·rel − (1−λ)·maxSim(selected). A chunk whose every facet has reached
// the cap is skipped. items must already be in relevance order.
func Diversify(items []Ranked, opts DiversityOptions) []Ranked {
	lambda := ClampLambda(opts.Lambda)
	limit := opts.Limit
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}

	top := 0.0
	for _, it := range items {
		top = max(top, it.Relevance)
	}
	norm := func(v float64) float64 {
		if top == 0 {
			return 0
		}
		return v / top
	}

	used := make([]bool, len(items))
	facetCount := map[string]int{}
	var selected []Ranked

	for len(selected) < limit {
		best, bestMMR := -1, 0.0
		for i, it := range items {
			if used[i] || capped(it.Facets, facetCount, opts.FacetCap) {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				maxSim = max(maxSim, similarity(it.Candidate, s.Candidate))
			}
			mmr := lambda*norm(it.Relevance) - (1-lambda)*maxSim
			if best < 0 || mmr > bestMMR {
				best, bestMMR = i, mmr
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		for _, f := range items[best].Facets {
			facetCount[f]++
		}
		selected = append(selected, items[best])
	}
	return selected
}

func capped(facets []string, counts map[string]int, limit int) bool {
	if limit <= 0 || len(facets) == 0 {
		return false
	}
	for _, f := range facets {
		if counts[f] < limit {
			return false
		}
	}
	return true
}

// similarity is the cosine of the chunk vectors; without vectors two chunks
// of the same file count as identical.
func similarity(a, b Candidate) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		return quantize.CosineSimilarity(a.Vector, b.Vector)
	}
	if a.Path == b.Path {
		return 1
	}
	return 0
}

// Anchors are signals marking high-value code.
var Anchors = []string{"init", "main", "route", "handler", "schema", "config", "auth", "db"}

// Report summarises a selection.
type Report struct {
	AnchorsHit  []string       `json:"anchors_hit"`
	FacetCounts map[string]int `json:"facet_counts"`
	UniqueFiles int            `json:"unique_files"`
	Considered  int            `json:"considered"`
	Coverage    float64        `json:"coverage"`
}

// BuildReport computes anchors, facet counts and coverage, where coverage
// is unique files selected over chunks considered, capped at 1.
func BuildReport(selected []Ranked, considered int) Report {
	rep := Report{FacetCounts: map[string]int{}, Considered: considered}
	anchors := map[string]bool{}
	files := map[string]bool{}
	for _, s := range selected {
		files[s.Candidate.Path] = true
		for _, f := range s.Facets {
			rep.FacetCounts[f]++
		}
		for _, sig := range s.Signals {
			if contains(Anchors, sig) {
				anchors[sig] = true
			}
		}
	}
	for _, a := range Anchors {
		if anchors[a] {
			rep.AnchorsHit = append(rep.AnchorsHit, a)
		}
	}
	rep.UniqueFiles = len(files)
	if considered > 0 {
		rep.Coverage = min(1.0, float64(rep.UniqueFiles)/float64(considered))
	}
	return rep
}
