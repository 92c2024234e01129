package rank

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranked(id, path string, rel float64, vec []float32, facets ...string) Ranked {
	return Ranked{
		Candidate: Candidate{ID: id, Path: path, Name: id, Facets: facets, Vector: vec},
		Relevance: rel,
	}
}

func selectedIDs(items []Ranked) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Candidate.ID
	}
	return out
}

func TestDiversify_PrefersNovelChunks(t *testing.T) {
	items := []Ranked{
		ranked("a", "a.go", 1.0, []float32{1, 0}),
		ranked("dup", "b.go", 0.95, []float32{1, 0}),
		ranked("c", "c.go", 0.8, []float32{0, 1}),
	}

	got := Diversify(items, DiversityOptions{Lambda: 0.4})

	assert.Equal(t, []string{"a", "c", "dup"}, selectedIDs(got))
}

func TestDiversify_FacetCap(t *testing.T) {
	var items []Ranked
	for i := 0; i < 4; i++ {
		items = append(items, ranked(fmt.Sprintf("s%d", i), fmt.Sprintf("store/%d.go", i), 1-float64(i)*0.1,
			[]float32{1, float32(i)}, "dir:store"))
	}
	items = append(items, ranked("api", "api/h.go", 0.3, []float32{0, 1}, "dir:api"))

	got := Diversify(items, DiversityOptions{FacetCap: 2})

	require.Len(t, got, 3)
	assert.Contains(t, selectedIDs(got), "api")
	n := 0
	for _, it := range got {
		if it.Facets[0] == "dir:store" {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestDiversify_Limit(t *testing.T) {
	items := []Ranked{
		ranked("a", "a.go", 1, nil),
		ranked("b", "b.go", 0.9, nil),
		ranked("c", "c.go", 0.8, nil),
	}
	got := Diversify(items, DiversityOptions{Limit: 2})
	assert.Equal(t, []string{"a", "b"}, selectedIDs(got))
}

func TestClampLambda(t *testing.T) {
	assert.Equal(t, DefaultLambda, ClampLambda(0))
	assert.Equal(t, MinLambda, ClampLambda(0.1))
	assert.Equal(t, MaxLambda, ClampLambda(0.9))
	assert.Equal(t, 0.45, ClampLambda(0.45))
}

func TestBuildReport(t *testing.T) {
	sel := []Ranked{
		ranked("a", "src/db.go", 1, nil, "dir:src", "db"),
		ranked("b", "src/db.go", 1, nil, "dir:src"),
		ranked("c", "cmd/main.go", 1, nil, "dir:cmd"),
	}
	sel[0].Signals = []string{"open", "db", "init"}
	sel[2].Signals = []string{"main"}

	rep := BuildReport(sel, 10)

	assert.Equal(t, []string{"init", "main", "db"}, rep.AnchorsHit)
	assert.Equal(t, 2, rep.FacetCounts["dir:src"])
	assert.Equal(t, 2, rep.UniqueFiles)
	assert.InDelta(t, 0.2, rep.Coverage, 1e-9)
	assert.Equal(t, 1.0, BuildReport(sel, 1).Coverage)
}

func TestRankChunks_RelevanceCombinesSimilarity(t *testing.T) {
	r := NewRanker(nil, nil, now)
	out := r.RankChunks([]Candidate{
		{ID: "x", Path: "util/x.go", Name: "helper", Similarity: 0.9},
		{ID: "y", Path: "core/y.go", Name: "Init", Similarity: 0.8},
	}, nil)

	require.Len(t, out, 2)
	assert.Equal(t, "y", out[0].Candidate.ID)
	assert.InDelta(t, 0.8*1.3, out[0].Relevance, 1e-9)
}
