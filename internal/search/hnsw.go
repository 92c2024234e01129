package search

import (
	"math"

	"github.com/coder/hnsw"

	"github.com/sbarron/ambiance/internal/quantize"
	"github.com/sbarron/ambiance/internal/store"
)

// HNSW parameters.
const (
	hnswM        = 16
	hnswEfSearch = 64
	hnswMl       = 0.25
)

// annIndex is an approximate nearest-neighbour graph over one project's
// chunks. Node keys are indexes into the chunk slice it was built from.
type annIndex struct {
	graph *hnsw.Graph[int]
	dims  int
	// skipped counts chunks left out of the graph for a foreign width.
	skipped int
}

func buildANN(chunks []store.Chunk) *annIndex {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = hnswM
	g.EfSearch = hnswEfSearch
	g.Ml = hnswMl

	idx := &annIndex{graph: g}
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			continue
		}
		if idx.dims == 0 {
			idx.dims = len(c.Vector)
		}
		if len(c.Vector) != idx.dims {
			idx.skipped++
			continue
		}
		vec := normalized(c.Vector)
		if vec == nil {
			continue
		}
		g.Add(hnsw.MakeNode(i, vec))
	}
	return idx
}

func (a *annIndex) len() int {
	if a == nil {
		return 0
	}
	return a.graph.Len()
}

// search fetches candidates from the graph and re-scores them exactly.
func (a *annIndex) search(chunks []store.Chunk, query []float32, topK int, minSimilarity float64) ([]store.ScoredChunk, int) {
	if len(query) != a.dims {
		return nil, a.graph.Len() + a.skipped
	}
	if a.graph.Len() == 0 {
		return nil, a.skipped
	}
	q := normalized(query)
	if q == nil {
		return nil, a.skipped
	}

	k := topK
	if k <= 0 || k > a.graph.Len() {
		k = a.graph.Len()
	}
	nodes := a.graph.Search(q, k)

	hits := make([]store.ScoredChunk, 0, len(nodes))
	for _, n := range nodes {
		c := chunks[n.Key]
		sim := quantize.CosineSimilarity(query, c.Vector)
		if sim >= minSimilarity {
			hits = append(hits, store.ScoredChunk{Chunk: c, Score: sim})
		}
	}
	return hits, a.skipped
}

// normalized returns a unit-length copy of v, or nil for the zero vector.
func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}
