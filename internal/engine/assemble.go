package engine

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sbarron/ambiance/internal/bundle"
	"github.com/sbarron/ambiance/internal/chunk"
	"github.com/sbarron/ambiance/internal/rank"
	"github.com/sbarron/ambiance/internal/store"
)

func toCandidates(hits []store.ScoredChunk) []rank.Candidate {
	out := make([]rank.Candidate, len(hits))
	for i, h := range hits {
		c := h.Chunk
		out[i] = rank.Candidate{
			ID:         c.ID,
			Path:       c.FilePath,
			Name:       c.Meta.SymbolName,
			Kind:       c.Meta.SymbolKind,
			Facets:     c.Meta.FacetTags,
			Signals:    c.Meta.Signals,
			Similarity: h.Score,
			Vector:     c.Vector,
		}
	}
	return out
}

func importsByFile(chunks []store.Chunk) map[string][]string {
	out := make(map[string][]string)
	for _, c := range chunks {
		if _, ok := out[c.FilePath]; !ok || len(out[c.FilePath]) == 0 {
			out[c.FilePath] = c.Meta.Imports
		}
	}
	return out
}

// sourceCache reads project files once per request.
type sourceCache struct {
	root  string
	files map[string][]string
}

func newSourceCache(root string) *sourceCache {
	return &sourceCache{root: root, files: make(map[string][]string)}
}

// lines returns the file's lines, or nil when it cannot be read.
func (s *sourceCache) lines(rel string) []string {
	if l, ok := s.files[rel]; ok {
		return l
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	var l []string
	if err == nil {
		l = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	}
	s.files[rel] = l
	return l
}

// block expands a chunk to its enclosing block in the current file. It
// falls back to the stored text when the file is gone or has shrunk.
func (s *sourceCache) block(c store.Chunk) (text string, start, end int) {
	first, last := c.Meta.StartLine-1, c.Meta.EndLine-1
	lines := s.lines(c.FilePath)
	if len(lines) == 0 || first < 0 || first >= len(lines) {
		return c.Text, max(first, 0), max(last, first)
	}
	last = min(max(last, first), len(lines)-1)

	start, end = bundle.ExpandBlock(lines, firstCodeLine(lines, first, last), bundle.DefaultExpandOptions)
	start = min(start, first)
	end = max(end, last)
	return strings.Join(lines[start:end+1], "\n"), start, end
}

// firstCodeLine skips leading blank and comment lines of a chunk so block
// expansion starts at its declaration.
func firstCodeLine(lines []string, from, to int) int {
	for i := from; i <= to; i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" || strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") ||
			strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*") {
			continue
		}
		return i
	}
	return from
}

// buildCandidates turns selected chunks into bundle candidates. Blocks that
// overlap one already taken from the same file are merged into it.
func buildCandidates(selected []rank.Ranked, hits []store.ScoredChunk, src *sourceCache) []bundle.Candidate {
	byID := make(map[string]store.Chunk, len(hits))
	for _, h := range hits {
		byID[h.Chunk.ID] = h.Chunk
	}

	type span struct {
		start, end int
		idx        int
	}
	taken := map[string][]span{}
	out := make([]bundle.Candidate, 0, len(selected))
	for _, r := range selected {
		c, ok := byID[r.Candidate.ID]
		if !ok {
			continue
		}
		text, start, end := src.block(c)
		lang := c.Meta.Language
		if lang == "" {
			lang = chunk.DetectLanguage(c.FilePath)
		}

		merged := false
		for i, sp := range taken[c.FilePath] {
			if start > sp.end || sp.start > end {
				continue
			}
			lines := src.lines(c.FilePath)
			if len(lines) == 0 {
				merged = true // stored text only; keep the first
				break
			}
			sp.start, sp.end = min(sp.start, start), min(max(sp.end, end), len(lines)-1)
			taken[c.FilePath][i] = sp
			cand := &out[sp.idx]
			cand.Snippet = bundle.Normalize(strings.Join(lines[sp.start:sp.end+1], "\n"), lang)
			cand.StartLine, cand.EndLine = sp.start+1, sp.end+1
			cand.Confidence = max(cand.Confidence, r.Confidence)
			if cand.Symbol == "" {
				cand.Symbol = c.Meta.SymbolName
			}
			merged = true
			break
		}
		if merged {
			continue
		}

		taken[c.FilePath] = append(taken[c.FilePath], span{start: start, end: end, idx: len(out)})
		out = append(out, bundle.Candidate{
			File:       c.FilePath,
			Symbol:     c.Meta.SymbolName,
			Language:   lang,
			Snippet:    bundle.Normalize(text, lang),
			Priority:   bundle.Classify(c.FilePath, c.Meta.SymbolName).Priority(),
			Confidence: r.Confidence,
			StartLine:  start + 1,
			EndLine:    end + 1,
		})
	}
	return out
}

func countFiles(entries []bundle.Entry) int {
	files := map[string]bool{}
	for _, e := range entries {
		files[e.File] = true
	}
	return len(files)
}

// compressionRatio is the token estimate of the included files in full over
// the tokens emitted, rounded to two decimals.
func compressionRatio(src *sourceCache, entries []bundle.Entry, used int) float64 {
	if used == 0 {
		return 0
	}
	seen := map[string]bool{}
	raw := 0
	for _, e := range entries {
		if seen[e.File] {
			continue
		}
		seen[e.File] = true
		raw += chunk.EstimateTokens(strings.Join(src.lines(e.File), "\n"))
	}
	return math.Round(float64(raw)/float64(used)*100) / 100
}
