package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/sbarron/ambiance/internal/chunk"
	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// StaticEmbedder hashes identifier tokens and character trigrams into a
// fixed-width vector. No network, no model download, fully deterministic.
// Semantic quality is limited to lexical overlap.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// codeStopWords are language keywords too common to carry meaning.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
	"if": true, "else": true, "for": true, "the": true,
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var wordRegex = regexp.MustCompile(`[A-Za-z0-9_]+`)

// NewStaticEmbedder creates a hash embedder of the given width; dims <= 0
// selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed returns a unit vector for text. Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	vector := make([]float32, e.dims)
	for _, token := range tokenize(trimmed) {
		vector[hashToIndex(token, e.dims)] += tokenWeight
	}
	for _, gram := range trigrams(trimmed) {
		vector[hashToIndex(gram, e.dims)] += ngramWeight
	}
	return normalizeVector(vector), nil
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// Dimensions returns the configured width.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns StaticModelName.
func (e *StaticEmbedder) ModelName() string { return StaticModelName }

// Provider returns ProviderStatic.
func (e *StaticEmbedder) Provider() string { return ProviderStatic }

// Available reports whether the embedder is still open.
func (e *StaticEmbedder) Available(_ context.Context) bool { return !e.isClosed() }

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *StaticEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// tokenize splits text into lowercase identifier parts without stop words.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, t := range chunk.SplitIdentifier(word) {
			if t != "" && !codeStopWords[t] {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

// trigrams returns sliding 3-rune windows over the letters and digits of text.
func trigrams(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	runes := []rune(b.String())
	if len(runes) < ngramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-ngramSize+1)
	for i := 0; i+ngramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+ngramSize]))
	}
	return out
}

// hashToIndex maps s to a bucket with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
