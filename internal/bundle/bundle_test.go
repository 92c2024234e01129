package bundle

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbarron/ambiance/internal/chunk"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path   string
		symbol string
		want   Class
	}{
		{"src/init.ts", "initDatabase", ClassInit},
		{"cmd/app/main.go", "main", ClassInit},
		{"internal/store/store.go", "SaveChunk", ClassReadWrite},
		{"internal/embed/openai.go", "NewClient", ClassProvider},
		{"internal/search/searcher.go", "FindSimilar", ClassSearch},
		{"internal/store/store_test.go", "TestOpen", ClassTests},
		{"config/app.yaml", "", ClassConfig},
		{"internal/config/loader.go", "applyEnvOverrides", ClassConfig},
		{"internal/text/wrap.go", "wrapLines", ClassHelper},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path, tt.symbol))
		})
	}
}

func TestClassPriorityOrder(t *testing.T) {
	order := []Class{ClassInit, ClassReadWrite, ClassProvider, ClassSearch, ClassTests, ClassConfig, ClassHelper}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i-1].Priority(), order[i].Priority())
	}
	assert.Equal(t, 0.3, Class("unknown").Priority())
}

func TestExpandBlock_BraceBalance(t *testing.T) {
	src := strings.Split(`package db

import "database/sql"

// Open connects.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func other() {}`, "\n")

	// Given: a hit in the middle of Open
	start, end := ExpandBlock(src, 8, DefaultExpandOptions)

	// Then: the block spans the declaration to its closing brace, padded
	assert.Equal(t, 3, start)
	assert.Equal(t, 13, end)
}

func TestExpandBlock_IndentFallback(t *testing.T) {
	src := strings.Split(`import os

def load(path):
    with open(path) as f:
        data = f.read()
    return data

def save():
    pass`, "\n")

	start, end := ExpandBlock(src, 4, ExpandOptions{MaxBack: 10, MaxForward: 200})

	assert.Equal(t, 2, start)
	assert.Equal(t, 5, end)
}

func TestExpandBlock_Bounds(t *testing.T) {
	start, end := ExpandBlock(nil, 3, DefaultExpandOptions)
	assert.Equal(t, 0, start)
	assert.Equal(t, -1, end)

	lines := []string{"x := 1", "y := 2"}
	start, end = ExpandBlock(lines, 10, DefaultExpandOptions)
	assert.Equal(t, 0, start)
	assert.Equal(t, 1, end)
}

func TestNormalize_StripsComments(t *testing.T) {
	src := "// header\nfunc a() {\n\tx := \"// not a comment\" /* gone */\n\treturn x // trailing\n}\n"

	got := Normalize(src, "go")

	assert.Equal(t, "func a() {\n\tx := \"// not a comment\"\n\treturn x\n}", got)
}

func TestNormalize_SingleQuotes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		lang string
		want string
	}{
		{
			name: "rust lifetime does not open a string",
			src:  "fn f<'a>(x: &'a str) -> char { // it's a lifetime\n    '/' // slash\n}",
			lang: "rust",
			want: "fn f<'a>(x: &'a str) -> char {\n    '/'\n}",
		},
		{
			name: "escaped character literal",
			src:  "let q = '\\''; // quote\nlet n = '\\n';",
			lang: "rust",
			want: "let q = '\\'';\nlet n = '\\n';",
		},
		{
			name: "go rune literal",
			src:  "r := '/' // slash",
			lang: "go",
			want: "r := '/'",
		},
		{
			name: "javascript single-quoted string",
			src:  "const u = 'http://x' // url",
			lang: "javascript",
			want: "const u = 'http://x'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.src, tt.lang))
		})
	}
}

func TestNormalize_HashComments(t *testing.T) {
	src := "# comment\ndef f():\n    s = '#keep'\n    return s  # drop\n"

	got := Normalize(src, "python")

	assert.Equal(t, "def f():\n    s = '#keep'\n    return s", got)
}

func TestNormalize_CollapsesImports(t *testing.T) {
	src := strings.Join([]string{
		"import a from 'a'",
		"import b from 'b'",
		"import c from 'c'",
		"",
		"export const x = 1",
	}, "\n")

	got := Normalize(src, "typescript")

	assert.Equal(t, "// 3 imports\n\nexport const x = 1", got)

	goSrc := "package x\n\nimport (\n\t\"fmt\"\n\t\"os\"\n\t\"strings\"\n)\n\nfunc f() {}"
	assert.Equal(t, "package x\n\nimport ( // 3 imports )\n\nfunc f() {}", Normalize(goSrc, "go"))

	two := "import a from 'a'\nimport b from 'b'"
	assert.Equal(t, two, Normalize(two, "typescript"))
}

func TestNormalize_ElidesLongLiteralsAndEllipsis(t *testing.T) {
	long := strings.Repeat("x", 80)
	src := "const q = \"" + long + "\"\n...\n\n\n\nconst short = \"ok\"\n"

	got := Normalize(src, "javascript")

	assert.Equal(t, "const q = \""+strings.Repeat("x", 20)+"…\"\n\nconst short = \"ok\"", got)
}

func TestPack_HardCapSkipsOversizedCandidate(t *testing.T) {
	huge := strings.Repeat("a := 1\n", 2000)
	cands := []Candidate{
		{File: "big.go", Snippet: huge, Priority: 1.0, Confidence: 0.98},
		{File: "small.go", Snippet: "func f() {}", Priority: 0.3, Confidence: 0.5},
	}

	res := Pack(cands, 100)

	// Then: the oversized candidate is skipped whole, never truncated
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "small.go", res.Entries[0].File)
	assert.Equal(t, 1, res.Skipped)
	assert.LessOrEqual(t, res.TokensUsed, 100)
	assert.LessOrEqual(t, chunk.EstimateTokens(Render(res.Entries)), 100)
}

func TestPack_NeverExceedsBudget(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 50; i++ {
		cands = append(cands, Candidate{
			File:       "f.go",
			Symbol:     strings.Repeat("s", i%7),
			Snippet:    strings.Repeat("x", 10+i*37%400),
			Priority:   float64(i%10) / 10,
			Confidence: 0.5 + float64(i%5)/10,
		})
	}
	for _, budget := range []int{1, 50, 300, 1000, 3000} {
		res := Pack(cands, budget)
		assert.LessOrEqual(t, res.TokensUsed, budget)
		assert.LessOrEqual(t, chunk.EstimateTokens(Render(res.Entries)), budget)
		for _, e := range res.Entries {
			assert.Equal(t, len(e.Snippet), e.ByteLength)
		}
	}
}

func TestPackLayout_JSONNeverExceedsBudget(t *testing.T) {
	// Given: snippets with quotes and newlines that grow when JSON-escaped
	var cands []Candidate
	for i := 0; i < 30; i++ {
		cands = append(cands, Candidate{
			File:       "pkg/f.go",
			Symbol:     strings.Repeat("s", i%5),
			Language:   "go",
			Snippet:    strings.Repeat("x := \"<a>\"\n", 1+i%12),
			Priority:   float64(i%10) / 10,
			Confidence: 0.5 + float64(i%5)/10,
			StartLine:  i + 1,
			EndLine:    i + 12,
		})
	}

	for _, budget := range []int{1, 40, 150, 300, 1200} {
		// When: packing in the JSON layout
		res := PackLayout(cands, budget, JSON)
		content := JSON.Render(res.Entries)

		// Then: the rendered array fits and decodes back to the entries
		assert.LessOrEqual(t, chunk.EstimateTokens(content), res.TokensUsed, "budget %d", budget)
		assert.LessOrEqual(t, res.TokensUsed, budget, "budget %d", budget)
		var decoded []Entry
		require.NoError(t, json.Unmarshal([]byte(content), &decoded))
		assert.Len(t, decoded, len(res.Entries))
		for _, e := range res.Entries {
			assert.GreaterOrEqual(t, e.Tokens, chunk.EstimateTokens(JSON.Entry(e)))
		}
	}
}

func TestJSONLayout_RenderEmpty(t *testing.T) {
	assert.Equal(t, "[]", JSON.Render(nil))
	assert.LessOrEqual(t, chunk.EstimateTokens(JSON.Render(nil)), chunk.EstimateTokens(JSON.Frame()))
}

func TestPack_ReserveAdmitsHighPriorityFirst(t *testing.T) {
	// Given: a high-priority candidate with low confidence and two medium
	// candidates that outrank it on priority × confidence
	cands := []Candidate{
		{File: "m1.go", Snippet: strings.Repeat("m", 156), Priority: 0.7, Confidence: 0.98},
		{File: "m2.go", Snippet: strings.Repeat("n", 156), Priority: 0.7, Confidence: 0.9},
		{File: "high.go", Snippet: strings.Repeat("h", 50), Priority: 0.8, Confidence: 0.3},
	}

	// When: the budget fits the reserve plus one medium candidate
	res := Pack(cands, 100)

	// Then: the reserve admits the high-priority candidate before the rest
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "high.go", res.Entries[0].File)
	assert.Equal(t, "m1.go", res.Entries[1].File)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 18+44, res.TokensUsed)
}

func TestPack_RemainderByPriorityTimesConfidence(t *testing.T) {
	cands := []Candidate{
		{File: "a.go", Snippet: "a", Priority: 0.5, Confidence: 0.6},
		{File: "b.go", Snippet: "b", Priority: 0.7, Confidence: 0.9},
		{File: "c.go", Snippet: "c", Priority: 0.3, Confidence: 0.9},
	}

	res := Pack(cands, 1000)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, []string{"b.go", "a.go", "c.go"},
		[]string{res.Entries[0].File, res.Entries[1].File, res.Entries[2].File})
}

func TestPack_SkipsEmptyAndDuplicate(t *testing.T) {
	res := Pack([]Candidate{
		{File: "a.go", Snippet: "x"},
		{File: "a.go", Snippet: "x"},
		{File: "b.go", Snippet: "  "},
	}, 100)

	assert.Len(t, res.Entries, 1)
	assert.Equal(t, 2, res.Skipped)
}
