package chunk

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// DefaultMaxChunkLines bounds one chunk; longer declarations are windowed.
const DefaultMaxChunkLines = 120

// declPattern recognises a top-level declaration. The name is taken from
// the "name" group.
type declPattern struct {
	re   *regexp.Regexp
	kind SymbolKind
}

var declPatterns = []declPattern{
	{regexp.MustCompile(`^func\s+\([^)]*\)\s*(?P<name>[A-Za-z_]\w*)`), KindMethod},
	{regexp.MustCompile(`^func\s+(?P<name>[A-Za-z_]\w*)`), KindFunction},
	{regexp.MustCompile(`^type\s+(?P<name>[A-Za-z_]\w*)\s+interface\b`), KindInterface},
	{regexp.MustCompile(`^type\s+(?P<name>[A-Za-z_]\w*)\s+struct\b`), KindClass},
	{regexp.MustCompile(`^type\s+(?P<name>[A-Za-z_]\w*)`), KindType},
	{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+(?P<name>[A-Za-z_$][\w$]*)`), KindFunction},
	{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(?P<name>[A-Za-z_$][\w$]*)`), KindClass},
	{regexp.MustCompile(`^(?:export\s+)?interface\s+(?P<name>[A-Za-z_$][\w$]*)`), KindInterface},
	{regexp.MustCompile(`^(?:export\s+)?type\s+(?P<name>[A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*=`), KindType},
	{regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(?P<name>[A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=]+)?=>|[A-Za-z_$][\w$]*\s*=>)`), KindFunction},
	{regexp.MustCompile(`^(?:export\s+)?const\s+(?P<name>[A-Za-z_$][\w$]*)`), KindConstant},
	{regexp.MustCompile(`^(?:export\s+)?(?:let|var)\s+(?P<name>[A-Za-z_$][\w$]*)`), KindVariable},
	{regexp.MustCompile(`^const\s+(?P<name>[A-Za-z_]\w*)`), KindConstant},
	{regexp.MustCompile(`^var\s+(?P<name>[A-Za-z_]\w*)`), KindVariable},
	{regexp.MustCompile(`^(?:async\s+)?def\s+(?P<name>[A-Za-z_]\w*)`), KindFunction},
	{regexp.MustCompile(`^class\s+(?P<name>[A-Za-z_]\w*)`), KindClass},
	{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+(?P<name>[A-Za-z_]\w*)`), KindFunction},
	{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum)\s+(?P<name>[A-Za-z_]\w*)`), KindClass},
	{regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?trait\s+(?P<name>[A-Za-z_]\w*)`), KindInterface},
}

var (
	routePattern = regexp.MustCompile(`(?i)\b(?:app|router|r|mux|server|api)\.(?:get|post|put|patch|delete|handle|handlefunc|route|use)\s*\(`)
	toolPattern  = regexp.MustCompile(`(?i)\b(?:registerTool|addTool|AddTool|server\.tool|defineTool)\s*\(`)
	schemaHint   = regexp.MustCompile(`(?i)\b(?:create\s+table|schema|migration)\b`)
	dbHint       = regexp.MustCompile(`(?i)\b(?:sql|query|database|sqlite|postgres|connect|transaction)\b`)

	goImportLine  = regexp.MustCompile(`^\s*(?:import\s+)?(?:[A-Za-z_.]\w*\s+)?"([^"]+)"\s*$`)
	jsImport      = regexp.MustCompile(`(?:import\s+(?:[^'"]*\s+from\s+)?|require\(\s*|import\(\s*)['"]([^'"]+)['"]`)
	pyImport      = regexp.MustCompile(`^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	rustUse       = regexp.MustCompile(`^\s*use\s+([\w:]+)`)
	jsExport      = regexp.MustCompile(`^export\s+(?:default\s+)?(?:async\s+)?(?:function\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
	goExportDecl  = regexp.MustCompile(`^(?:func(?:\s+\([^)]*\))?|type|const|var)\s+([A-Z]\w*)`)
	pyExportDecl  = regexp.MustCompile(`^(?:async\s+)?(?:def|class)\s+([A-Za-z]\w*)`)
	commentPrefix = regexp.MustCompile(`^\s*(?://|#|/\*|\*|--|""")`)
)

// BoundaryProducer splits files at top-level declarations without a
// language-specific parser.
type BoundaryProducer struct {
	MaxLines int
}

// NewBoundaryProducer returns a producer with DefaultMaxChunkLines.
func NewBoundaryProducer() *BoundaryProducer {
	return &BoundaryProducer{MaxLines: DefaultMaxChunkLines}
}

// Produce reads file from root and splits it.
func (p *BoundaryProducer) Produce(ctx context.Context, root string, file FileInfo) ([]IndexedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file.Path)))
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeChunkingFailed, "cannot read source file", err).
			WithDetail("path", file.Path)
	}
	return p.Split(file.Path, data), nil
}

type boundary struct {
	line int // 0-indexed first line, doc comments included
	name string
	kind SymbolKind
}

// Split chunks content. A non-empty preamble before the first declaration
// becomes its own chunk.
func (p *BoundaryProducer) Split(filePath string, content []byte) []IndexedChunk {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	lang := DetectLanguage(filePath)
	imports := extractImports(lines, lang)
	exports := extractExports(lines, lang)

	bounds := findBoundaries(lines)
	if len(bounds) == 0 || bounds[0].line > 0 {
		bounds = append([]boundary{{line: 0, kind: KindUnknown}}, bounds...)
	}

	maxLines := p.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxChunkLines
	}

	var chunks []IndexedChunk
	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].line
		}
		for end > b.line && strings.TrimSpace(lines[end-1]) == "" {
			end--
		}
		if end <= b.line {
			continue
		}
		for start := b.line; start < end; start += maxLines {
			stop := min(start+maxLines, end)
			body := strings.Join(lines[start:stop], "\n")
			if strings.TrimSpace(body) == "" {
				continue
			}
			chunks = append(chunks, buildChunk(filePath, lang, body, start+1, stop, b, imports, exports))
		}
	}
	return chunks
}

func findBoundaries(lines []string) []boundary {
	var out []boundary
	for i, line := range lines {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		for _, dp := range declPatterns {
			m := dp.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			start := i
			for start > 0 && commentPrefix.MatchString(lines[start-1]) && strings.TrimSpace(lines[start-1]) != "" {
				start--
			}
			if len(out) > 0 && start <= out[len(out)-1].line {
				start = i
			}
			out = append(out, boundary{line: start, name: m[dp.re.SubexpIndex("name")], kind: dp.kind})
			break
		}
	}
	return out
}

func buildChunk(filePath, lang, body string, startLine, endLine int, b boundary, imports, exports []string) IndexedChunk {
	kind := b.kind
	if kind == KindFunction || kind == KindMethod || kind == KindUnknown || kind == KindConstant {
		switch {
		case toolPattern.MatchString(body):
			kind = KindTool
		case routePattern.MatchString(body):
			kind = KindRoute
		}
	}

	meta := Meta{
		Path:       filePath,
		SymbolName: b.name,
		SymbolKind: kind,
		Imports:    imports,
		Exports:    exports,
		Language:   lang,
		StartLine:  startLine,
		EndLine:    endLine,
	}
	meta.Signals = deriveSignals(filePath, b.name, kind, body)
	meta.FacetTags = deriveFacets(filePath, meta.Signals)

	return IndexedChunk{
		ID:       ChunkID(filePath, startLine),
		FilePath: filePath,
		Content:  body,
		Meta:     meta,
	}
}

// deriveSignals returns lowercase name tokens plus any structural anchors.
func deriveSignals(filePath, name string, kind SymbolKind, body string) []string {
	set := map[string]bool{}
	tokens := SplitIdentifier(name)
	for _, t := range tokens {
		set[t] = true
	}

	base := strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	base = strings.ToLower(strings.SplitN(base, ".", 2)[0])
	lowerPath := strings.ToLower(filePath)
	has := func(words ...string) bool {
		for _, w := range words {
			if set[w] || base == w {
				return true
			}
		}
		return false
	}

	if has("init", "initialize", "setup", "bootstrap") {
		set["init"] = true
	}
	if strings.EqualFold(name, "main") || base == "main" {
		set["main"] = true
	}
	if kind == KindRoute || has("route", "routes", "router") {
		set["route"] = true
	}
	if has("handler", "handlers", "handle") {
		set["handler"] = true
	}
	if schemaHint.MatchString(body) || has("schema", "migration", "migrate") {
		set["schema"] = true
	}
	if has("config", "settings", "env") || strings.Contains(lowerPath, "config") {
		set["config"] = true
	}
	if has("auth", "login", "token", "session") || strings.Contains(lowerPath, "/auth") {
		set["auth"] = true
	}
	if has("db", "database") || pathHasSegment(lowerPath, "db", "database") || dbHint.MatchString(body) {
		set["db"] = true
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// deriveFacets tags a chunk with its directory and role so diversity can
// cap over-represented areas.
func deriveFacets(filePath string, signals []string) []string {
	var facets []string
	dir := path.Dir(filePath)
	if dir != "." {
		segs := strings.Split(strings.ToLower(dir), "/")
		facets = append(facets, "dir:"+segs[len(segs)-1])
	}
	if IsTestPath(filePath) {
		facets = append(facets, "tests")
	}
	for _, s := range signals {
		switch s {
		case "init", "route", "handler", "schema", "config", "auth", "db":
			facets = append(facets, s)
		}
	}
	return facets
}

func pathHasSegment(p string, names ...string) bool {
	for _, seg := range strings.Split(p, "/") {
		for _, n := range names {
			if seg == n {
				return true
			}
		}
	}
	return false
}

// SplitIdentifier breaks camelCase, PascalCase and snake_case names into
// lowercase tokens.
func SplitIdentifier(name string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '$' || r == '.':
			flush()
		case unicode.IsUpper(r):
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			if prevLower || (nextLower && len(cur) > 0) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}

func extractImports(lines []string, lang string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	inGoBlock := false
	for _, line := range lines {
		switch lang {
		case "go":
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "import ("):
				inGoBlock = true
			case inGoBlock && trimmed == ")":
				inGoBlock = false
			case inGoBlock || strings.HasPrefix(trimmed, "import "):
				if m := goImportLine.FindStringSubmatch(trimmed); m != nil {
					add(m[1])
				}
			}
		case "typescript", "javascript":
			for _, m := range jsImport.FindAllStringSubmatch(line, -1) {
				add(m[1])
			}
		case "python":
			if m := pyImport.FindStringSubmatch(line); m != nil {
				add(m[1] + m[2])
			}
		case "rust":
			if m := rustUse.FindStringSubmatch(line); m != nil {
				add(m[1])
			}
		}
	}
	return out
}

func extractExports(lines []string, lang string) []string {
	var re *regexp.Regexp
	switch lang {
	case "typescript", "javascript":
		re = jsExport
	case "go":
		re = goExportDecl
	case "python":
		re = pyExportDecl
	default:
		return nil
	}
	var out []string
	for _, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}
