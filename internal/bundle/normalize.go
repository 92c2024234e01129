package bundle

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sbarron/ambiance/internal/chunk"
)

// MaxLiteralLen is the longest string literal kept verbatim.
const MaxLiteralLen = 50

var (
	importLine   = regexp.MustCompile(`^\s*(?:import\s|from\s+\S+\s+import\s|#include\s|use\s+[\w:]+|(?:const|let|var)\s+[\w{},\s]+=\s*require\(|require\(|extern\s+crate\s)`)
	goImportOpen = regexp.MustCompile(`^\s*import\s*\($`)
	longLiteral  = regexp.MustCompile(doubleQuoted + "|" + singleQuoted + "|" + backQuoted)
	// longStringLiteral skips single quotes, which only hold characters.
	longStringLiteral = regexp.MustCompile(doubleQuoted + "|" + backQuoted)
)

var (
	doubleQuoted = "\"(?:[^\"\\\\\\n]|\\\\.){" + fmt.Sprint(MaxLiteralLen+1) + ",}\""
	singleQuoted = "'(?:[^'\\\\\\n]|\\\\.){" + fmt.Sprint(MaxLiteralLen+1) + ",}'"
	backQuoted   = "`[^`]{" + fmt.Sprint(MaxLiteralLen+1) + ",}`"
)

// Normalize shrinks a snippet without changing its structure: comments go,
// long import runs collapse to one line, long literals are elided, ellipsis
// placeholders and repeated blank lines are dropped.
func Normalize(src, language string) string {
	hash := chunk.IsHashCommentLanguage(language)
	charQuotes := chunk.IsCharQuoteLanguage(language)
	text := stripComments(src, hash, charQuotes)
	literals := longLiteral
	if charQuotes {
		literals = longStringLiteral
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	lines = collapseImports(lines, hash)

	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = literals.ReplaceAllStringFunc(l, elideLiteral)
		trimmed := strings.TrimSpace(l)
		if isEllipsis(trimmed) {
			continue
		}
		if trimmed == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, l)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func elideLiteral(lit string) string {
	q := lit[:1]
	body := []rune(lit[1 : len(lit)-1])
	return q + string(body[:min(len(body), 20)]) + "…" + q
}

func isEllipsis(s string) bool {
	switch s {
	case "...", "…", "// ...", "# ...", "/* ... */", "[...]", "{...}":
		return true
	}
	return false
}

// stripComments removes line and block comments outside string literals.
// Newlines inside comments are preserved. With charQuotes a ' opens a
// literal only when it closes as a character literal.
func stripComments(src string, hash, charQuotes bool) string {
	var b strings.Builder
	b.Grow(len(src))
	rs := []rune(src)
	n := len(rs)

	for i := 0; i < n; i++ {
		r := rs[i]
		switch {
		case r == '\'' && charQuotes && !closesCharLiteral(rs, i):
			b.WriteRune(r)
		case r == '"' || r == '\'' || r == '`':
			j := i + 1
			for j < n && rs[j] != r {
				if rs[j] == '\\' && r != '`' {
					j++
				} else if rs[j] == '\n' && r != '`' {
					break
				}
				j++
			}
			end := min(j, n-1)
			b.WriteString(string(rs[i : end+1]))
			i = end
		case hash && r == '#':
			for i < n && rs[i] != '\n' {
				i++
			}
			if i < n {
				b.WriteRune('\n')
			}
		case !hash && r == '/' && i+1 < n && rs[i+1] == '/':
			for i < n && rs[i] != '\n' {
				i++
			}
			if i < n {
				b.WriteRune('\n')
			}
		case !hash && r == '/' && i+1 < n && rs[i+1] == '*':
			i += 2
			for i < n && !(rs[i] == '*' && i+1 < n && rs[i+1] == '/') {
				if rs[i] == '\n' {
					b.WriteRune('\n')
				}
				i++
			}
			i++ // past '/'
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// maxCharEscape bounds an escaped character literal such as '\u{1F600}'.
const maxCharEscape = 12

// closesCharLiteral reports whether the ' at i starts a character literal:
// one rune then a quote, or an escape closed within maxCharEscape runes.
func closesCharLiteral(rs []rune, i int) bool {
	if i+2 < len(rs) && rs[i+1] != '\\' && rs[i+1] != '\n' && rs[i+2] == '\'' {
		return true
	}
	if i+1 >= len(rs) || rs[i+1] != '\\' {
		return false
	}
	for j := i + 3; j < len(rs) && j <= i+maxCharEscape; j++ {
		switch rs[j] {
		case '\'':
			return true
		case '\n':
			return false
		}
	}
	return false
}

// collapseImports replaces runs of more than two import lines, including Go
// import blocks, with a single summary line.
func collapseImports(lines []string, hash bool) []string {
	marker := "//"
	if hash {
		marker = "#"
	}
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); {
		if goImportOpen.MatchString(lines[i]) {
			j := i + 1
			count := 0
			for j < len(lines) && strings.TrimSpace(lines[j]) != ")" {
				if strings.TrimSpace(lines[j]) != "" {
					count++
				}
				j++
			}
			if count > 2 && j < len(lines) {
				out = append(out, fmt.Sprintf("import ( %s %d imports )", marker, count))
				i = j + 1
				continue
			}
		}

		j := i
		for j < len(lines) && importLine.MatchString(lines[j]) {
			j++
		}
		if run := j - i; run > 2 {
			out = append(out, fmt.Sprintf("%s %d imports", marker, run))
			i = j
			continue
		}
		if j == i {
			j = i + 1
		}
		out = append(out, lines[i:j]...)
		i = j
	}
	return out
}
