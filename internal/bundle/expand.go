package bundle

import (
	"regexp"
	"strings"
)

// ExpandOptions bounds block expansion.
type ExpandOptions struct {
	MaxBack      int
	MaxForward   int
	ContextLines int
}

// DefaultExpandOptions scans 10 lines back, 200 forward and pads 2 lines.
var DefaultExpandOptions = ExpandOptions{MaxBack: 10, MaxForward: 200, ContextLines: 2}

var declKeyword = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:func|function|def|class|interface|type|struct|enum|impl|fn|trait|const\s+\w+\s*=\s*(?:async\s*)?\(|(?:public|private|protected|static)\s)`)

// ExpandBlock widens a hit at line (0-indexed) to its enclosing block and
// returns the inclusive line range. The start is the nearest declaration at
// most MaxBack lines above; the end follows brace balance from there, or
// indentation when the block has no braces.
func ExpandBlock(lines []string, line int, opts ExpandOptions) (start, end int) {
	if len(lines) == 0 {
		return 0, -1
	}
	line = min(max(line, 0), len(lines)-1)

	decl := line
	for i := line; i >= 0 && line-i <= opts.MaxBack; i-- {
		if declKeyword.MatchString(lines[i]) {
			decl = i
			break
		}
	}

	end = braceEnd(lines, decl, opts.MaxForward)
	if end < 0 {
		end = indentEnd(lines, decl, opts.MaxForward)
	}
	end = max(end, line)

	start = max(0, decl-opts.ContextLines)
	end = min(len(lines)-1, end+opts.ContextLines)
	return start, end
}

// braceEnd returns the line closing the first brace opened on or shortly
// after from, or -1 when no brace opens within two lines.
func braceEnd(lines []string, from, maxForward int) int {
	depth := 0
	opened := false
	last := min(len(lines)-1, from+maxForward)
	for i := from; i <= last; i++ {
		for _, r := range stripStrings(lines[i]) {
			switch r {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
		if !opened && i-from >= 2 {
			return -1
		}
	}
	if opened {
		return last
	}
	return -1
}

// indentEnd returns the last line indented deeper than from, skipping blanks.
func indentEnd(lines []string, from, maxForward int) int {
	base := indentOf(lines[from])
	end := from
	last := min(len(lines)-1, from+maxForward)
	for i := from + 1; i <= last; i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentOf(lines[i]) <= base {
			break
		}
		end = i
	}
	return end
}

func indentOf(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

var quoted = regexp.MustCompile("\"(?:[^\"\\\\]|\\\\.)*\"|'(?:[^'\\\\]|\\\\.)*'|`[^`]*`")

// stripStrings blanks quoted literals so braces inside them are not counted.
func stripStrings(s string) string {
	return quoted.ReplaceAllString(s, `""`)
}
