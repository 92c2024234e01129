package chunk

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

// ignoreRule is one compiled gitignore-style pattern.
type ignoreRule struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
}

// ignoreSet evaluates gitignore-style patterns. The last matching rule wins.
type ignoreSet struct {
	rules []ignoreRule
}

// loadIgnoreFile adds every pattern in path. A missing file is not an error.
func (s *ignoreSet) loadIgnoreFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s.add(sc.Text())
	}
	return sc.Err()
}

func (s *ignoreSet) add(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r ignoreRule
	if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = pattern[1:]
	} else if strings.HasPrefix(pattern, `\`) {
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimRight(pattern, "/")
	}
	if pattern == "" {
		return
	}

	anchored := strings.Contains(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")

	var b strings.Builder
	if anchored {
		b.WriteString("^")
	} else {
		b.WriteString("^(?:.*/)?")
	}
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case strings.HasPrefix(pattern[i:], "/**") && i+3 == len(pattern):
			b.WriteString("/.*")
			i += 2
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return
	}
	r.re = re
	s.rules = append(s.rules, r)
}

// match reports whether rel (slash separated) or any of its parent
// directories is ignored.
func (s *ignoreSet) match(rel string, isDir bool) bool {
	if s == nil || len(s.rules) == 0 {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		dir := isDir || i < len(parts)-1
		if s.matchOne(strings.Join(parts[:i+1], "/"), dir) {
			return true
		}
	}
	return false
}

func (s *ignoreSet) matchOne(rel string, isDir bool) bool {
	ignored := false
	for _, r := range s.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.re.MatchString(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}
