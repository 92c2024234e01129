package rank

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Keyword match weights. Each query term contributes its strongest match.
const (
	matchExact  = 2.0
	matchName   = 1.5
	matchPath   = 1.3
	matchAlias  = 1.2
	matchFuzzy  = 1.1
	multiTerm   = 1.1
	fuzzyPrefix = 5
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "do": true, "does": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "show": true, "that": true,
	"the": true, "this": true, "to": true, "what": true, "where": true, "which": true,
	"who": true, "why": true, "with": true, "me": true, "find": true, "code": true,
}

// domainAliases maps a query word to the vocabulary code tends to use for it.
var domainAliases = map[string][]string{
	"database":       {"db", "sql", "store", "storage", "repo", "repository", "schema", "orm"},
	"db":             {"database", "sql", "store"},
	"initialization": {"init", "setup", "bootstrap", "start", "boot"},
	"initialize":     {"init", "setup", "bootstrap", "start"},
	"init":           {"setup", "bootstrap", "initialize"},
	"startup":        {"init", "main", "bootstrap", "start"},
	"authentication": {"auth", "login", "session", "token", "jwt", "oauth"},
	"authorization":  {"auth", "permission", "role", "acl", "policy"},
	"auth":           {"login", "session", "token", "jwt"},
	"login":          {"auth", "signin", "session"},
	"routing":        {"route", "router", "handler", "endpoint"},
	"route":          {"router", "handler", "endpoint"},
	"endpoint":       {"route", "handler", "api"},
	"configuration":  {"config", "cfg", "settings", "env", "options"},
	"config":         {"cfg", "settings", "env", "options"},
	"settings":       {"config", "cfg", "options"},
	"error":          {"err", "exception", "fail", "failure"},
	"request":        {"req", "http", "client"},
	"response":       {"res", "resp", "reply"},
	"message":        {"msg", "event", "queue"},
	"cache":          {"lru", "memo", "redis"},
	"logging":        {"log", "logger", "slog"},
	"test":           {"spec", "mock", "fixture"},
}

// Terms lowercases query, splits it into words and drops stop words and
// duplicates, keeping first-seen order.
func Terms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := map[string]bool{}
	var out []string
	for _, w := range words {
		if stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

type keywordMatch struct {
	term   string
	weight float64
	how    string
}

// keywordScore multiplies the strongest match of every term against the
// item name and path.
func keywordScore(name, filePath string, terms []string) (float64, []keywordMatch) {
	if len(terms) == 0 {
		return 1.0, nil
	}
	lowerName := strings.ToLower(name)
	lowerPath := strings.ToLower(filePath)
	tokens := chunk.SplitIdentifier(name)
	pathTokens := pathWords(lowerPath)

	score := 1.0
	var matches []keywordMatch
	for _, term := range terms {
		m := bestMatch(term, lowerName, lowerPath, tokens, pathTokens)
		if m.weight > 1 {
			score *= m.weight
			matches = append(matches, m)
		}
	}
	if len(matches) >= 2 {
		score *= multiTerm
	}
	return score, matches
}

func bestMatch(term, name, filePath string, tokens, pathTokens []string) keywordMatch {
	switch {
	case name != "" && name == term:
		return keywordMatch{term, matchExact, "exact"}
	case name != "" && strings.Contains(name, term):
		return keywordMatch{term, matchName, "name"}
	case strings.Contains(filePath, term):
		return keywordMatch{term, matchPath, "path"}
	}
	for _, alias := range domainAliases[term] {
		if contains(tokens, alias) || contains(pathTokens, alias) {
			return keywordMatch{term, matchAlias, "alias " + alias}
		}
	}
	for _, tok := range append(append([]string(nil), tokens...), pathTokens...) {
		if fuzzyMatch(term, tok) {
			return keywordMatch{term, matchFuzzy, "prefix " + tok}
		}
	}
	return keywordMatch{term: term, weight: 1}
}

// fuzzyMatch reports a shared prefix of at least fuzzyPrefix runes, or one
// token being a whole prefix of the other.
func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	shorter, longer := a, b
	if utf8.RuneCountInString(b) < utf8.RuneCountInString(a) {
		shorter, longer = b, a
	}
	if utf8.RuneCountInString(shorter) >= 3 && strings.HasPrefix(longer, shorter) {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n >= fuzzyPrefix
}

func pathWords(p string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '.' || r == '-' || r == '_'
	}) {
		out = append(out, chunk.SplitIdentifier(part)...)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
