package rank

import (
	"path"
	"strings"
	"time"

	"github.com/sbarron/ambiance/internal/chunk"
)

var buildDirs = map[string]bool{"build": true, "dist": true, "vendor": true, "node_modules": true, "out": true}

var dirPriors = []struct {
	names []string
	prior float64
}{
	{[]string{"core"}, 1.3},
	{[]string{"api", "service", "services", "server"}, 1.2},
	{[]string{"lib", "db", "database", "models", "store"}, 1.1},
}

// pathPrior weights a file by the directories it lives in. Test and build
// locations take precedence over everything else.
func pathPrior(filePath string) (float64, string) {
	p := strings.ToLower(path.Clean(filePath))
	dirs := strings.Split(path.Dir(p), "/")

	if chunk.IsTestPath(p) {
		return 0.8, "test file"
	}
	for _, d := range dirs {
		if buildDirs[d] {
			return 0.5, "under " + d + "/"
		}
	}
	for _, tier := range dirPriors {
		for _, d := range dirs {
			for _, n := range tier.names {
				if d == n {
					return tier.prior, "under " + d + "/"
				}
			}
		}
	}
	return 1.0, ""
}

// surfaceBoost favours public-surface kinds.
func surfaceBoost(kind chunk.SymbolKind) float64 {
	switch kind {
	case chunk.KindTool:
		return 1.3
	case chunk.KindRoute:
		return 1.25
	case chunk.KindFunction, chunk.KindMethod:
		return 1.2
	case chunk.KindClass:
		return 1.15
	case chunk.KindInterface, chunk.KindType:
		return 1.05
	default:
		return 1.0
	}
}

var recencyTiers = []struct {
	within time.Duration
	boost  float64
	label  string
}{
	{7 * 24 * time.Hour, 1.2, "< 7d"},
	{30 * 24 * time.Hour, 1.15, "< 30d"},
	{90 * 24 * time.Hour, 1.1, "< 90d"},
	{180 * 24 * time.Hour, 1.05, "< 180d"},
}

// recencyBoost tiers a file by the age of its last commit. Unknown age is neutral.
func recencyBoost(age time.Duration, known bool) (float64, string) {
	if !known {
		return 1.0, ""
	}
	for _, t := range recencyTiers {
		if age < t.within {
			return t.boost, "committed " + t.label + " ago"
		}
	}
	return 1.0, ""
}
