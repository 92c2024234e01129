// Package bundle turns ranked chunks into a token-budgeted set of code
// snippets: expand each hit to its enclosing block, normalise it, then pack
// by priority without ever truncating a snippet.
package bundle

import (
	"path"
	"strings"

	"github.com/sbarron/ambiance/internal/chunk"
)

// Class is the priority class of a snippet.
type Class string

const (
	ClassInit      Class = "init"
	ClassReadWrite Class = "readwrite"
	ClassProvider  Class = "provider"
	ClassSearch    Class = "search"
	ClassTests     Class = "tests"
	ClassConfig    Class = "config"
	ClassHelper    Class = "helper"
)

var priorities = map[Class]float64{
	ClassInit:      1.0,
	ClassReadWrite: 0.9,
	ClassProvider:  0.8,
	ClassSearch:    0.7,
	ClassTests:     0.5,
	ClassConfig:    0.4,
	ClassHelper:    0.3,
}

// Priority returns the packing priority of c.
func (c Class) Priority() float64 {
	if p, ok := priorities[c]; ok {
		return p
	}
	return priorities[ClassHelper]
}

var classWords = []struct {
	class Class
	words []string
}{
	{ClassInit, []string{"init", "initialize", "main", "setup", "bootstrap", "start", "boot"}},
	{ClassConfig, []string{"config", "cfg", "settings", "options", "env"}},
	{ClassReadWrite, []string{"read", "write", "save", "load", "get", "set", "put", "insert", "update", "delete", "upsert", "create", "persist", "migrate"}},
	{ClassProvider, []string{"provider", "client", "service", "adapter", "factory", "connect", "driver", "new"}},
	{ClassSearch, []string{"search", "find", "query", "lookup", "match", "rank", "index", "filter"}},
}

var configExts = map[string]bool{".yaml": true, ".yml": true, ".toml": true, ".json": true, ".ini": true, ".env": true}

// Classify assigns a priority class from the file path and symbol name.
func Classify(filePath, symbol string) Class {
	if chunk.IsTestPath(filePath) {
		return ClassTests
	}
	lower := strings.ToLower(filePath)
	if configExts[path.Ext(lower)] {
		return ClassConfig
	}

	words := chunk.SplitIdentifier(symbol)
	base := strings.TrimSuffix(path.Base(lower), path.Ext(lower))
	words = append(words, base)

	for _, cw := range classWords {
		for _, w := range cw.words {
			if contains(words, w) {
				return cw.class
			}
		}
	}
	if strings.Contains(lower, "config") {
		return ClassConfig
	}
	return ClassHelper
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
