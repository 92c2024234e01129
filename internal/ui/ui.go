// Package ui renders management responses and context bundles for the
// terminal. Colour is used only when the output is a terminal and NO_COLOR
// is unset.
package ui

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether the NO_COLOR convention is in effect.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// Printer writes styled output.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter chooses colour from the environment unless noColor forces it off.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	color := !noColor && IsTTY(out) && !DetectNoColor()
	return &Printer{out: out, styles: GetStyles(!color)}
}

// JSON writes v as indented JSON.
func JSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
