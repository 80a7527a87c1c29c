package output

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// OutputMode selects how responses are rendered.
type OutputMode string

const (
	// ModeJSON is the full response document, for agents and scripts.
	ModeJSON OutputMode = "json"
	// ModeTable is aligned text for a person at a terminal.
	ModeTable OutputMode = "table"
	// ModeRaw prints only the payload, e.g. a bare secret value.
	ModeRaw OutputMode = "raw"
)

// modes lists the selectable modes in help order.
var modes = []OutputMode{ModeJSON, ModeTable, ModeRaw}

// Formatter renders a Response to w.
type Formatter interface {
	Format(w io.Writer, r Response) error
}

// fdWriter is implemented by *os.File.
type fdWriter interface {
	Fd() uintptr
}

// Resolve turns an empty mode into table when w is a terminal and json
// otherwise. Explicit modes pass through.
func Resolve(mode OutputMode, w io.Writer) OutputMode {
	if mode != "" {
		return mode
	}
	if f, ok := w.(fdWriter); ok && term.IsTerminal(int(f.Fd())) {
		return ModeTable
	}
	return ModeJSON
}

// GetFormatter returns the formatter for mode, auto-detecting against
// Stdout when mode is empty. Unknown modes fall back to JSON.
func GetFormatter(mode OutputMode) Formatter {
	switch Resolve(mode, Stdout) {
	case ModeTable:
		return &TableFormatter{}
	case ModeRaw:
		return &RawFormatter{}
	default:
		return &JSONFormatter{}
	}
}

// ValidateMode checks a --output value. Empty means auto-detect.
func ValidateMode(mode string) error {
	if mode == "" {
		return nil
	}
	for _, m := range modes {
		if OutputMode(mode) == m {
			return nil
		}
	}
	return fmt.Errorf("invalid output mode: %s (must be one of %v)", mode, modes)
}

// IsHuman reports whether output will be rendered as tables, so commands
// can shape their data for a reader instead of a parser.
func IsHuman() bool {
	return Resolve(Mode, Stdout) == ModeTable
}
