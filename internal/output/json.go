package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter outputs JSON format (agent-friendly)
type JSONFormatter struct{}

// Format implements the Formatter interface for JSON output
func (f *JSONFormatter) Format(w io.Writer, r Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
