package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// TableFormatter outputs human-readable tables
type TableFormatter struct{}

// Table is data rendered as aligned columns by the table formatter. JSON
// output encodes it as a list of row objects.
type Table struct {
	Headers []string
	Rows    [][]string
}

// MarshalJSON encodes the table as one object per row.
func (t Table) MarshalJSON() ([]byte, error) {
	rows := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(row) {
				m[h] = row[i]
			}
		}
		rows = append(rows, m)
	}
	return json.Marshal(rows)
}

// Format implements the Formatter interface for table output
func (f *TableFormatter) Format(w io.Writer, r Response) error {
	if r.Success {
		if r.Message != "" {
			fmt.Fprintf(w, "✓ %s\n", r.Message)
		}
		if r.Data != nil {
			if err := printTable(w, r.Data); err != nil {
				return err
			}
		}
	} else {
		fmt.Fprintf(w, "✗ Error: %s\n", r.Error)
	}

	// Print available actions
	if len(r.Actions) > 0 {
		fmt.Fprintln(w, "\nNext steps:")
		for _, a := range r.Actions {
			prefix := "→"
			if a.Dangerous {
				prefix = "⚠"
			}
			fmt.Fprintf(w, "  %s %s\n", prefix, a.Description)
			fmt.Fprintf(w, "    $ %s\n", a.Command)
		}
	}

	return nil
}

func printTable(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(w, v)
	case Table:
		printColumns(w, v)
	case map[string]interface{}:
		printMapAsTable(w, v)
	case []string:
		for _, item := range v {
			fmt.Fprintf(w, "  • %s\n", item)
		}
	default:
		// For complex types, use JSON as fallback
		b, err := json.MarshalIndent(data, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "  "+string(b))
	}

	return nil
}

func printMapAsTable(w io.Writer, m map[string]interface{}) {
	// Find max key length for alignment
	maxLen := 0
	for key := range m {
		if len(key) > maxLen {
			maxLen = len(key)
		}
	}

	for _, key := range sortedKeys(m) {
		padding := strings.Repeat(" ", maxLen-len(key))
		fmt.Fprintf(w, "  %s:%s %v\n", key, padding, formatValue(m[key]))
	}
}

func printColumns(w io.Writer, t Table) {
	if len(t.Rows) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = len(header)
	}
	for _, row := range t.Rows {
		for i := range t.Headers {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	// Print header row
	fmt.Fprint(w, "  ")
	for i, header := range t.Headers {
		fmt.Fprintf(w, "%-*s  ", widths[i], header)
	}
	fmt.Fprintln(w)

	// Print separator
	fmt.Fprint(w, "  ")
	for i := range t.Headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	// Print data rows
	for _, row := range t.Rows {
		fmt.Fprint(w, "  ")
		for i := range t.Headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprintf(w, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}

func formatValue(val interface{}) string {
	if val == nil {
		return ""
	}

	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		// Convert slice/array to comma-separated string
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = fmt.Sprintf("%v", v.Index(i).Interface())
		}
		return strings.Join(parts, ", ")
	case reflect.Map:
		// For maps, just show count
		return fmt.Sprintf("<%d items>", v.Len())
	default:
		return fmt.Sprintf("%v", val)
	}
}
