package output

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// RawFormatter outputs just values (for piping and scripts)
type RawFormatter struct{}

// Format implements the Formatter interface for raw output
func (f *RawFormatter) Format(w io.Writer, r Response) error {
	// For raw mode, only output the actual data
	// Ignore success/error markers, actions, and other metadata
	if !r.Success {
		if r.Error != "" {
			fmt.Fprintln(w, r.Error)
		}
		return nil
	}
	if r.Raw != "" {
		_, err := fmt.Fprintln(w, r.Raw)
		return err
	}
	if r.Data != nil {
		return printRaw(w, r.Data)
	}
	return nil
}

func printRaw(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case string:
		// Just the string value
		fmt.Fprintln(w, v)
	case []string:
		for _, s := range v {
			fmt.Fprintln(w, s)
		}
	case map[string]interface{}:
		// Output map values one per line, in key order
		for _, key := range sortedKeys(v) {
			fmt.Fprintln(w, formatRawValue(v[key]))
		}
	case []interface{}:
		// Output slice items one per line
		for _, item := range v {
			fmt.Fprintln(w, formatRawValue(item))
		}
	default:
		// For other types, use default formatting
		fmt.Fprintln(w, formatRawValue(v))
	}

	return nil
}

func formatRawValue(val interface{}) string {
	if val == nil {
		return ""
	}

	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Slice, reflect.Array:
		// Output slice elements space-separated
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = formatRawValue(v.Index(i).Interface())
		}
		return strings.Join(parts, " ")
	case reflect.Map:
		// key=value pairs on one line
		parts := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			parts = append(parts, fmt.Sprintf("%v=%v", iter.Key().Interface(), formatRawValue(iter.Value().Interface())))
		}
		sort.Strings(parts)
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
