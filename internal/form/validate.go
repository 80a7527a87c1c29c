package form

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// FieldValidator is a named custom rule. It returns a user-facing message,
// or "" when value is acceptable.
type FieldValidator func(value string) string

// validatePayload checks each field in declaration order and returns a
// message per failing field. The first failing rule of a field wins.
func validatePayload(fields []Field, payload map[string]string, custom map[string]FieldValidator) map[string]string {
	errs := make(map[string]string)
	for _, f := range fields {
		if msg := validateField(f, payload[f.Name], custom); msg != "" {
			errs[f.Name] = msg
		}
	}
	return errs
}

func validateField(f Field, value string, custom map[string]FieldValidator) string {
	if value == "" {
		if f.Required {
			return fmt.Sprintf("%s is required", f.Label)
		}
		return ""
	}

	if len(f.Options) > 0 && f.Type == FieldSelect {
		found := false
		for _, o := range f.Options {
			if o == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("%s must be one of the listed options", f.Label)
		}
	}

	r := f.Rules
	if r == nil {
		return ""
	}
	n := utf8.RuneCountInString(value)
	if r.MinLength > 0 && n < r.MinLength {
		return fmt.Sprintf("%s must be at least %d characters", f.Label, r.MinLength)
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return fmt.Sprintf("%s must be at most %d characters", f.Label, r.MaxLength)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Sprintf("%s has an invalid validation pattern", f.Label)
		}
		if !re.MatchString(value) {
			return fmt.Sprintf("%s has an invalid format", f.Label)
		}
	}
	if r.Custom != "" {
		fn, ok := custom[r.Custom]
		if !ok {
			return fmt.Sprintf("%s uses unknown validator %q", f.Label, r.Custom)
		}
		if msg := fn(value); msg != "" {
			return msg
		}
	}
	return ""
}
