// Package validate checks a raw answer map against the ordered field
// definitions of a form template. Validation is deterministic: fields are
// checked in order, each failing field contributes exactly one issue, and no
// field short-circuits the rest.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"studykit/internal/compute"
	"studykit/internal/expr"
	"studykit/internal/types"
)

// Answers validates answers against fields. It returns true with no issues
// when every field passes.
func Answers(fields []types.FormField, answers map[string]any) (bool, []types.FieldIssue) {
	var issues []types.FieldIssue
	for _, f := range fields {
		raw, ok := answers[f.Key]
		if absent(raw) || !ok {
			if f.Required {
				issues = append(issues, types.FieldIssue{Key: f.Key, Message: "Field is required"})
			}
			continue
		}
		if msg := checkField(f, raw); msg != "" {
			issues = append(issues, types.FieldIssue{Key: f.Key, Message: msg})
		}
	}
	return len(issues) == 0, issues
}

// absent reports the values that count as "not answered": nil and the empty
// string.
func absent(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

// checkField type-checks one present answer and applies per-field
// constraints. Returns the first failure message, or "".
func checkField(f types.FormField, raw any) string {
	switch f.Type {
	case types.FieldNumber:
		return checkNumber(f, raw)
	case types.FieldBoolean:
		if _, ok := raw.(bool); !ok {
			return "Must be a boolean"
		}
	case types.FieldDate:
		s, ok := raw.(string)
		if !ok || s == "" {
			return "Must be a valid date"
		}
		if _, ok := expr.ParseDate(s); !ok {
			return "Must be a valid date"
		}
	case types.FieldTime:
		s, ok := raw.(string)
		if !ok || !compute.IsClockTime(s) {
			return "Must be a valid time (HH:MM)"
		}
	case types.FieldSelect:
		s, ok := raw.(string)
		if !ok {
			return "Must be one of the allowed options"
		}
		if !optionSet(f)[s] {
			return "Must be one of the allowed options"
		}
	case types.FieldMultiSelect:
		items, ok := raw.([]any)
		if !ok {
			return "Must be a list of allowed options"
		}
		opts := optionSet(f)
		for _, item := range items {
			s, ok := item.(string)
			if !ok || !opts[s] {
				return "Must be a list of allowed options"
			}
		}
	default: // text and unknown types validate as text
		return checkText(f, raw)
	}
	return ""
}

func checkNumber(f types.FormField, raw any) string {
	n, ok := numeric(raw)
	if !ok {
		return "Must be a number"
	}
	if min, ok := constraintNumber(f, "min"); ok && n < min {
		return fmt.Sprintf("Must be at least %v", min)
	}
	if max, ok := constraintNumber(f, "max"); ok && n > max {
		return fmt.Sprintf("Must be at most %v", max)
	}
	return ""
}

func checkText(f types.FormField, raw any) string {
	s, ok := raw.(string)
	if !ok {
		return "Must be a string"
	}
	if min, ok := constraintInt(f, "minLength"); ok && len(s) < min {
		return fmt.Sprintf("Must be at least %d characters", min)
	}
	if max, ok := constraintInt(f, "maxLength"); ok && len(s) > max {
		return fmt.Sprintf("Must be at most %d characters", max)
	}
	if pat, ok := f.Validation["pattern"].(string); ok && pat != "" {
		// An invalid pattern is ignored rather than failing the field.
		if re, err := regexp.Compile(pat); err == nil && !re.MatchString(s) {
			return "Invalid format"
		}
	}
	return ""
}

// numeric accepts numbers and numeric strings.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, false
		}
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func constraintNumber(f types.FormField, key string) (float64, bool) {
	v, ok := f.Validation[key]
	if !ok {
		return 0, false
	}
	return numeric(v)
}

func constraintInt(f types.FormField, key string) (int, bool) {
	n, ok := constraintNumber(f, key)
	if !ok {
		return 0, false
	}
	return int(n), true
}

// optionSet folds the opaque options payload into a membership set. Options
// may arrive as a JSON array of strings or as {"values": [...]}.
func optionSet(f types.FormField) map[string]bool {
	set := make(map[string]bool)
	raw := f.Options
	if m, ok := raw.(map[string]any); ok {
		raw = m["values"]
	}
	items, ok := raw.([]any)
	if !ok {
		return set
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			set[s] = true
		}
	}
	return set
}
