package expr

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// present implements the exists check: not nil, not an empty trimmed string,
// not an empty sequence.
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	}
	return true
}

// strictEq is value equality without coercion. Numeric widths are normalised
// (JSON decoding yields float64, but callers may hand in ints); composites
// fall back to deep equality.
func strictEq(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, aNum := asFloat(a)
	nb, bNum := asFloat(b)
	if aNum || bNum {
		return aNum && bNum && na == nb
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr || bStr {
		return aStr && bStr && sa == sb
	}
	ba, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool || bBool {
		return aBool && bBool && ba == bb
	}
	return reflect.DeepEqual(a, b)
}

type compKind int

const (
	compNull compKind = iota
	compNumber
	compString
)

// comparableKey coerces a value for ordered comparison: finite numbers stay
// numbers; strings become numbers if they parse, epoch milliseconds if they
// are ISO dates, otherwise the trimmed string; times become epoch
// milliseconds; everything else is the null bottom.
func comparableKey(v any) (compKind, float64, string) {
	switch t := v.(type) {
	case time.Time:
		return compNumber, float64(t.UnixMilli()), ""
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			return compNumber, n, ""
		}
		if ts, ok := ParseDate(s); ok {
			return compNumber, float64(ts.UnixMilli()), ""
		}
		return compString, 0, s
	}
	if n, ok := asFloat(v); ok {
		return compNumber, n, ""
	}
	return compNull, 0, ""
}

// compare returns the sign of a vs b under the comparable coercion, or
// ok=false when either side is incomparable or the kinds differ.
func compare(a, b any) (int, bool) {
	ka, na, sa := comparableKey(a)
	kb, nb, sb := comparableKey(b)
	if ka == compNull || kb == compNull || ka != kb {
		return 0, false
	}
	if ka == compNumber {
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	return strings.Compare(sa, sb), true
}

// asFloat normalises the numeric types a context value can carry.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate parses the ISO date spellings the engine accepts. Date-only
// values are taken as UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
