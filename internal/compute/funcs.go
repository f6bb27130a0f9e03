package compute

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"studykit/internal/expr"
)

const minutesPerDay = 24 * 60

var clockRE = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)

// IsClockTime reports whether s is a wall-clock string (HH:MM or HH:MM:SS).
// Shared with the answer validator's time fields.
func IsClockTime(s string) bool {
	return clockRE.MatchString(s)
}

// clockMinutes coerces a value to minutes since midnight. Numbers are taken
// as minutes directly; strings must be wall-clock spellings, with seconds
// contributing fractional minutes.
func clockMinutes(v any) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok || !clockRE.MatchString(strings.TrimSpace(s)) {
		return 0, false
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	total := float64(h*60 + m)
	if len(parts) == 3 {
		sec, _ := strconv.Atoi(parts[2])
		total += float64(sec) / 60
	}
	return total, true
}

// wrapMinutes folds minutes into [0, 24h).
func wrapMinutes(m float64) float64 {
	m = math.Mod(m, minutesPerDay)
	if m < 0 {
		m += minutesPerDay
	}
	return m
}

// formatClock renders minutes since midnight as zero-padded HH:MM, dropping
// fractional seconds.
func formatClock(m float64) string {
	total := int(math.Floor(wrapMinutes(m)))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// normalizeTime canonicalises a wall-clock value to HH:MM modulo 24h.
func normalizeTime(v any) any {
	m, ok := clockMinutes(v)
	if !ok {
		return nil
	}
	return formatClock(m)
}

// durationMinutes is the positive-wrapped interval from start to end in
// integer minutes; an end before start rolls past midnight.
func durationMinutes(start, end any) any {
	a, okA := clockMinutes(start)
	b, okB := clockMinutes(end)
	if !okA || !okB {
		return nil
	}
	d := b - a
	if d < 0 {
		d += minutesPerDay
	}
	return math.Round(d)
}

// midpoint is the clock time halfway through the positive-wrapped interval
// from start to end.
func midpoint(start, end any) any {
	a, okA := clockMinutes(start)
	b, okB := clockMinutes(end)
	if !okA || !okB {
		return nil
	}
	d := b - a
	if d < 0 {
		d += minutesPerDay
	}
	return formatClock(a + d/2)
}

// addDays shifts an ISO date by a whole number of days in UTC, rendering
// YYYY-MM-DD. The day count is truncated toward zero.
func addDays(dateVal, daysVal any) any {
	s, ok := dateVal.(string)
	if !ok {
		return nil
	}
	t, ok := expr.ParseDate(s)
	if !ok {
		return nil
	}
	n, ok := toNumber(daysVal)
	if !ok {
		return nil
	}
	return t.UTC().AddDate(0, 0, int(math.Trunc(n))).Format("2006-01-02")
}

// toNumber coerces a value to a finite number.
func toNumber(v any) (float64, bool) {
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
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// arith folds the arithmetic operators. subtract and divide fold from the
// head (a-b-c, a/b/c); any non-numeric argument or division by zero yields
// nil.
func arith(op string, args []any) any {
	if len(args) == 0 {
		return nil
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		n, ok := toNumber(a)
		if !ok {
			return nil
		}
		nums[i] = n
	}
	acc := nums[0]
	for _, n := range nums[1:] {
		switch op {
		case OpAdd:
			acc += n
		case OpSubtract:
			acc -= n
		case OpMultiply:
			acc *= n
		case OpDivide:
			if n == 0 {
				return nil
			}
			acc /= n
		}
	}
	return acc
}
