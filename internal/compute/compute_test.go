package compute

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studykit/internal/expr"
	"studykit/internal/types"
)

func defs(pairs ...[2]string) []Definition {
	out := make([]Definition, len(pairs))
	for i, p := range pairs {
		out[i] = Definition{Key: p[0], Source: json.RawMessage(p[1])}
	}
	return out
}

func sleepContext() *expr.Context {
	return &expr.Context{
		Answers: map[string]any{
			"sleep_start": "22:00",
			"sleep_end":   "06:00",
		},
		Metadata: map[string]any{},
	}
}

func TestComputeGraph(t *testing.T) {
	ctx := sleepContext()
	r := NewResolver(ctx, defs(
		[2]string{"sleep_duration", `{"func": "duration", "args": [{"var": "answers.sleep_start"}, {"var": "answers.sleep_end"}]}`},
		[2]string{"sleep_midpoint", `{"func": "midpoint", "args": [{"value": "22:00"}, {"value": "06:00"}]}`},
		[2]string{"sleep_midpoint_normalized", `{"func": "normalize_time", "args": [{"var": "computed.sleep_midpoint"}]}`},
		[2]string{"follow_up_date", `{"func": "add_days", "args": [{"value": "2026-02-13"}, {"value": 7}]}`},
		[2]string{"double_duration", `{"op": "multiply", "args": [{"var": "computed.sleep_duration"}, {"value": 2}]}`},
	))

	got, keys, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"sleep_duration", "sleep_midpoint", "sleep_midpoint_normalized", "follow_up_date", "double_duration"}, keys)

	want := map[string]any{
		"sleep_duration":            float64(480),
		"sleep_midpoint":            "02:00",
		"sleep_midpoint_normalized": "02:00",
		"follow_up_date":            "2026-02-20",
		"double_duration":           float64(960),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("computed values mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeIsIdempotent(t *testing.T) {
	run := func() map[string]any {
		r := NewResolver(sleepContext(), defs(
			[2]string{"sleep_duration", `{"func": "duration", "args": [{"var": "answers.sleep_start"}, {"var": "answers.sleep_end"}]}`},
			[2]string{"double_duration", `{"op": "multiply", "args": [{"var": "computed.sleep_duration"}, 2]}`},
		))
		got, _, err := r.ResolveAll()
		require.NoError(t, err)
		return got
	}
	first := run()
	second := run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("compute not idempotent (-first +second):\n%s", diff)
	}
}

func TestForwardReference(t *testing.T) {
	// b is defined after a but referenced by a: resolution is on demand.
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"a", `{"op": "add", "args": [{"var": "computed.b"}, 1]}`},
		[2]string{"b", `{"value": 10}`},
	))
	got, _, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Equal(t, float64(11), got["a"])
	assert.Equal(t, float64(10), got["b"])
}

func TestCycleFails(t *testing.T) {
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"a", `{"op": "add", "args": [{"var": "computed.b"}, 1]}`},
		[2]string{"b", `{"op": "add", "args": [{"var": "computed.a"}, 1]}`},
	))
	_, _, err := r.ResolveAll()
	require.Error(t, err)
	var cycle *types.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Contains(t, []string{"a", "b"}, cycle.Key)
}

func TestSelfCycleFails(t *testing.T) {
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"a", `{"var": "computed.a"}`},
	))
	_, _, err := r.ResolveAll()
	var cycle *types.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "a", cycle.Key)
}

func TestWhenClause(t *testing.T) {
	ctx := &expr.Context{Answers: map[string]any{"age": float64(24)}}
	r := NewResolver(ctx, defs(
		[2]string{"bucket", `{
			"when": {"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}},
			"then": {"value": "adult"},
			"else": {"value": "minor"}
		}`},
		[2]string{"no_else", `{
			"when": {"op": "<", "left": {"var": "answers.age"}, "right": {"value": 18}},
			"then": {"value": "minor"}
		}`},
	))
	got, _, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Equal(t, "adult", got["bucket"])
	assert.Nil(t, got["no_else"])
}

func TestDuplicateKeyFirstWins(t *testing.T) {
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"x", `{"value": 1}`},
		[2]string{"x", `{"value": 2}`},
	))
	got, keys, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, keys)
	assert.Equal(t, float64(1), got["x"])
}

func TestDurationComplement(t *testing.T) {
	pairs := [][2]string{
		{"22:00", "06:00"},
		{"01:15", "13:45"},
		{"09:30", "09:31"},
	}
	for _, p := range pairs {
		ab := durationMinutes(p[0], p[1]).(float64)
		ba := durationMinutes(p[1], p[0]).(float64)
		assert.Equal(t, float64(24*60), ab+ba, "%s/%s", p[0], p[1])
	}
}

func TestDurationWrapsMidnight(t *testing.T) {
	assert.Equal(t, float64(480), durationMinutes("22:00", "06:00"))
	assert.Equal(t, float64(60), durationMinutes("09:00", "10:00"))
	assert.Nil(t, durationMinutes("not a time", "10:00"))
	assert.Nil(t, durationMinutes("09:00", nil))
}

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{"9:5", nil}, // minutes must be two digits
		{"9:05", "09:05"},
		{"22:00", "22:00"},
		{"22:00:30", "22:00"},
		{"25:00", "01:00"},          // modulo 24h
		{float64(1500), "01:00"},    // numeric minutes wrap
		{float64(-30), "23:30"},     // negative wraps positively
		{"totally not a time", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTime(tt.in), "%v", tt.in)
	}
}

func TestNormalizeTimeIdempotent(t *testing.T) {
	for _, in := range []string{"22:00", "9:05", "23:59:59", "0:00"} {
		once := normalizeTime(in)
		require.NotNil(t, once, in)
		assert.Equal(t, once, normalizeTime(once), in)
	}
}

func TestMidpoint(t *testing.T) {
	assert.Equal(t, "02:00", midpoint("22:00", "06:00"))
	assert.Equal(t, "12:00", midpoint("10:00", "14:00"))
	assert.Nil(t, midpoint("nope", "14:00"))
}

func TestAddDays(t *testing.T) {
	assert.Equal(t, "2026-02-20", addDays("2026-02-13", float64(7)))
	assert.Equal(t, "2026-03-01", addDays("2026-02-28", float64(1)))
	assert.Equal(t, "2026-02-12", addDays("2026-02-13", float64(-1)))
	assert.Equal(t, "2026-02-20", addDays("2026-02-13", 7.9)) // truncated
	assert.Nil(t, addDays("not a date", float64(1)))
	assert.Nil(t, addDays("2026-02-13", "soon"))
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   string
		args []any
		want any
	}{
		{OpAdd, []any{float64(1), float64(2), float64(3)}, float64(6)},
		{OpSubtract, []any{float64(10), float64(3), float64(2)}, float64(5)},
		{OpMultiply, []any{float64(2), float64(3), float64(4)}, float64(24)},
		{OpDivide, []any{float64(100), float64(5), float64(2)}, float64(10)},
		{OpDivide, []any{float64(1), float64(0)}, nil},
		{OpAdd, []any{float64(1), "nope"}, nil},
		{OpAdd, []any{"3", "4"}, float64(7)}, // numeric strings coerce
		{OpAdd, []any{}, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, arith(tt.op, tt.args), "%s %v", tt.op, tt.args)
	}
}

func TestUnknownFunctionYieldsNil(t *testing.T) {
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"x", `{"func": "frobnicate", "args": [1, 2]}`},
	))
	got, _, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Nil(t, got["x"])
}

func TestUnparseableDefinitionYieldsNil(t *testing.T) {
	r := NewResolver(&expr.Context{}, defs(
		[2]string{"x", `{{{`},
	))
	got, _, err := r.ResolveAll()
	require.NoError(t, err)
	assert.Nil(t, got["x"])
}
