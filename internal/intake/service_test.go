package intake

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"studykit/internal/audit"
	"studykit/internal/store"
	"studykit/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store   *store.Store
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &fixture{
		store:   st,
		service: New(st, audit.New(st, nil), nil),
	}
}

// seedSleepStudy builds the template, fields, compute definitions and rule
// sets of a minimal sleep study.
func (f *fixture) seedSleepStudy(t *testing.T, studyID string) int64 {
	t.Helper()
	ctx := context.Background()

	tmpl := &types.FormTemplate{
		StudyID: studyID, Name: "Sleep Intake", Version: 1,
		Status: types.StatusPublished, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertFormTemplate(ctx, tmpl))

	fields := []*types.FormField{
		{FormTemplateID: tmpl.ID, Key: "age", Type: types.FieldNumber, Required: true,
			Validation: map[string]any{"min": float64(18)}, OrderIndex: 1},
		{FormTemplateID: tmpl.ID, Key: "sleep_start", Type: types.FieldTime, Required: true, OrderIndex: 2},
		{FormTemplateID: tmpl.ID, Key: "sleep_end", Type: types.FieldTime, Required: true, OrderIndex: 3},
	}
	for _, fld := range fields {
		require.NoError(t, f.store.InsertFormField(ctx, fld))
	}

	require.NoError(t, f.store.InsertComputeDefinition(ctx, &types.ComputeDefinition{
		StudyID: studyID, Key: "sleep_duration", Version: 1, Status: types.StatusPublished,
		Definition: json.RawMessage(`{"func": "duration", "args": [{"var": "answers.sleep_start"}, {"var": "answers.sleep_end"}]}`),
	}))

	ruleSets := []*types.RuleSet{
		{StudyID: studyID, RuleType: types.RuleEligibility, Name: "adult", Version: 1, Status: types.StatusPublished,
			Expression: json.RawMessage(`{"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}}`)},
		{StudyID: studyID, RuleType: types.RuleGroupAssignment, Name: "young-adult cohort", Version: 1, Status: types.StatusPublished,
			Expression: json.RawMessage(`{
				"when": {"op": "between", "left": {"var": "answers.age"}, "min": 18, "max": 30},
				"assignment": {"key": "cohort", "value": "young-adult"}
			}`)},
		{StudyID: studyID, RuleType: types.RuleScheduling, Name: "baseline visit", Version: 1, Status: types.StatusPublished,
			Expression: json.RawMessage(`{
				"when": {"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}},
				"plan": {"visit": "baseline", "offset_days": 7}
			}`)},
	}
	for _, rs := range ruleSets {
		rs.CreatedAt = time.Now().UTC()
		require.NoError(t, f.store.InsertRuleSet(ctx, rs))
	}
	return tmpl.ID
}

func TestSleepPipelineHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	templateID := f.seedSleepStudy(t, "sleep-study")

	env, err := f.service.Submit(ctx, "sleep-study", "p-1", SubmitRequest{
		FormTemplateID: templateID,
		Answers:        map[string]any{"age": float64(24), "sleep_start": "22:00", "sleep_end": "06:00"},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(480), env.Computed["sleep_duration"])

	require.Len(t, env.RuleEvaluations, 3)
	for _, ev := range env.RuleEvaluations {
		assert.True(t, ev.Result, ev.Detail["name"])
		assert.NotZero(t, ev.ID)
		assert.Equal(t, env.Submission.ID, ev.SubmissionID)
	}

	require.Len(t, env.Assignments, 1)
	assert.Equal(t, "cohort", env.Assignments[0].GroupKey)
	assert.Equal(t, "young-adult", env.Assignments[0].GroupValue)

	require.NotNil(t, env.SchedulePlan)
	require.Len(t, env.SchedulePlan.Plans, 1)
	assert.Equal(t, map[string]any{"visit": "baseline", "offset_days": float64(7)}, env.SchedulePlan.Plans[0].Plan)

	// Audit was emitted.
	n, err := f.store.CountAuditLogs(ctx, "sleep-study", audit.ActionIntakeSubmitted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The read side projects the same computed values.
	result, err := f.service.Result(ctx, "sleep-study", "p-1")
	require.NoError(t, err)
	if diff := cmp.Diff(env.Computed, result.Computed); diff != "" {
		t.Errorf("result computed mismatch (-submit +result):\n%s", diff)
	}
	assert.Equal(t, env.Submission.ID, result.Submission.ID)
	require.NotNil(t, result.SchedulePlan)
	assert.Len(t, result.SchedulePlan.Plans, 1)
}

func TestValidationFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	templateID := f.seedSleepStudy(t, "sleep-study")

	_, err := f.service.Submit(ctx, "sleep-study", "p-1", SubmitRequest{
		FormTemplateID: templateID,
		Answers:        map[string]any{"age": float64(15)},
	})
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	// age below min plus both missing time fields.
	assert.Len(t, verr.Issues, 3)

	for _, table := range []string{"form_submissions", "computed_values", "rule_evaluations", "participant_assignments", "schedule_plans"} {
		n, err := f.store.CountRows(table)
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}
	audits, err := f.store.CountAuditLogs(ctx, "sleep-study", audit.ActionIntakeSubmitted)
	require.NoError(t, err)
	assert.Zero(t, audits)
}

func TestTemplateNotFound(t *testing.T) {
	f := newFixture(t)
	templateID := f.seedSleepStudy(t, "sleep-study")

	// Right template, wrong study.
	_, err := f.service.Submit(context.Background(), "other-study", "p-1", SubmitRequest{
		FormTemplateID: templateID,
		Answers:        map[string]any{},
	})
	var nf *types.TemplateNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "other-study", nf.StudyID)
}

func TestComputeCycleAbortsIntake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := &types.FormTemplate{StudyID: "s1", Name: "t", Version: 1, Status: types.StatusPublished, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.InsertFormTemplate(ctx, tmpl))
	for _, def := range []struct{ key, src string }{
		{"a", `{"op": "add", "args": [{"var": "computed.b"}, 1]}`},
		{"b", `{"op": "add", "args": [{"var": "computed.a"}, 1]}`},
	} {
		require.NoError(t, f.store.InsertComputeDefinition(ctx, &types.ComputeDefinition{
			StudyID: "s1", Key: def.key, Version: 1, Status: types.StatusPublished,
			Definition: json.RawMessage(def.src),
		}))
	}

	_, err := f.service.Submit(ctx, "s1", "p-1", SubmitRequest{
		FormTemplateID: tmpl.ID,
		Answers:        map[string]any{},
	})
	var cycle *types.CycleError
	require.ErrorAs(t, err, &cycle)

	n, err := f.store.CountRows("computed_values")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnmatchedRulesProduceNoActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	templateID := f.seedSleepStudy(t, "sleep-study")

	// Age 40 misses the young-adult window but passes eligibility.
	env, err := f.service.Submit(ctx, "sleep-study", "p-2", SubmitRequest{
		FormTemplateID: templateID,
		Answers:        map[string]any{"age": float64(40), "sleep_start": "23:00", "sleep_end": "07:00"},
	})
	require.NoError(t, err)

	require.Len(t, env.RuleEvaluations, 3)
	matched := 0
	for _, ev := range env.RuleEvaluations {
		if ev.Result {
			matched++
		}
	}
	assert.Equal(t, 2, matched)
	assert.Empty(t, env.Assignments)
	// Scheduling still matched, so the plan count equals the matched
	// scheduling rules.
	require.NotNil(t, env.SchedulePlan)
	assert.Len(t, env.SchedulePlan.Plans, 1)
}

func TestGroupValueStringCoercion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := &types.FormTemplate{StudyID: "s1", Name: "t", Version: 1, Status: types.StatusPublished, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.InsertFormTemplate(ctx, tmpl))
	require.NoError(t, f.store.InsertRuleSet(ctx, &types.RuleSet{
		StudyID: "s1", RuleType: types.RuleGroupAssignment, Name: "arm", Version: 1,
		Status: types.StatusPublished, CreatedAt: time.Now().UTC(),
		Expression: json.RawMessage(`{
			"when": {"all": []},
			"group_key": "arm",
			"group_value": 2
		}`),
	}))

	env, err := f.service.Submit(ctx, "s1", "p-1", SubmitRequest{FormTemplateID: tmpl.ID, Answers: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, env.Assignments, 1)
	assert.Equal(t, "arm", env.Assignments[0].GroupKey)
	assert.Equal(t, "2", env.Assignments[0].GroupValue)
}

func TestEligibilityPayloadSpellings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := &types.FormTemplate{StudyID: "s1", Name: "t", Version: 1, Status: types.StatusPublished, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.InsertFormTemplate(ctx, tmpl))

	expressions := []string{
		`{"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}}`,
		`{"expression": {"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}}}`,
		`{"criteria": {"op": ">=", "left": {"var": "answers.age"}, "right": {"value": 18}}}`,
	}
	for i, src := range expressions {
		require.NoError(t, f.store.InsertRuleSet(ctx, &types.RuleSet{
			StudyID: "s1", RuleType: types.RuleEligibility, Name: "elig", Version: i + 1,
			Status: types.StatusPublished, CreatedAt: time.Now().UTC(),
			Expression: json.RawMessage(src),
		}))
	}

	env, err := f.service.Submit(ctx, "s1", "p-1", SubmitRequest{
		FormTemplateID: tmpl.ID,
		Answers:        map[string]any{"age": float64(30)},
	})
	require.NoError(t, err)
	require.Len(t, env.RuleEvaluations, 3)
	for _, ev := range env.RuleEvaluations {
		assert.True(t, ev.Result)
	}
}

func TestMetadataScopeVisibleToRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tmpl := &types.FormTemplate{StudyID: "s1", Name: "t", Version: 1, Status: types.StatusPublished, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.InsertFormTemplate(ctx, tmpl))
	require.NoError(t, f.store.InsertRuleSet(ctx, &types.RuleSet{
		StudyID: "s1", RuleType: types.RuleEligibility, Name: "site check", Version: 1,
		Status: types.StatusPublished, CreatedAt: time.Now().UTC(),
		Expression: json.RawMessage(`{"op": "==", "left": {"var": "metadata.site"}, "right": {"value": "main"}}`),
	}))

	env, err := f.service.Submit(ctx, "s1", "p-1", SubmitRequest{
		FormTemplateID: tmpl.ID,
		Answers:        map[string]any{},
		Metadata:       map[string]any{"site": "main"},
	})
	require.NoError(t, err)
	require.Len(t, env.RuleEvaluations, 1)
	assert.True(t, env.RuleEvaluations[0].Result)
}

func TestResultNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Result(context.Background(), "s1", "nobody")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestLatestSubmissionWinsOnResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	templateID := f.seedSleepStudy(t, "sleep-study")

	submit := func(age float64) {
		_, err := f.service.Submit(ctx, "sleep-study", "p-1", SubmitRequest{
			FormTemplateID: templateID,
			Answers:        map[string]any{"age": age, "sleep_start": "22:00", "sleep_end": "06:00"},
		})
		require.NoError(t, err)
	}
	submit(24)
	submit(29)

	result, err := f.service.Result(ctx, "sleep-study", "p-1")
	require.NoError(t, err)
	assert.Equal(t, float64(29), result.Answers["age"])
}
