package eval

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perigee-labs/groundwork/internal/run"
)

func writeSuite(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSuiteJSON(t *testing.T) {
	path := writeSuite(t, "cases.json", `[
		{
			"id": "grounded-answer",
			"task": "What is the MOQ for part A-113?",
			"checks": {"must_include": ["500"], "max_words": 120}
		},
		{
			"id": "refusal",
			"task": "What is the CEO's shoe size?",
			"checks": {"must_return_not_found": true}
		}
	]`)

	cases, err := LoadSuite(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "grounded-answer", cases[0].ID)
	assert.Equal(t, "What is the MOQ for part A-113?", cases[0].Task)
	assert.Equal(t, []string{"500"}, cases[0].Checks.MustInclude)
	require.NotNil(t, cases[0].Checks.MaxWords)
	assert.Equal(t, 120, *cases[0].Checks.MaxWords)

	assert.True(t, cases[1].Checks.MustReturnNotFound)
	assert.Nil(t, cases[1].Checks.MaxWords)
	assert.Nil(t, cases[1].Checks.MustIncludeAny)
}

func TestLoadSuiteYAML(t *testing.T) {
	path := writeSuite(t, "cases.yaml", `
- id: grounded-answer
  task: Summarize March OTIF performance.
  checks:
    must_include_any:
      - "91%"
      - "91 percent"
- id: forbidden-claim
  task: State the Q3 revenue figure.
  checks:
    must_not_include:
      - guaranteed
`)

	cases, err := LoadSuite(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, []string{"91%", "91 percent"}, cases[0].Checks.MustIncludeAny)
	assert.Equal(t, []string{"guaranteed"}, cases[1].Checks.MustNotInclude)
}

func TestLoadSuiteRejectsUnknownExtension(t *testing.T) {
	path := writeSuite(t, "cases.txt", "not a suite")

	_, err := LoadSuite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported eval suite format")
}

func TestLoadSuiteRejectsMissingFile(t *testing.T) {
	_, err := LoadSuite(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read eval suite")
}

func TestLoadSuiteRejectsEmptySuite(t *testing.T) {
	path := writeSuite(t, "cases.json", `[]`)

	_, err := LoadSuite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains no cases")
}

func TestLoadSuiteRejectsMissingID(t *testing.T) {
	path := writeSuite(t, "cases.json", `[{"task": "do something"}]`)

	_, err := LoadSuite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing an id")
}

func TestLoadSuiteRejectsDuplicateID(t *testing.T) {
	path := writeSuite(t, "cases.json", `[
		{"id": "a", "task": "first"},
		{"id": "a", "task": "second"}
	]`)

	_, err := LoadSuite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate case id "a"`)
}

func TestLoadSuiteRejectsMissingTask(t *testing.T) {
	path := writeSuite(t, "cases.json", `[{"id": "a", "task": "  "}]`)

	_, err := LoadSuite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `case "a" is missing a task`)
}

// scriptedRunner returns canned states keyed by task text.
func scriptedRunner(t *testing.T, states map[string]*run.State) TaskRunner {
	t.Helper()
	return func(_ context.Context, task string) (*run.State, error) {
		state, ok := states[task]
		require.True(t, ok, "unexpected task %q", task)
		return state, nil
	}
}

func stateWithFinal(output string) *run.State {
	state := run.NewState("eval task", nil)
	state.FinalOutput = output
	return state
}

func TestHarnessAllPass(t *testing.T) {
	cases := []Case{
		{ID: "moq", Task: "moq?", Checks: Checks{MustInclude: []string{"500 units"}}},
		{ID: "refusal", Task: "shoe size?", Checks: Checks{MustReturnNotFound: true}},
	}
	runner := scriptedRunner(t, map[string]*run.State{
		"moq?":       stateWithFinal("The MOQ is 500 units."),
		"shoe size?": stateWithFinal("Not found in sources."),
	})

	var out bytes.Buffer
	harness := NewHarness(runner, &out, zaptest.NewLogger(t))

	summary, err := harness.Run(context.Background(), cases)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 2, summary.Total)
	assert.True(t, summary.AllPassed())
	require.Len(t, summary.Results, 2)
	assert.True(t, summary.Results[0].Passed)
	assert.Empty(t, summary.Results[0].Failures)

	report := out.String()
	assert.Contains(t, report, "--- Running moq ---")
	assert.Contains(t, report, "Task: moq?")
	assert.Contains(t, report, "✅ PASS")
	assert.NotContains(t, report, "❌ FAIL")
	assert.NotContains(t, report, "MODEL OUTPUT")
	assert.Contains(t, report, "FINAL SCORE: 2/2 passed")
}

func TestHarnessFailurePrintsDiagnostics(t *testing.T) {
	cases := []Case{
		{ID: "moq", Task: "moq?", Checks: Checks{MustInclude: []string{"500 units"}}},
	}
	runner := scriptedRunner(t, map[string]*run.State{
		"moq?": stateWithFinal("The order minimum is one pallet."),
	})

	var out bytes.Buffer
	harness := NewHarness(runner, &out, zaptest.NewLogger(t))

	summary, err := harness.Run(context.Background(), cases)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Passed)
	assert.False(t, summary.AllPassed())
	require.Len(t, summary.Results, 1)
	assert.Equal(t, []string{"Missing required phrase: '500 units'"}, summary.Results[0].Failures)

	report := out.String()
	assert.Contains(t, report, "❌ FAIL")
	assert.Contains(t, report, "   - Missing required phrase: '500 units'")
	assert.Contains(t, report, "----- MODEL OUTPUT -----")
	assert.Contains(t, report, "The order minimum is one pallet.")
	assert.Contains(t, report, "------------------------")
	assert.Contains(t, report, "FINAL SCORE: 0/1 passed")
}

func TestHarnessRunErrorFailsCaseAndContinues(t *testing.T) {
	cases := []Case{
		{ID: "broken", Task: "broken task"},
		{ID: "fine", Task: "fine task", Checks: Checks{MustInclude: []string{"ok"}}},
	}
	runner := func(_ context.Context, task string) (*run.State, error) {
		if task == "broken task" {
			return nil, errors.New("planner stage failed: backend down")
		}
		return stateWithFinal("all ok here"), nil
	}

	var out bytes.Buffer
	harness := NewHarness(runner, &out, zaptest.NewLogger(t))

	summary, err := harness.Run(context.Background(), cases)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 2, summary.Total)

	require.Len(t, summary.Results, 2)
	assert.False(t, summary.Results[0].Passed)
	assert.Equal(t, []string{"Run failed: planner stage failed: backend down"}, summary.Results[0].Failures)
	assert.True(t, summary.Results[1].Passed)
	assert.Contains(t, out.String(), "FINAL SCORE: 1/2 passed")
}

func TestHarnessScoresDraftWhenRunNeverAccepted(t *testing.T) {
	state := run.NewState("eval task", nil)
	state.Draft = "draft mentioning 500 units"

	cases := []Case{
		{ID: "draft-only", Task: "moq?", Checks: Checks{MustInclude: []string{"500 units"}}},
	}
	runner := scriptedRunner(t, map[string]*run.State{"moq?": state})

	summary, err := NewHarness(runner, nil, zaptest.NewLogger(t)).Run(context.Background(), cases)
	require.NoError(t, err)
	assert.True(t, summary.AllPassed())
	assert.Equal(t, "draft mentioning 500 units", summary.Results[0].Output)
}

func TestHarnessContextCancellationStopsSuite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := func(context.Context, string) (*run.State, error) {
		t.Fatal("runner should not be called after cancellation")
		return nil, nil
	}

	summary, err := NewHarness(runner, nil, zaptest.NewLogger(t)).Run(ctx, []Case{{ID: "a", Task: "t"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Results)
}

func TestPreviewTruncatesRunes(t *testing.T) {
	long := strings.Repeat("é", previewLimit+50)

	got := preview(long)
	assert.Equal(t, previewLimit, len([]rune(got)))

	short := "short output"
	assert.Equal(t, short, preview(short))
}
