// Package eval scores pipeline runs against a fixed suite of cases.
// Each case submits a task, captures the produced deliverable, and
// applies phrase and length checks to it, so regressions in grounding
// or refusal behavior show up as failed cases rather than anecdotes.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/run"
)

// previewLimit caps how much of a failing case's output is echoed.
const previewLimit = 300

// Case is one evaluation scenario: a task to run and the checks its
// output must satisfy.
type Case struct {
	ID     string `json:"id" yaml:"id"`
	Task   string `json:"task" yaml:"task"`
	Checks Checks `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CaseResult records the outcome of a single case.
type CaseResult struct {
	ID       string   `json:"id"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// Summary aggregates a full suite run.
type Summary struct {
	Passed  int          `json:"passed"`
	Total   int          `json:"total"`
	Results []CaseResult `json:"results"`
}

// AllPassed reports whether every case in the suite passed.
func (s Summary) AllPassed() bool {
	return s.Passed == s.Total
}

// LoadSuite reads evaluation cases from a JSON or YAML file, chosen by
// extension.
func LoadSuite(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read eval suite: %w", err)
	}

	var cases []Case
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("failed to parse eval suite %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("failed to parse eval suite %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported eval suite format %q (expected .json, .yaml, or .yml)", ext)
	}

	if len(cases) == 0 {
		return nil, fmt.Errorf("eval suite %s contains no cases", path)
	}
	seen := make(map[string]struct{}, len(cases))
	for i, c := range cases {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("eval suite %s: case %d is missing an id", path, i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("eval suite %s: duplicate case id %q", path, c.ID)
		}
		seen[c.ID] = struct{}{}
		if strings.TrimSpace(c.Task) == "" {
			return nil, fmt.Errorf("eval suite %s: case %q is missing a task", path, c.ID)
		}
	}
	return cases, nil
}

// TaskRunner executes one task end to end and returns the final state.
type TaskRunner func(ctx context.Context, task string) (*run.State, error)

// Harness runs evaluation cases through a TaskRunner and reports
// results to a writer in a stable, diffable format.
type Harness struct {
	runTask TaskRunner
	out     io.Writer
	logger  *zap.Logger
}

// NewHarness builds a Harness. A nil writer discards the report and a
// nil logger disables logging.
func NewHarness(runTask TaskRunner, out io.Writer, logger *zap.Logger) *Harness {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{runTask: runTask, out: out, logger: logger}
}

// Run executes every case in order and returns the aggregate summary.
// A run error fails the affected case but does not abort the suite;
// only context cancellation stops it early.
func (h *Harness) Run(ctx context.Context, cases []Case) (Summary, error) {
	summary := Summary{Total: len(cases), Results: make([]CaseResult, 0, len(cases))}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("eval suite interrupted: %w", err)
		}

		fmt.Fprintf(h.out, "\n--- Running %s ---\n", c.ID)
		fmt.Fprintf(h.out, "Task: %s\n", c.Task)

		state, err := h.runTask(ctx, c.Task)
		output := outputText(state)

		var failures []string
		if err != nil {
			failures = []string{fmt.Sprintf("Run failed: %v", err)}
		} else {
			failures = c.Checks.Evaluate(output)
		}

		result := CaseResult{ID: c.ID, Passed: len(failures) == 0, Failures: failures, Output: output}
		summary.Results = append(summary.Results, result)

		if result.Passed {
			summary.Passed++
			metrics.EvalCases.WithLabelValues("pass").Inc()
			fmt.Fprintln(h.out, "✅ PASS")
			h.logger.Info("Eval case passed", zap.String("case_id", c.ID))
			continue
		}

		metrics.EvalCases.WithLabelValues("fail").Inc()
		fmt.Fprintln(h.out, "❌ FAIL")
		for _, failure := range failures {
			fmt.Fprintf(h.out, "   - %s\n", failure)
		}
		fmt.Fprintln(h.out, "----- MODEL OUTPUT -----")
		fmt.Fprintln(h.out, preview(output))
		fmt.Fprintln(h.out, "------------------------")
		h.logger.Warn("Eval case failed",
			zap.String("case_id", c.ID),
			zap.Strings("failures", failures),
		)
	}

	fmt.Fprintln(h.out, "\n==============================")
	fmt.Fprintf(h.out, "FINAL SCORE: %d/%d passed\n", summary.Passed, summary.Total)
	fmt.Fprintln(h.out, "==============================")
	h.logger.Info("Eval suite finished",
		zap.Int("passed", summary.Passed),
		zap.Int("total", summary.Total),
	)
	return summary, nil
}

// outputText mirrors how operators read a run: the accepted deliverable
// when one exists, otherwise the last draft.
func outputText(state *run.State) string {
	if state == nil {
		return ""
	}
	if state.FinalOutput != "" {
		return state.FinalOutput
	}
	return state.Draft
}

func preview(output string) string {
	runes := []rune(output)
	if len(runes) <= previewLimit {
		return output
	}
	return string(runes[:previewLimit])
}
