package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/perigee-labs/groundwork/internal/llm"
	"github.com/perigee-labs/groundwork/internal/retrieval"
	"github.com/perigee-labs/groundwork/internal/run"
)

// scriptedGenerator plays back canned replies per agent, in order, and
// records every request it saw.
type scriptedGenerator struct {
	replies map[string][]any
	errs    map[string]error
	calls   []llm.Request
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		replies: make(map[string][]any),
		errs:    make(map[string]error),
	}
}

func (g *scriptedGenerator) script(agent string, reply any) {
	g.replies[agent] = append(g.replies[agent], reply)
}

func (g *scriptedGenerator) Generate(_ context.Context, req llm.Request) error {
	g.calls = append(g.calls, req)
	if err := g.errs[req.Agent]; err != nil {
		return err
	}
	queue := g.replies[req.Agent]
	if len(queue) == 0 {
		return fmt.Errorf("no scripted reply for %s agent", req.Agent)
	}
	reply := queue[0]
	g.replies[req.Agent] = queue[1:]

	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, req.Out)
}

func (g *scriptedGenerator) callsFor(agent string) []llm.Request {
	var out []llm.Request
	for _, c := range g.calls {
		if c.Agent == agent {
			out = append(out, c)
		}
	}
	return out
}

// scriptedSearcher returns a fixed passage set and records queries.
type scriptedSearcher struct {
	passages []retrieval.Passage
	err      error
	queries  []string
	ks       []int
}

func (s *scriptedSearcher) Retrieve(_ context.Context, query string, k int) ([]retrieval.Passage, error) {
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return s.passages, nil
}

func newTestPipeline(t *testing.T, gen *scriptedGenerator, searcher *scriptedSearcher) *Pipeline {
	t.Helper()
	return New(gen, searcher, zaptest.NewLogger(t))
}

func passage(sourceID, location, text string) retrieval.Passage {
	return retrieval.Passage{SourceID: sourceID, Location: location, Text: text}
}

func threePassages() []retrieval.Passage {
	return []retrieval.Passage{
		passage("ops_report.md", "chunk 1", "OTIF slipped to 91% in March."),
		passage("ops_report.md", "chunk 2", "Supplier lead time averages 6 weeks."),
		passage("contracts.txt", "chunk 1", "The MOQ for part A-113 is 500 units."),
	}
}

func logPairs(state *run.State) [][2]string {
	pairs := make([][2]string, len(state.Log))
	for i, e := range state.Log {
		pairs[i] = [2]string{e.Agent, e.Action}
	}
	return pairs
}

func telemetryStages(state *run.State) []string {
	stages := make([]string, len(state.Telemetry))
	for i, rec := range state.Telemetry {
		stages[i] = rec.Stage
	}
	return stages
}
