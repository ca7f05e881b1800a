package demo

import (
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/retry"
)

// ResearchRetry governs research branches that fail with errors marked
// retry.Transient.
var ResearchRetry = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
	BackoffFactor:  2,
	Jitter:         0.1,
}

// Researcher produces a report on one competitor. It stands in for the
// retrieval and model calls of a production analysis. Errors wrapped with
// retry.Transient are retried under ResearchRetry.
type Researcher func(ctx workgraph.Context, competitor string) (string, error)

// StaticResearcher returns a fixed report naming the competitor.
func StaticResearcher(_ workgraph.Context, competitor string) (string, error) {
	return fmt.Sprintf("%s: pricing, positioning and recent launches reviewed", competitor), nil
}

// CompetitorSchema declares the state of a competitor analysis.
func CompetitorSchema() *workgraph.Schema {
	return workgraph.NewSchema().
		Declare("competitors", workgraph.TypeList, workgraph.Overwrite).
		Declare("competitor", workgraph.TypeString, workgraph.Overwrite).
		Declare("reports", workgraph.TypeList, workgraph.Append).
		Declare("summary", workgraph.TypeString, workgraph.Overwrite)
}

// CompetitorGraph builds the analysis: the "analyze" fan-out runs one
// "research" branch per entry of "competitors", then "summarize" combines the
// reports. Reports appear in the order competitors are listed, whatever
// order the branches finish in. A nil researcher uses StaticResearcher.
func CompetitorGraph(research Researcher) (*workgraph.CompiledGraph, error) {
	if research == nil {
		research = StaticResearcher
	}

	return workgraph.NewGraph(CompetitorSchema()).
		AddNode("research", retry.Node(researchNode(research), ResearchRetry)).
		AddNode("summarize", summarizeNode).
		AddFanOut("analyze", PerCompetitor, "summarize", "research").
		AddEdge("summarize", workgraph.END).
		SetEntry("analyze").
		Compile()
}

// PerCompetitor dispatches one research branch per competitor.
func PerCompetitor(s workgraph.State) []workgraph.Send {
	list := s.GetList("competitors")
	sends := make([]workgraph.Send, 0, len(list))
	for _, c := range list {
		sends = append(sends, workgraph.Send{
			Node:  "research",
			Input: workgraph.State{"competitor": c},
		})
	}
	return sends
}

func researchNode(research Researcher) workgraph.NodeFunc {
	return func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		competitor := s.GetString("competitor")
		report, err := research(ctx, competitor)
		if err != nil {
			return workgraph.Result{}, fmt.Errorf("research %s: %w", competitor, err)
		}
		return workgraph.Update(workgraph.State{"reports": []any{report}}), nil
	}
}

func summarizeNode(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
	reports := s.GetList("reports")
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		lines = append(lines, fmt.Sprint(r))
	}
	return workgraph.Update(workgraph.State{
		"summary": fmt.Sprintf("%d competitors analyzed\n%s", len(reports), strings.Join(lines, "\n")),
	}), nil
}
