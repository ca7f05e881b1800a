// Package demo holds the reference graphs used by the workgraph CLI and
// examples: a customer support agent that pauses for human approval, and a
// competitor analysis that fans out one research branch per competitor.
//
// The language-model steps of a real agent (intent classification, sentiment
// scoring, answer generation) are replaced by deterministic stand-ins so the
// graphs behave the same on every run.
package demo

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/registry"
)

// Registered graph names.
const (
	GraphSupport     = "support"
	GraphCompetitors = "competitors"
)

// Graphs returns a registry of the demo graphs built with their default
// stand-ins.
func Graphs() *registry.Registry {
	return registry.New().
		MustRegister(GraphSupport, func() (*workgraph.CompiledGraph, error) { return SupportGraph(nil) }).
		MustRegister(GraphCompetitors, func() (*workgraph.CompiledGraph, error) { return CompetitorGraph(nil) })
}

// Support intents.
const (
	IntentFAQ      = "faq"
	IntentRefund   = "refund"
	IntentGeneral  = "general"
	IntentEscalate = "escalate"
)

// EscalationThreshold is the sentiment below which a query is escalated to a
// human regardless of its intent.
const EscalationThreshold = -0.5

// Classifier scores a customer query. It stands in for the intent and
// sentiment model calls of a production agent.
type Classifier func(query string) (intent string, sentiment float64)

var negativeWords = []string{"angry", "terrible", "worst", "unacceptable", "furious"}

// KeywordClassifier classifies by keyword. Refund requests mention a refund
// or money back; questions become FAQ lookups; each negative word lowers the
// sentiment by 0.4.
func KeywordClassifier(query string) (string, float64) {
	q := strings.ToLower(query)

	sentiment := 0.2
	for _, w := range negativeWords {
		if strings.Contains(q, w) {
			sentiment -= 0.4
		}
	}

	switch {
	case strings.Contains(q, "refund"), strings.Contains(q, "money back"):
		return IntentRefund, sentiment
	case strings.Contains(q, "?"), strings.HasPrefix(q, "how"):
		return IntentFAQ, sentiment
	}
	return IntentGeneral, sentiment
}

// SupportSchema declares the state of a support conversation.
func SupportSchema() *workgraph.Schema {
	return workgraph.NewSchema().
		Declare("query", workgraph.TypeString, workgraph.Overwrite).
		Declare("intent", workgraph.TypeString, workgraph.Overwrite).
		Declare("sentiment", workgraph.TypeNumber, workgraph.Overwrite).
		Declare("draft", workgraph.TypeString, workgraph.Overwrite).
		Declare("decision", workgraph.TypeRecord, workgraph.Overwrite).
		Declare("messages", workgraph.TypeList, workgraph.Append).
		Declare("audit", workgraph.TypeList, workgraph.Append)
}

// SupportGraph builds the support agent:
//
//	classify -> {faq, refund, general, escalate}
//	faq, general -> respond -> END
//	refund, escalate -> approval -> respond -> END
//
// approval suspends the thread until a reviewer resumes it with a decision.
// A nil classifier uses KeywordClassifier.
func SupportGraph(classify Classifier) (*workgraph.CompiledGraph, error) {
	if classify == nil {
		classify = KeywordClassifier
	}

	return workgraph.NewGraph(SupportSchema()).
		AddNode("classify", classifyNode(classify)).
		AddNode("faq", draftNode("Here is what our help center says about that.")).
		AddNode("general", draftNode("Thanks for reaching out, we will follow up shortly.")).
		AddNode("refund", draftNode("Your refund has been issued.")).
		AddNode("escalate", draftNode("A support lead will contact you within the hour.")).
		AddNode("approval", approvalNode).
		AddNode("respond", respondNode).
		AddConditionalEdge("classify", RouteIntent, map[string]string{
			IntentFAQ:      "faq",
			IntentGeneral:  "general",
			IntentRefund:   "refund",
			IntentEscalate: "escalate",
		}).
		AddEdge("faq", "respond").
		AddEdge("general", "respond").
		AddEdge("refund", "approval").
		AddEdge("escalate", "approval").
		AddEdge("approval", "respond").
		AddEdge("respond", workgraph.END).
		SetEntry("classify").
		Compile()
}

// RouteIntent escalates unhappy customers and otherwise routes on intent.
func RouteIntent(s workgraph.State) string {
	if sentiment, ok := s["sentiment"].(float64); ok && sentiment < EscalationThreshold {
		return IntentEscalate
	}
	return s.GetString("intent")
}

func classifyNode(classify Classifier) workgraph.NodeFunc {
	return func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		query := s.GetString("query")
		if query == "" {
			return workgraph.Result{}, fmt.Errorf("classify: empty query")
		}
		intent, sentiment := classify(query)
		ctx.Logger().Debug("classified query", "intent", intent, "sentiment", sentiment)

		return workgraph.Update(workgraph.State{
			"intent":    intent,
			"sentiment": sentiment,
			"messages":  []any{message("user", query)},
			"audit":     []any{"classified as " + intent},
		}), nil
	}
}

func draftNode(text string) workgraph.NodeFunc {
	return func(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
		return workgraph.Update(workgraph.State{
			"draft": text,
			"audit": []any{"drafted by " + ctx.NodeID()},
		}), nil
	}
}

// approvalNode asks a reviewer to approve the draft. The resume value is
// either a bool or a record with an "approved" bool and an optional
// "reviewer".
func approvalNode(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
	value, ok := ctx.ResumeValue()
	if !ok {
		return workgraph.Suspend(map[string]any{
			"reason": "needs approval",
			"intent": s.GetString("intent"),
			"query":  s.GetString("query"),
			"draft":  s.GetString("draft"),
		}), nil
	}

	approved, reviewer, err := ParseDecision(value)
	if err != nil {
		return workgraph.Result{}, err
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	return workgraph.Update(workgraph.State{
		"decision": map[string]any{"approved": approved, "reviewer": reviewer},
		"audit":    []any{fmt.Sprintf("%s by %s", verdict, reviewer)},
	}), nil
}

// ParseDecision reads a reviewer's resume value.
func ParseDecision(value any) (approved bool, reviewer string, err error) {
	reviewer = "unknown"
	switch v := value.(type) {
	case bool:
		return v, reviewer, nil
	case map[string]any:
		approved, ok := v["approved"].(bool)
		if !ok {
			return false, "", fmt.Errorf("decision: missing boolean \"approved\"")
		}
		if r, ok := v["reviewer"].(string); ok && r != "" {
			reviewer = r
		}
		return approved, reviewer, nil
	}
	return false, "", fmt.Errorf("decision: unsupported resume value %T", value)
}

func respondNode(ctx workgraph.Context, s workgraph.State) (workgraph.Result, error) {
	text := s.GetString("draft")
	if decision, ok := s["decision"].(map[string]any); ok {
		if approved, _ := decision["approved"].(bool); !approved {
			text = "We are unable to complete this request. A specialist will review your case."
		}
	}
	return workgraph.Update(workgraph.State{
		"messages": []any{message("assistant", text)},
	}), nil
}

func message(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}
