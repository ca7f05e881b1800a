package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/randalmurphal/workgraph/internal/demo"
	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/spf13/cobra"
)

func (a *app) demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the reference graphs",
		Long:  `Start and resume threads of the support agent (--graph support) or the competitor analysis (--graph competitors).`,
	}
	cmd.AddCommand(a.demoStartCmd(), a.demoResumeCmd())
	return cmd
}

func (a *app) demoStartCmd() *cobra.Command {
	var (
		query       string
		competitors []string
	)
	cmd := &cobra.Command{
		Use:   "start [thread-id]",
		Short: "Start a thread; a thread ID is generated when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			threadID := uuid.New().String()
			if len(args) == 1 {
				threadID = args[0]
			}

			initial, err := a.initialState(query, competitors)
			if err != nil {
				return err
			}
			return a.printResult(a.runner.Start(cmd.Context(), threadID, initial))
		}),
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Customer query (support graph)")
	cmd.Flags().StringSliceVar(&competitors, "competitors", nil, "Competitors to analyze (competitors graph)")
	return cmd
}

func (a *app) initialState(query string, competitors []string) (workgraph.State, error) {
	switch a.graphName {
	case demo.GraphCompetitors:
		if len(competitors) == 0 {
			return nil, errors.New("--competitors is required for the competitors graph")
		}
		return workgraph.State{"competitors": competitors}, nil
	default:
		if query == "" {
			return nil, errors.New("--query is required for the support graph")
		}
		return workgraph.State{"query": query}, nil
	}
}

func (a *app) demoResumeCmd() *cobra.Command {
	var (
		value       string
		interruptID string
	)
	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Resume a suspended thread with a JSON decision",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			var decoded any
			if err := json.Unmarshal([]byte(value), &decoded); err != nil {
				return fmt.Errorf("invalid --value: %w", err)
			}

			var opts []workgraph.ResumeOption
			if interruptID != "" {
				opts = append(opts, workgraph.ExpectInterrupt(interruptID))
			}
			return a.printResult(a.runner.Resume(cmd.Context(), args[0], decoded, opts...))
		}),
	}
	cmd.Flags().StringVar(&value, "value", "true", `Resume value as JSON, e.g. '{"approved": true, "reviewer": "dana"}'`)
	cmd.Flags().StringVar(&interruptID, "interrupt", "", "Only resume if the thread is still waiting on this interrupt ID")
	return cmd
}
