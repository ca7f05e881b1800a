package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/randalmurphal/workgraph/internal/demo"
	"github.com/randalmurphal/workgraph/pkg/workgraph"
	"github.com/randalmurphal/workgraph/pkg/workgraph/config"
	"github.com/randalmurphal/workgraph/pkg/workgraph/registry"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand. The runtime is opened
// lazily before a subcommand runs and closed by run.
type app struct {
	configPath string
	graphName  string
	graphs     *registry.Registry

	stdout io.Writer
	stderr io.Writer

	rt     *config.Runtime
	runner *workgraph.Runner
}

// run executes the CLI with args and releases everything it opened.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr, graphs: demo.Graphs()}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workgraph",
		Short:         "Inspect and administer workgraph threads",
		Long:          `workgraph reads thread checkpoints from the configured store, resumes suspended threads and runs the demo graphs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Engine configuration file (YAML or JSON); defaults to an in-memory store")
	root.PersistentFlags().StringVarP(&a.graphName, "graph", "g", demo.GraphSupport,
		"Graph the threads belong to: "+strings.Join(a.graphs.Names(), ", "))

	root.AddCommand(
		a.statusCmd(),
		a.historyCmd(),
		a.pendingCmd(),
		a.pruneCmd(),
		a.replayCmd(),
		a.retryCmd(),
		a.demoCmd(),
	)
	return root
}

// open loads the configuration and builds the runner for the selected graph.
func (a *app) open(cmd *cobra.Command) error {
	graph, err := a.graphs.Get(a.graphName)
	if err != nil {
		return err
	}

	engine, err := config.LoadEngine(a.configPath)
	if err != nil {
		return err
	}

	// The CLI serves no scrape endpoint; metrics go to a private registry.
	rt, err := config.Open(cmd.Context(), engine, a.stderr, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	a.rt = rt
	a.runner = rt.NewRunner(graph)
	return nil
}

func (a *app) close() {
	if a.rt == nil {
		return
	}
	if err := a.rt.Close(); err != nil {
		fmt.Fprintln(a.stderr, "close:", err)
	}
	a.rt = nil
}

// runE wraps a subcommand body so the runtime is opened first.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.open(cmd); err != nil {
			return err
		}
		return fn(cmd, args)
	}
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(a.stdout, string(data))
	return err
}

// resultView is the printed form of a RunResult.
type resultView struct {
	ThreadID    string          `json:"thread_id"`
	Status      string          `json:"status"`
	Sequence    int             `json:"sequence"`
	InterruptID string          `json:"interrupt_id,omitempty"`
	Payload     any             `json:"payload,omitempty"`
	State       workgraph.State `json:"state"`
	Error       string          `json:"error,omitempty"`
}

// printResult prints res and returns runErr. A failed run still prints the
// state it stopped in.
func (a *app) printResult(res *workgraph.RunResult, runErr error) error {
	if res == nil {
		return runErr
	}
	view := resultView{
		ThreadID:    res.ThreadID,
		Status:      string(res.Status),
		Sequence:    res.Sequence,
		InterruptID: res.InterruptID,
		Payload:     res.Payload,
		State:       res.State,
	}
	if res.Error != nil {
		view.Error = res.Error.Error()
	}
	return errors.Join(a.printJSON(view), runErr)
}
