package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/optimizer"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/reporter"
	"github.com/opscart/lambda-sizer/pkg/repository"
	"github.com/opscart/lambda-sizer/pkg/workflow"
)

var (
	definitionFile string
	constraintKind string
	limit          float64
	runSizes       map[string]int
	inputFile      string
)

func newWorkflowCmd() *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Size the functions of a state machine",
	}

	graphCmd := &cobra.Command{
		Use:   "graph <definition-file>",
		Short: "Show the graph, compute resources and layout of a definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowGraph,
	}

	optimizeCmd := &cobra.Command{
		Use:   "optimize <state-machine>",
		Short: "Choose memory sizes for every modeled function under a constraint",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowOptimize,
	}
	addOptimizeFlags(optimizeCmd)

	tuneCmd := &cobra.Command{
		Use:   "tune <state-machine>",
		Short: "Tune every function of a state machine, then optimize it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowTune,
	}
	addOptimizeFlags(tuneCmd)
	tuneCmd.Flags().StringVar(&payloadFile, "payload", "", "File with the payload every function is sampled with")
	tuneCmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the sampling aliases afterwards")

	runCmd := &cobra.Command{
		Use:   "run <state-machine>",
		Short: "Execute a state machine at fixed memory sizes and measure it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowRun,
	}
	runCmd.Flags().StringToIntVar(&runSizes, "sizes", nil, "Memory size per function, e.g. fn-a=512,fn-b=1024")
	runCmd.Flags().StringVar(&inputFile, "input", "", "File with the execution input")

	workflowCmd.AddCommand(graphCmd, optimizeCmd, tuneCmd, runCmd)
	return workflowCmd
}

func addOptimizeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&definitionFile, "definition", "", "Read the definition from a file instead of the service")
	cmd.Flags().StringVar(&constraintKind, "constraint", string(optimizer.DurationConstraint), "Constraint: duration or cost")
	cmd.Flags().Float64Var(&limit, "limit", 0, "Latency limit (ms) or cost limit ($)")
	cmd.MarkFlagRequired("limit")
}

func loadGraph(ctx context.Context, stateMachineID string) (*workflow.Graph, error) {
	var (
		data []byte
		err  error
	)
	if definitionFile != "" {
		data, err = os.ReadFile(definitionFile)
	} else {
		data, err = workflow.NewAWSClient(awsSess).DescribeDefinition(ctx, stateMachineID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}

	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return workflow.BuildGraph(def)
}

func runWorkflowGraph(cmd *cobra.Command, args []string) error {
	definitionFile = args[0]
	graph, err := loadGraph(cmd.Context(), "")
	if err != nil {
		return err
	}

	fmt.Printf("Start: %s\n\n", graph.Start.Name)
	fmt.Println("Compute resources:")
	for _, id := range graph.ComputeResources() {
		fmt.Printf("  %s\n", id)
	}
	fmt.Println("\nTransitions:")
	for _, t := range graph.Transitions() {
		fmt.Printf("  %s -> %s\n", t.From, t.To)
	}

	layout, err := graph.Layout()
	if err != nil {
		fmt.Printf("\nLayout: %v\n", err)
		return nil
	}
	fmt.Println("\nLayout:")
	printNodes("entry", layout.Entry)
	for i, branch := range layout.Branches {
		printNodes(fmt.Sprintf("branch %d", i+1), branch)
	}
	printNodes("exit", layout.Exit)
	return nil
}

func printNodes(label string, nodes []*workflow.Node) {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	fmt.Printf("  %-9s %s\n", label+":", strings.Join(names, " -> "))
}

func constraint() (optimizer.Constraint, error) {
	switch kind := optimizer.ConstraintKind(constraintKind); kind {
	case optimizer.DurationConstraint, optimizer.CostConstraint:
		return optimizer.Constraint{Kind: kind, Limit: limit}, nil
	}
	return optimizer.Constraint{}, fmt.Errorf("unknown constraint %q, use duration or cost", constraintKind)
}

func runWorkflowOptimize(cmd *cobra.Command, args []string) error {
	graph, err := loadGraph(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return optimizeWorkflow(cmd.Context(), args[0], graph)
}

func optimizeWorkflow(ctx context.Context, stateMachineID string, graph *workflow.Graph) error {
	c, err := constraint()
	if err != nil {
		return err
	}
	layout, err := graph.Layout()
	if err != nil {
		return err
	}

	rates, err := prices.Resolve(ctx, stateMachineID)
	if err != nil {
		return err
	}
	repo, _, closeRepo, err := openRepository()
	if err != nil {
		return err
	}
	defer closeRepo()

	resources := graph.ComputeResources()
	loaded, err := repository.LoadModels(ctx, repo, resources, rates, log.Logger)
	if err != nil {
		return err
	}
	byBase := loaded.ByID()
	models := make(map[string]*perfmodel.Model, len(resources))
	for _, id := range resources {
		if m, ok := byBase[repository.BaseIdentity(id)]; ok {
			models[id] = m
		}
	}

	plan, err := optimizer.BuildPlan(layout, models)
	if err != nil {
		return err
	}
	result, err := optimizer.New(cfg.OptimizerConfig(), nil, log.Logger).Optimize(ctx, stateMachineID, plan, c)
	if err != nil {
		return err
	}

	format, err := reporter.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}
	return reporter.New(format).WriteWorkflow(os.Stdout, result)
}

func runWorkflowTune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stateMachineID := args[0]

	graph, err := loadGraph(ctx, stateMachineID)
	if err != nil {
		return err
	}
	payload, err := readPayload()
	if err != nil {
		return err
	}

	repo, history, closeRepo, err := openRepository()
	if err != nil {
		return err
	}
	tuner, err := newTuner(repo, history, cfg.BalancedWeight)
	if err != nil {
		closeRepo()
		return err
	}

	client := function.NewAWSClient(awsSess)
	for _, id := range graph.ComputeResources() {
		rates, err := prices.Resolve(ctx, id)
		if err != nil {
			closeRepo()
			return err
		}
		if _, err := tuner.Configure(ctx, function.New(id, client, rates, log.Logger), payload); err != nil {
			closeRepo()
			return fmt.Errorf("failed to tune %s: %w", id, err)
		}
	}
	closeRepo()

	return optimizeWorkflow(ctx, stateMachineID, graph)
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stateMachineID := args[0]

	var input []byte
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		input = data
	}

	rates, err := prices.Resolve(ctx, stateMachineID)
	if err != nil {
		return err
	}

	runner := workflow.NewRunner(
		workflow.RunnerConfig{Runs: cfg.WorkflowRuns, PollInterval: cfg.PollInterval},
		workflow.NewAWSClient(awsSess),
		function.NewAWSClient(awsSess),
		function.NewCloudWatchReports(awsSess),
		rates,
		sink,
		log.Logger,
	)
	result, err := runner.Run(ctx, stateMachineID, runSizes, input)
	if err != nil {
		return err
	}

	if err := reporter.WriteRunsCSV(os.Stdout, result.Runs); err != nil {
		return err
	}
	fmt.Printf("\nAverage over %d runs: %.2f ms, $%.10f\n", len(result.Runs), result.Average.Duration, result.Average.Cost)
	return nil
}
