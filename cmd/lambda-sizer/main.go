package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opscart/lambda-sizer/pkg/config"
	"github.com/opscart/lambda-sizer/pkg/function"
	"github.com/opscart/lambda-sizer/pkg/metrics"
	"github.com/opscart/lambda-sizer/pkg/models"
	"github.com/opscart/lambda-sizer/pkg/perfmodel"
	"github.com/opscart/lambda-sizer/pkg/pricing"
	"github.com/opscart/lambda-sizer/pkg/reporter"
	"github.com/opscart/lambda-sizer/pkg/repository"
	"github.com/opscart/lambda-sizer/pkg/sampler"
	"github.com/opscart/lambda-sizer/pkg/sizer"
	"github.com/opscart/lambda-sizer/pkg/storage"
)

var (
	// Global flags
	configFile   string
	verbose      bool
	outputFormat string

	// Tune flags
	payloadFile string
	logsFile    string
	cleanup     bool
	weight      float64

	// History flags
	historyLimit int

	// Global config
	cfg     *config.Config
	sink    reporter.Sink
	meter   *metrics.Metrics
	awsSess *session.Session
	prices  *pricing.Resolver
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "lambda-sizer",
		Short:             "Serverless memory sizer",
		Long:              `Sample serverless functions at several memory sizes, fit a performance model and pick the memory configuration of functions and workflows.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (environment overrides it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: text, json, csv, html")

	tuneCmd := &cobra.Command{
		Use:   "tune <function>",
		Short: "Sample a function, fit its model and select a memory size",
		Args:  cobra.ExactArgs(1),
		RunE:  runTune,
	}
	tuneCmd.Flags().StringVar(&payloadFile, "payload", "", "File with the invocation payload")
	tuneCmd.Flags().StringVar(&logsFile, "logs", "", "Fit averaged logs from a CSV file instead of sampling")
	tuneCmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the sampling aliases afterwards")
	tuneCmd.Flags().Float64Var(&weight, "weight", -1, "0 = cheapest, 1 = fastest (default BALANCED_WEIGHT)")

	selectCmd := &cobra.Command{
		Use:   "select <function>",
		Short: "Select a memory size from a stored model",
		Args:  cobra.ExactArgs(1),
		RunE:  runSelect,
	}
	selectCmd.Flags().Float64Var(&weight, "weight", -1, "0 = cheapest, 1 = fastest (default BALANCED_WEIGHT)")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup <function>",
		Short: "Delete every alias and its version",
		Args:  cobra.ExactArgs(1),
		RunE:  runCleanup,
	}

	historyCmd := &cobra.Command{
		Use:   "history <function>",
		Short: "View past sampling runs (postgres repository only)",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show")

	rootCmd.AddCommand(tuneCmd, selectCmd, cleanupCmd, historyCmd, newWorkflowCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if meter != nil {
		if exportErr := meter.Export(context.Background(), cfg.MetricsTextfile, cfg.PushgatewayURL, "lambda-sizer"); exportErr != nil {
			log.Warn().Err(exportErr).Msg("Failed to export metrics")
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Verbose = true
	}
	if outputFormat != "" {
		cfg.OutputFormat = outputFormat
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	awsSess, err = session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(cfg.Region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}

	sink = reporter.NewFileSink(cfg.LogDir)
	if cfg.LogBucket != "" {
		sink = reporter.MultiSink{sink, reporter.NewS3Archive(awsSess, cfg.LogBucket, "")}
	}
	meter = metrics.New()
	prices = pricing.NewResolver(cfg.PricingConfig(), 24*time.Hour)
	return nil
}

// openRepository returns the configured model repository, the sampling
// history when the backend keeps one, and a close func.
func openRepository() (repository.Repository, storage.Store, func(), error) {
	switch cfg.ModelRepository {
	case config.RepositoryPostgres:
		store, err := storage.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, store, func() { store.Close() }, nil
	case config.RepositoryRedis:
		repo, err := repository.NewRedisRepositoryFromURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return repo, nil, func() { repo.Close() }, nil
	default:
		return repository.NewFileRepository(cfg.ModelRepositoryPath), nil, func() {}, nil
	}
}

func resolveWeight() float64 {
	if weight < 0 {
		return cfg.BalancedWeight
	}
	return weight
}

func candidates() ([]int, error) {
	return sizer.Grid(cfg.MinMemoryMB, cfg.MaxMemoryMB, cfg.MemoryStepMB)
}

func readPayload() ([]byte, error) {
	if payloadFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(payloadFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

func newTuner(repo repository.Repository, history storage.Store, w float64) (*sizer.Tuner, error) {
	grid, err := candidates()
	if err != nil {
		return nil, err
	}
	var h sizer.History
	if history != nil {
		h = history
	}
	s := sampler.New(cfg.SamplerConfig(), sink, meter, log.Logger)
	return sizer.NewTuner(sizer.TunerConfig{
		MemorySizes: cfg.MemorySizes,
		Candidates:  grid,
		Weight:      w,
		Cleanup:     cleanup,
		Fit:         perfmodel.DefaultFitOptions(),
	}, s, repo, h, meter, log.Logger), nil
}

func runTune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	functionID := args[0]

	rates, err := prices.Resolve(ctx, functionID)
	if err != nil {
		return err
	}

	repo, history, closeRepo, err := openRepository()
	if err != nil {
		return err
	}
	defer closeRepo()

	w := resolveWeight()
	tuner, err := newTuner(repo, history, w)
	if err != nil {
		return err
	}

	var report *sizer.Report
	if logsFile != "" {
		averages, err := readLogs(logsFile, rates)
		if err != nil {
			return err
		}
		report, err = tuner.ConfigureFromLogs(ctx, functionID, rates, averages)
		if err != nil {
			return err
		}
	} else {
		payload, err := readPayload()
		if err != nil {
			return err
		}
		f := function.New(functionID, function.NewAWSClient(awsSess), rates, log.Logger)
		report, err = tuner.Configure(ctx, f, payload)
		if err != nil {
			return err
		}
	}

	return render(os.Stdout, report, w)
}

func readLogs(path string, rates pricing.Rates) ([]models.ExecutionLog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open logs: %w", err)
	}
	defer file.Close()
	return reporter.ReadLogsCSV(file, rates)
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	functionID := args[0]

	rates, err := prices.Resolve(ctx, functionID)
	if err != nil {
		return err
	}
	repo, _, closeRepo, err := openRepository()
	if err != nil {
		return err
	}
	defer closeRepo()

	params, found, err := repo.Load(ctx, repository.BaseIdentity(functionID))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no model stored for %s, run tune first", functionID)
	}

	grid, err := candidates()
	if err != nil {
		return err
	}
	w := resolveWeight()
	result, predictions, err := sizer.SelectSize(perfmodel.New(*params, rates), grid, w)
	if err != nil {
		return err
	}
	return render(os.Stdout, &sizer.Report{
		FunctionID:  functionID,
		Result:      result,
		Params:      *params,
		Predictions: predictions,
	}, w)
}

func render(w io.Writer, tuned *sizer.Report, weight float64) error {
	format, err := reporter.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}
	r := reporter.New(format)
	return r.Write(w, r.Generate(tuned, weight))
}

func runCleanup(cmd *cobra.Command, args []string) error {
	f := function.New(args[0], function.NewAWSClient(awsSess), pricing.DefaultRates(), log.Logger)
	if err := f.DeleteAllAliases(cmd.Context()); err != nil {
		return err
	}
	log.Info().Str("function", args[0]).Msg("Aliases deleted")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.ModelRepository != config.RepositoryPostgres {
		return fmt.Errorf("history needs MODEL_REPOSITORY=postgres")
	}
	_, store, closeRepo, err := openRepository()
	if err != nil {
		return err
	}
	defer closeRepo()

	runs, err := store.ListRuns(cmd.Context(), repository.BaseIdentity(args[0]), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No sampling runs found for %s\n", args[0])
		return nil
	}

	format, err := reporter.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return err
	}
	return reporter.New(format).WriteHistory(os.Stdout, runs)
}
