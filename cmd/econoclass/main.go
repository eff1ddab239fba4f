// econoclass classifies economic indicators through a staged LLM
// pipeline: Router, Specialist, Validation, Orientation, Flagging,
// Review. Every stage checkpoints to storage, so runs are idempotent
// per execution and safe to cancel.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"econoclass/internal/config"
	"econoclass/internal/gateway"
	"econoclass/internal/logging"
	"econoclass/internal/pipeline"
	"econoclass/internal/store"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// Exit codes.
const (
	exitOK         = 0
	exitValidation = 1
	exitTransient  = 2
	exitStorage    = 3
)

var (
	flagConfig      string
	flagExecutionID string
	flagLimit       int
	flagSeed        string
	flagDryRun      bool
	flagFlagOnly    bool
)

var log *zap.SugaredLogger

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(exitValidation)
	}
	defer logger.Sync()
	log = logger.Sugar()

	root := &cobra.Command{
		Use:           "econoclass",
		Short:         "Economic indicator classification pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run-pipeline",
		Short: "Run the full classification pipeline",
		RunE:  runPipeline,
	}
	runCmd.Flags().StringVar(&flagExecutionID, "execution-id", "", "execution id (default: fresh UUID)")
	runCmd.Flags().IntVar(&flagLimit, "limit", 0, "classify at most N indicators (0 = all)")
	runCmd.Flags().StringVar(&flagSeed, "seed", "", "load indicators from a YAML/JSON file before running")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "skip LLM calls, use the deterministic mock provider")

	reviewCmd := &cobra.Command{
		Use:   "review-all",
		Short: "Re-flag and re-review an existing execution",
		RunE:  runReviewAll,
	}
	reviewCmd.Flags().StringVar(&flagExecutionID, "execution-id", "", "execution id to re-review")
	reviewCmd.Flags().BoolVar(&flagFlagOnly, "flag-only", false, "record every decision as escalate (audit mode)")

	initCmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create or migrate the database schema",
		RunE:  runInitDB,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print per-table row counts",
		RunE:  runStats,
	}

	root.AddCommand(runCmd, reviewCmd, initCmd, statsCmd)

	if err := root.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy onto exit codes.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, store.ErrConflict):
		return exitStorage
	case errors.Is(err, gateway.ErrTransient), errors.Is(err, gateway.ErrInvalidResponse):
		return exitTransient
	default:
		return exitValidation
	}
}

// setup loads config, opens storage and the taxonomy, and initializes
// file logging. Shared by every subcommand.
func setup() (*config.Config, store.Store, *taxonomy.Taxonomy, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	if flagDryRun {
		cfg.DryRun = true
	}

	if err := logging.Initialize(cfg.Workspace, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	tax, err := taxonomy.LoadFile(cfg.TaxonomyPath)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return cfg, st, tax, nil
}

// buildGateways constructs the main and review gateways from config.
// Dry runs use the mock provider and need no API key.
func buildGateways(ctx context.Context, cfg *config.Config) (*gateway.Gateway, *gateway.Gateway, error) {
	if cfg.DryRun {
		gw := gateway.New(gateway.NewMockClient(), cfg.Retry.MaxRetries, cfg.RetryDelay())
		return gw, gw, nil
	}

	client, err := gateway.NewClient(ctx, gateway.ClientOptions{
		Model:   cfg.Models.Specialist,
		Timeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	gw := gateway.New(client, cfg.Retry.MaxRetries, cfg.RetryDelay())

	reviewGW := gw
	if cfg.Models.ReviewProvider != "" || cfg.Models.Review != cfg.Models.Specialist {
		reviewClient, err := gateway.NewClient(ctx, gateway.ClientOptions{
			Provider: gateway.Provider(cfg.Models.ReviewProvider),
			Model:    cfg.Models.Review,
			Timeout:  cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		reviewGW = gateway.New(reviewClient, cfg.Retry.MaxRetries, cfg.RetryDelay())
	}
	return gw, reviewGW, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, st, tax, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()
	defer logging.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagSeed != "" {
		n, err := loadSeed(ctx, st, flagSeed)
		if err != nil {
			return err
		}
		log.Infof("Seeded %d indicators from %s", n, flagSeed)
	}

	gw, reviewGW, err := buildGateways(ctx, cfg)
	if err != nil {
		return err
	}

	driver := &pipeline.Driver{Cfg: cfg, Store: st, Tax: tax, GW: gw, ReviewGW: reviewGW}
	started := time.Now()
	result, err := driver.Run(ctx, flagExecutionID, flagLimit)
	if err != nil {
		return err
	}

	printSummary(result, time.Since(started))
	if result.Cancelled {
		log.Warn("Run cancelled; committed rows kept, reporting partial progress")
	}
	return nil
}

func runReviewAll(cmd *cobra.Command, args []string) error {
	cfg, st, tax, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()
	defer logging.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, reviewGW, err := buildGateways(ctx, cfg)
	if err != nil {
		return err
	}

	driver := &pipeline.Driver{Cfg: cfg, Store: st, Tax: tax, GW: gw, ReviewGW: reviewGW}
	started := time.Now()
	result, err := driver.ReviewAll(ctx, flagExecutionID, flagFlagOnly)
	if err != nil {
		return err
	}
	printSummary(result, time.Since(started))
	return nil
}

func runInitDB(cmd *cobra.Command, args []string) error {
	_, st, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("Database schema initialized")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	_, st, _, err := setup()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}
	tables := make([]string, 0, len(stats))
	for table := range stats {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Printf("%-28s %d\n", table, stats[table])
	}
	return nil
}

// loadSeed reads indicators from a YAML or JSON file and upserts them.
func loadSeed(ctx context.Context, st store.Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var indicators []types.Indicator
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &indicators)
	} else {
		err = yaml.Unmarshal(data, &indicators)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if len(indicators) == 0 {
		return 0, fmt.Errorf("seed file %s contains no indicators", path)
	}

	if err := st.UpsertIndicators(ctx, indicators); err != nil {
		return 0, err
	}
	return len(indicators), nil
}

// printSummary renders the stage-by-stage table the user sees after
// every run.
func printSummary(result *pipeline.Result, elapsed time.Duration) {
	exec := result.Execution
	fmt.Printf("\nExecution %s\n", exec.ExecutionID)
	fmt.Printf("%-12s %9s %9s %9s %9s %9s %7s %9s %9s\n",
		"stage", "processed", "ok", "failed", "flagged", "reviewed", "fixed", "escalated", "ms")
	for _, stage := range pipeline.StageOrder {
		counts, ok := exec.StageCounts[stage]
		if !ok {
			continue
		}
		fmt.Printf("%-12s %9d %9d %9d %9d %9d %7d %9d %9d\n",
			stage, counts.Processed, counts.Successful, counts.Failed,
			counts.Flagged, counts.Reviewed, counts.Fixed, counts.Escalated, counts.ElapsedMs)
	}
	fmt.Printf("\nclassifications: %d merged, %d excluded\n", result.Merged, result.Excluded)
	fmt.Printf("api calls: %d, tokens: %d in / %d out, estimated cost: $%.4f, wall time: %s\n",
		exec.APICalls, exec.TokensIn, exec.TokensOut, exec.CostEstimate, elapsed.Round(time.Millisecond))
}
