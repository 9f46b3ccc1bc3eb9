package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/experiment-runner/internal/config"
	"yqhp/experiment-runner/internal/dispatch"
	"yqhp/experiment-runner/internal/parser"
	"yqhp/experiment-runner/internal/registry"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/logger"
)

var (
	runMode           string
	runThreads        int
	runPoolWorkers    int
	runThreadsPerNode int
	runStoreDriver    string
	runStoreDSN       string
)

var runCmd = &cobra.Command{
	Use:   "run <experiment.yaml>",
	Short: "Execute an experiment in this process",
	Long: `Execute an experiment definition on one of the local backends.

Available modes:
  - serial: one trial at a time
  - multithreaded: a fixed pool of goroutines
  - distributed: a pool of members behind the assignment protocol
  - heterogeneous: a distributed pool with several threads per member`,
	Example: `  # Run serially
  experiment-runner run experiment.yaml

  # Run on 8 goroutines
  experiment-runner run --mode multithreaded --threads 8 experiment.yaml

  # Run on a pool of 4 members with 2 threads each
  experiment-runner run --mode heterogeneous --pool-workers 4 --threads-per-node 2 experiment.yaml

  # Persist results in MySQL
  experiment-runner run --store mysql --dsn "user:pass@tcp(localhost:3306)/experiments" experiment.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runExperiment,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "execution mode (serial, multithreaded, distributed, heterogeneous)")
	runCmd.Flags().IntVarP(&runThreads, "threads", "t", 0, "goroutine count for multithreaded mode (0 = one per CPU)")
	runCmd.Flags().IntVarP(&runPoolWorkers, "pool-workers", "w", 0, "member count for the pool modes")
	runCmd.Flags().IntVar(&runThreadsPerNode, "threads-per-node", 0, "per-member thread count for heterogeneous mode")
	runCmd.Flags().StringVar(&runStoreDriver, "store", "", "results store driver (memory, mysql)")
	runCmd.Flags().StringVar(&runStoreDSN, "dsn", "", "database connection string for the mysql driver")
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).Load()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("mode") {
		cfg.Mode.Name = runMode
	}
	if cmd.Flags().Changed("threads") {
		cfg.Mode.Threads = runThreads
	}
	if cmd.Flags().Changed("pool-workers") {
		cfg.Mode.PoolWorkers = runPoolWorkers
	}
	if cmd.Flags().Changed("threads-per-node") {
		cfg.Mode.ThreadsPerNode = runThreadsPerNode
	}
	applyStoreFlags(cmd, cfg)

	if cfg.Mode.Name == "cluster" {
		return fmt.Errorf("cluster runs use the coordinator and worker commands")
	}

	return executeExperiment(cfg, args[0])
}

// applyStoreFlags folds the shared store flags into the configuration.
func applyStoreFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = runStoreDriver
	}
	if cmd.Flags().Changed("dsn") {
		cfg.Store.DSN = runStoreDSN
	}
}

// executeExperiment is the shared tail of every command: validate, open the
// store if this process needs one, dispatch, report.
func executeExperiment(cfg *config.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !debug && !quiet && cfg.Logging.Level != "" {
		logger.SetLevelFromString(cfg.Logging.Level)
	}

	exp, err := parser.ParseExperimentFile(path)
	if err != nil {
		return err
	}

	mode, err := cfg.Mode.BuildMode()
	if err != nil {
		return err
	}

	// Cluster workers hold no store of their own; everything else does.
	var st store.Store
	if cfg.Mode.Name != "cluster" || cfg.Cluster.Rank == 0 {
		st, err = openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	d, err := dispatch.New(&dispatch.Config{
		Store:    st,
		Registry: registry.Default,
		Cluster: &dispatch.ClusterEnv{
			Rank:           cfg.Cluster.Rank,
			NumProcs:       cfg.Cluster.NumProcs,
			ListenAddress:  cfg.Cluster.ListenAddress,
			CoordinatorURL: cfg.Cluster.CoordinatorURL,
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := d.RunExperiment(ctx, exp, mode)
	if err != nil {
		return err
	}

	fmt.Printf("experiment %s: %s\n", exp.Name, summary)
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "mysql":
		return store.OpenSQL(cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
