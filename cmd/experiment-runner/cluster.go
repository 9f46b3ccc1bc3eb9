package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/experiment-runner/internal/config"
)

var (
	coordListen    string
	coordNumProcs  int
	coordBatchSize int
	coordStore     string
	coordDSN       string

	workerRank      int
	workerNumProcs  int
	workerURL       string
	workerBatchSize int
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator <experiment.yaml>",
	Short: "Serve a cluster run as rank 0",
	Long: `Start the coordinator for a cluster run. The coordinator registers the
experiment, owns the results store, and hands trial batches to workers until
every trial is assigned and every worker has been told to stop.`,
	Example: `  # Serve 4 workers, batches of 5 trials
  experiment-runner coordinator --num-procs 5 --batch-size 5 experiment.yaml

  # Persist results in MySQL
  experiment-runner coordinator --num-procs 5 --store mysql --dsn "user:pass@tcp(db:3306)/experiments" experiment.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCoordinator,
}

var workerCmd = &cobra.Command{
	Use:   "worker <experiment.yaml>",
	Short: "Join a cluster run as a worker",
	Long: `Start a worker for a cluster run. The worker pulls trial batches from the
coordinator, executes them, and reports each result back before requesting
the next batch.`,
	Example: `  experiment-runner worker --rank 1 --num-procs 5 --coordinator-url http://coordinator:8080 experiment.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(workerCmd)

	coordinatorCmd.Flags().StringVar(&coordListen, "listen", "", "listen address for worker connections")
	coordinatorCmd.Flags().IntVar(&coordNumProcs, "num-procs", 0, "total process count, coordinator included")
	coordinatorCmd.Flags().IntVar(&coordBatchSize, "batch-size", 0, "maximum trials per assignment")
	coordinatorCmd.Flags().StringVar(&coordStore, "store", "", "results store driver (memory, mysql)")
	coordinatorCmd.Flags().StringVar(&coordDSN, "dsn", "", "database connection string for the mysql driver")

	workerCmd.Flags().IntVar(&workerRank, "rank", 0, "this worker's rank (1 or higher)")
	workerCmd.Flags().IntVar(&workerNumProcs, "num-procs", 0, "total process count, coordinator included")
	workerCmd.Flags().StringVar(&workerURL, "coordinator-url", "", "coordinator base URL")
	workerCmd.Flags().IntVar(&workerBatchSize, "batch-size", 0, "maximum trials per request")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).Load()
	if err != nil {
		return err
	}

	cfg.Mode.Name = "cluster"
	cfg.Cluster.Rank = 0
	if cmd.Flags().Changed("listen") {
		cfg.Cluster.ListenAddress = coordListen
	}
	if cmd.Flags().Changed("num-procs") {
		cfg.Cluster.NumProcs = coordNumProcs
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Mode.BatchSize = coordBatchSize
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = coordStore
	}
	if cmd.Flags().Changed("dsn") {
		cfg.Store.DSN = coordDSN
	}

	return executeExperiment(cfg, args[0])
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().WithConfigPath(cfgFile).Load()
	if err != nil {
		return err
	}

	cfg.Mode.Name = "cluster"
	if cmd.Flags().Changed("rank") {
		cfg.Cluster.Rank = workerRank
	}
	if cmd.Flags().Changed("num-procs") {
		cfg.Cluster.NumProcs = workerNumProcs
	}
	if cmd.Flags().Changed("coordinator-url") {
		cfg.Cluster.CoordinatorURL = workerURL
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Mode.BatchSize = workerBatchSize
	}
	if cfg.Cluster.Rank < 1 {
		return fmt.Errorf("worker requires --rank of 1 or higher")
	}

	return executeExperiment(cfg, args[0])
}
