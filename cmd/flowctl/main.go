package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"flow-manager/internal/config"
	"flow-manager/internal/engine"
	"flow-manager/internal/logging"
	"flow-manager/internal/repository"
	"flow-manager/internal/tasks"
	"flow-manager/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var inputJSON string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Flow Manager command line tools",
	Long: `flowctl bundles the operational helpers for the flow manager service:
seeding sample flows, validating flow definition files, listing the
registered tasks and running a flow directly against the database.`,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := logging.NewLogger("info")

		store, pool, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		for _, flow := range sampleFlows() {
			if _, err := store.GetFlow(ctx, flow.ID); err == nil {
				logger.Info("Skipping existing flow", "id", flow.ID)
				continue
			} else if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to check flow %s: %w", flow.ID, err)
			}

			if err := store.CreateFlow(ctx, flow); err != nil {
				log.Printf("Failed to create flow %s: %v", flow.ID, err)
			} else {
				logger.Info("Seeded flow", "id", flow.ID, "name", flow.Name)
			}
		}
		logger.Info("Seeding complete!")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <flow.json>",
	Short: "Validate a flow definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		var flow models.Flow
		if err := json.Unmarshal(raw, &flow); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}
		if err := flow.Validate(); err != nil {
			return fmt.Errorf("flow is invalid: %w", err)
		}

		registry := tasks.NewRegistry()
		if err := tasks.RegisterBuiltins(registry, nil); err != nil {
			return err
		}
		for _, name := range flow.TaskNames() {
			if !registry.Has(name) {
				fmt.Printf("warning: task %q is not a builtin task\n", name)
			}
		}

		fmt.Printf("Flow %q is valid (%d tasks, %d conditions)\n",
			flow.ID, len(flow.Tasks), len(flow.Conditions))
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the registered builtin tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := tasks.NewRegistry()
		if err := tasks.RegisterBuiltins(registry, nil); err != nil {
			return err
		}
		for _, info := range registry.List() {
			fmt.Printf("%-20s %s\n", info.Name, info.Description)
		}
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <flow-id>",
	Short: "Execute a flow and print the resulting execution record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := logging.NewLogger("warn")

		var input map[string]any
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return fmt.Errorf("failed to parse --input: %w", err)
		}

		store, pool, cfg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		registry := tasks.NewRegistry()
		var notifier tasks.Notifier
		if cfg.Notifier.URL != "" {
			notifier = tasks.NewHTTPNotifier(cfg.Notifier.URL)
		}
		if err := tasks.RegisterBuiltins(registry, notifier); err != nil {
			return err
		}

		eng, err := engine.New(store, registry, logger, cfg.Engine.MaxTaskExecutions)
		if err != nil {
			return err
		}

		exec, err := eng.Execute(ctx, args[0], input)
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
		exec.TaskExecutions, err = store.ListTaskExecutions(ctx, exec.ID)
		if err != nil {
			return fmt.Errorf("failed to load task records: %w", err)
		}

		out, err := json.MarshalIndent(exec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	executeCmd.Flags().StringVarP(&inputJSON, "input", "i", "{}", "Initial flow context as a JSON object")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(executeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore connects to the configured database and ensures the schema
// exists. The caller owns the returned pool.
func openStore(ctx context.Context) (*repository.PostgresStore, *pgxpool.Pool, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := repository.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return store, pool, cfg, nil
}

// sampleFlows returns the demo flows installed by the seed command. Both
// only reference builtin tasks, so a freshly seeded database is
// immediately executable.
func sampleFlows() []*models.Flow {
	return []*models.Flow{
		{
			ID:          "flow123",
			Name:        "Data Pipeline",
			Description: "Fetches, processes and stores a batch of records",
			StartTask:   "task1",
			Tasks: []models.TaskDef{
				{Name: "task1", Description: "Fetch data from source"},
				{Name: "task2", Description: "Process and transform data"},
				{Name: "task3", Description: "Store processed data"},
			},
			Conditions: []models.Condition{
				{
					Name:              "fetch_ok",
					Description:       "Continue to processing when the fetch succeeds",
					SourceTask:        "task1",
					Outcome:           models.OutcomeSuccess,
					TargetTaskSuccess: "task2",
					TargetTaskFailure: models.EndTarget,
				},
				{
					Name:              "process_ok",
					Description:       "Store the batch when processing succeeds",
					SourceTask:        "task2",
					Outcome:           models.OutcomeSuccess,
					TargetTaskSuccess: "task3",
					TargetTaskFailure: models.EndTarget,
				},
			},
			IsActive: true,
			Version:  1,
		},
		{
			ID:          "flow-validated-notify",
			Name:        "Validate and Notify",
			Description: "Validates the input context and reports the result",
			StartTask:   "validate_data",
			Tasks: []models.TaskDef{
				{Name: "validate_data", Description: "Validate input data"},
				{Name: "send_notification", Description: "Send completion notification"},
			},
			Conditions: []models.Condition{
				{
					Name:              "validation_done",
					Description:       "Notify on success, stop quietly on failure",
					SourceTask:        "validate_data",
					Outcome:           models.OutcomeAny,
					TargetTaskSuccess: "send_notification",
					TargetTaskFailure: models.EndTarget,
				},
			},
			IsActive: true,
			Version:  1,
		},
	}
}
