package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"school-copilot/internal/app"
	"school-copilot/internal/config"
	"school-copilot/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	var a *app.App

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Maintenance commands for class indexes and stored data",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.InitLogger(cfg)
			a, err = app.New(cmd.Context(), cfg)
			return err
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "rebuild [class-id...]",
			Short: "Rebuild class indexes from the assignment table (all classes by default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return rebuild(cmd.Context(), a, args)
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete orphaned chunks and invalid assignments",
			RunE: func(cmd *cobra.Command, _ []string) error {
				result, err := a.Isolation.CleanupOrphanedData(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(result)
			},
		},
		&cobra.Command{
			Use:   "audit",
			Short: "Run cleanup and audit the isolation of every class",
			RunE: func(cmd *cobra.Command, _ []string) error {
				report, err := a.Maintenance.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(report); err != nil {
					return err
				}
				if len(report.Warnings) > 0 {
					return fmt.Errorf("%d classes need review: %v", len(report.Warnings), report.Warnings)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "reindex <document-id>",
			Short: "Re-extract and re-embed one document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.Indexer.ReindexDocumentByID(cmd.Context(), args[0])
			},
		},
	)

	err := root.ExecuteContext(context.Background())
	if a != nil {
		a.Close()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func rebuild(ctx context.Context, a *app.App, classIDs []string) error {
	if len(classIDs) == 0 {
		classes, err := a.Store.ListClasses(ctx)
		if err != nil {
			return err
		}
		for _, c := range classes {
			classIDs = append(classIDs, c.ID)
		}
	}

	failed := 0
	for _, id := range classIDs {
		if err := a.Isolation.RebuildClassIndex(ctx, id); err != nil {
			logger.Error("Rebuild failed", "class_id", id, "error", err)
			failed++
			continue
		}
		stats := a.Registry.GetIndexStats(id)
		fmt.Printf("%s: %d vectors\n", id, stats.TotalVectors)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d classes failed to rebuild", failed, len(classIDs))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
