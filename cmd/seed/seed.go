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
	"school-copilot/internal/seed"

	"github.com/spf13/cobra"
)

func main() {
	var file string

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create users, classes and student access from a YAML fixture",
		Long:         "Create the users, classes and student access rows of a YAML fixture that do not exist yet, and print access tokens for users marked issue_token.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fixture, err := seed.Load(file)
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.InitLogger(cfg)

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := seed.Apply(cmd.Context(), a.Store, a.Isolation, a.Tokens, fixture)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "Path to the seed fixture")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
