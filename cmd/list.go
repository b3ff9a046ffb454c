package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulseframe/taskeval/internal/config"
	"github.com/pulseframe/taskeval/internal/promptstore"
	"github.com/pulseframe/taskeval/internal/schemastore"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available prompts and response schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			prompts, err := promptstore.New(cfg.Prompts.Dir)
			if err != nil {
				return fmt.Errorf("failed to load prompts: %w", err)
			}

			schemas, err := schemastore.New(cfg.Schemas.Dir, cfg.Schemas.Inline)
			if err != nil {
				return fmt.Errorf("failed to load schemas: %w", err)
			}

			domains := prompts.Domains()
			if len(domains) == 0 {
				fmt.Println("No prompt domains found.")
			} else {
				fmt.Printf("Prompt domains:\n\n")
				for _, domain := range domains {
					names, err := prompts.Prompts(domain)
					if err != nil {
						continue
					}
					fmt.Printf("  - %s\n", domain)
					for _, name := range names {
						fmt.Printf("      %s\n", name)
					}
				}
			}

			keys := schemas.Keys()
			if len(keys) == 0 {
				fmt.Println("\nNo response schemas found.")
			} else {
				fmt.Printf("\nResponse schemas:\n\n")
				for _, key := range keys {
					fmt.Printf("  - %s\n", key)
				}
			}

			return nil
		},
	}

	return cmd
}
