package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/dastyar/internal/capability"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/openapi"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the entity definitions and the role policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		defs, err := loadDefinitions(cfg)
		if err != nil {
			return err
		}
		if _, err := openapi.Build(defs, version); err != nil {
			return fmt.Errorf("openapi: %w", err)
		}
		evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
		if err != nil {
			return fmt.Errorf("static policy: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, def := range defs {
			fmt.Fprintf(out, "%-12s %s\n", def.Entity, def.DisplayName)
		}
		fmt.Fprintf(out, "%d definitions, %d roles, checksum %s\n",
			len(defs), len(evaluator.Roles()), definition.NewRegistry(defs).Checksum())
		return nil
	},
}
