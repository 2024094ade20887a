package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var bootstrapKeyspace string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the seven meta-types into a fresh keyspace",
	Long: `Seed the seven bootstrap meta-types (entity-type, relation-type,
resource-type, role-type, rule-type, inference-rule, constraint-rule) plus
their implicit "concept" root into a keyspace. Safe to run against an
already-bootstrapped keyspace: it is a no-op in that case.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapKeyspace, "keyspace", "default", "keyspace to bootstrap")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	engine, _, err := loadEngine(cmd.Context(), bootstrapKeyspace)
	if err != nil {
		return err
	}
	if err := engine.Bootstrap(cmd.Context()); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "keyspace %q bootstrapped\n", bootstrapKeyspace)
	return nil
}
