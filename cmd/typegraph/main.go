// Command typegraph is a thin operator CLI over the graph transaction
// engine: bootstrap a keyspace, declare a type, add a relation, drain the
// in-memory commit-log sink. It is a fraction of the teacher's cmd/bd
// surface (one file per subcommand, package-level *cobra.Command vars
// wired together in init), scoped to what this engine actually exposes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "typegraph",
	Short: "Transactional semantic graph engine CLI",
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (.toml, .yaml, or unset for env-only)")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
