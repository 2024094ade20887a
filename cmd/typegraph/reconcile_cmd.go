package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/typegraph/typegraph/internal/commitlog"
	"github.com/typegraph/typegraph/internal/reconcile"
)

var reconcileKeyspace string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Drain the commit-log sink and merge duplicate castings/resources",
	Long: `Drain every commit-log payload buffered for a keyspace (only
meaningful against the in-memory sink; a non-"IN_MEMORY" engine.url's
HTTP sink has no in-process queue to drain) and run the post-processing
reconciler (C8) over it.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileKeyspace, "keyspace", "default", "keyspace to reconcile")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	engine, _, err := loadEngine(cmd.Context(), reconcileKeyspace)
	if err != nil {
		return err
	}

	memSink, ok := engine.Sink().(*commitlog.MemorySink)
	if !ok {
		return fmt.Errorf("reconcile: engine.url is not IN_MEMORY, nothing to drain in-process")
	}

	payloads := memSink.Drain(reconcileKeyspace)
	if len(payloads) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to reconcile")
		return nil
	}

	r := reconcile.New(engine.Store())
	merged, failed := 0, 0
	for _, p := range payloads {
		errs := r.Process(cmd.Context(), p)
		merged += len(p.Castings) + len(p.Resources) - len(errs)
		failed += len(errs)
		for _, err := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "reconcile: %v\n", err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d payload(s), %d failure(s)\n", len(payloads), failed)
	return nil
}
