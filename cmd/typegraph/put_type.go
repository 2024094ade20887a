package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/typegraph/typegraph/internal/kinds"
	"github.com/typegraph/typegraph/internal/ontology"
)

var (
	putTypeKeyspace string
	putTypeKind     string
	putTypeDatatype string
)

var putTypeCmd = &cobra.Command{
	Use:   "put-type <label>",
	Short: "Idempotently declare a type",
	Args:  cobra.ExactArgs(1),
	RunE:  runPutType,
}

func init() {
	putTypeCmd.Flags().StringVar(&putTypeKeyspace, "keyspace", "default", "keyspace to operate on")
	putTypeCmd.Flags().StringVar(&putTypeKind, "kind", "", "entity|relation|resource|role|rule")
	putTypeCmd.Flags().StringVar(&putTypeDatatype, "datatype", "", "string|long|double|boolean|date (resource types only)")
	rootCmd.AddCommand(putTypeCmd)
}

func parseKind(s string) (kinds.BaseKind, error) {
	switch s {
	case "entity":
		return kinds.KindEntityType, nil
	case "relation":
		return kinds.KindRelationType, nil
	case "resource":
		return kinds.KindResourceType, nil
	case "role":
		return kinds.KindRoleType, nil
	case "rule":
		return kinds.KindRuleType, nil
	default:
		return "", fmt.Errorf("unknown --kind %q", s)
	}
}

func runPutType(cmd *cobra.Command, args []string) error {
	kind, err := parseKind(putTypeKind)
	if err != nil {
		return err
	}

	engine, _, err := loadEngine(cmd.Context(), putTypeKeyspace)
	if err != nil {
		return err
	}

	tx, err := engine.Open(cmd.Context(), txKindFromFlag(), ontology.Interactive)
	if err != nil {
		return err
	}
	defer tx.Close(cmd.Context())

	typ, err := tx.PutType(cmd.Context(), args[0], kind, kinds.Datatype(putTypeDatatype))
	if err != nil {
		return fmt.Errorf("put-type: %w", err)
	}
	if _, err := tx.Commit(cmd.Context()); err != nil {
		return fmt.Errorf("put-type: commit: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "type %q (id=%d, kind=%s)\n", typ.Label, typ.TypeID, typ.Kind)
	return nil
}
