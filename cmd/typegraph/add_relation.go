package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/typegraph/typegraph/internal/ontology"
	"github.com/typegraph/typegraph/internal/substrate"
)

var (
	addRelationKeyspace string
	addRelationRoles    []string
)

var addRelationCmd = &cobra.Command{
	Use:   "add-relation <type-label>",
	Short: "Create or retrieve a relation",
	Long: `Create or retrieve a relation of the given type. Each --role
flag is "role-label=concept-id[,concept-id...]"; repeat --role once per
role played. Relations are deduplicated by (type, role-map): calling this
twice with the same arguments returns the same relation both times.`,
	Args: cobra.ExactArgs(1),
	RunE: runAddRelation,
}

func init() {
	addRelationCmd.Flags().StringVar(&addRelationKeyspace, "keyspace", "default", "keyspace to operate on")
	addRelationCmd.Flags().StringArrayVar(&addRelationRoles, "role", nil, "role-label=concept-id[,concept-id...]")
	rootCmd.AddCommand(addRelationCmd)
}

func parseRoleMap(raw []string) (map[string][]substrate.VertexID, error) {
	roleMap := make(map[string][]substrate.VertexID, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --role %q, want role-label=concept-id[,concept-id...]", r)
		}
		var ids []substrate.VertexID
		for _, id := range strings.Split(parts[1], ",") {
			ids = append(ids, substrate.VertexID(id))
		}
		roleMap[parts[0]] = ids
	}
	return roleMap, nil
}

func runAddRelation(cmd *cobra.Command, args []string) error {
	roleMap, err := parseRoleMap(addRelationRoles)
	if err != nil {
		return err
	}

	engine, _, err := loadEngine(cmd.Context(), addRelationKeyspace)
	if err != nil {
		return err
	}

	tx, err := engine.Open(cmd.Context(), txKindFromFlag(), ontology.Interactive)
	if err != nil {
		return err
	}
	defer tx.Close(cmd.Context())

	rel, err := tx.AddRelation(cmd.Context(), args[0], roleMap)
	if err != nil {
		return fmt.Errorf("add-relation: %w", err)
	}
	payload, err := tx.Commit(cmd.Context())
	if err != nil {
		return fmt.Errorf("add-relation: commit: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "relation %s (type=%s)\n", rel.ID(), rel.DirectTypeLabel)
	if !payload.Empty() {
		fmt.Fprintf(cmd.OutOrStdout(), "commit log: %d casting candidate(s), %d resource candidate(s)\n", len(payload.Castings), len(payload.Resources))
	}
	return nil
}
