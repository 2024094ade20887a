// Package fingerprint computes the deterministic uniqueness keys used
// throughout the engine: H(role-id, player-id) for castings and
// H(type-id, sorted role-map) for relations (spec GLOSSARY, §4.5).
//
// The hashing approach — sha256 over a canonical string, truncated and
// base36-encoded via idgen.EncodeBase36 — is the teacher's own
// content-addressing scheme, generalized from "hash an issue's
// title+description+creator into a short id" to "hash a role-map".
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/typegraph/typegraph/internal/idgen"
)

// hash hashes a canonical string to a 16-character base36 digest — long
// enough that collisions across a keyspace's lifetime are not a practical
// concern, short enough to be a readable INDEX property value.
func hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return idgen.EncodeBase36(sum[:12], 16)
}

// Casting computes H(role-id, player-id): the uniqueness key for "instance
// I plays role R" (spec §4.5 casting protocol step 1, invariant 6).
func Casting(roleID, playerID string) string {
	return hash(fmt.Sprintf("casting|%s|%s", roleID, playerID))
}

// Relation computes H(type-id, sorted[(role-id, sorted[player-id])]): the
// uniqueness key for a relation's (type, role-map) pair (invariant 5,
// GLOSSARY "fingerprint"). roleMap maps a role key to the set of player
// ids filling that role; graphtx.AddRelation and the reconciler key it by
// role type label, not by numeric role type id. Both the role keys and
// each role's players are
// sorted before hashing so that construction order never affects the
// fingerprint.
func Relation(typeID int64, roleMap map[string][]string) string {
	roles := make([]string, 0, len(roleMap))
	for role := range roleMap {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var b strings.Builder
	b.WriteString(strconv.FormatInt(typeID, 10))
	for _, role := range roles {
		players := append([]string(nil), roleMap[role]...)
		sort.Strings(players)
		b.WriteByte('|')
		b.WriteString(role)
		b.WriteByte('=')
		b.WriteString(strings.Join(players, ","))
	}
	return hash(b.String())
}
