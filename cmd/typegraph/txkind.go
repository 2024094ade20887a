package main

import "github.com/typegraph/typegraph/internal/substrate"

// txKindFromFlag always opens a write transaction for mutating
// subcommands. A --read-only flag could map this to substrate.Read; no
// read-only subcommand exists yet, so it is a plain constant for now.
func txKindFromFlag() substrate.TxKind {
	return substrate.Write
}
