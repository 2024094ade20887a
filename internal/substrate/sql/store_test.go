package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegraph/typegraph/internal/substrate"
)

// Open requires a live MySQL or Dolt server and is exercised by the
// integration suite, not here. What is testable without a connection is
// that an unregistered dialect name fails fast through database/sql's own
// driver registry, and the session's read-only bookkeeping, which never
// touches the underlying *sql.Tx.

func TestOpenUnknownDialectErrors(t *testing.T) {
	_, err := Open(context.Background(), Dialect("not-a-real-driver"), "irrelevant")
	require.Error(t, err)
}

func TestSessionReadOnlyReflectsKind(t *testing.T) {
	assert.True(t, (&session{kind: substrate.Read}).ReadOnly())
	assert.False(t, (&session{kind: substrate.Write}).ReadOnly())
}

func TestSessionRequireWritableRejectsReadOnlyAndDone(t *testing.T) {
	ro := &session{kind: substrate.Read}
	assert.ErrorIs(t, ro.requireWritable(), substrate.ErrReadOnly)

	done := &session{kind: substrate.Write, done: true}
	assert.ErrorIs(t, done.requireWritable(), substrate.ErrSessionDone)

	rw := &session{kind: substrate.Write}
	assert.NoError(t, rw.requireWritable())
}
