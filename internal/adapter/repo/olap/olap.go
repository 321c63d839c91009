// Package olap implements the OLAP-side Dimension Upserters (spec §4.2) and
// Fact Upserter (spec §4.3): idempotent insert-or-update routines against the
// star-schema target store.
//
// Every method here takes an OLAPTx rather than a pool: the Sync
// Orchestrator owns one logical transaction per call (spec §4.4), and these
// upserters are the statements run inside it.
package olap

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// OLAPTx is the transactional handle these upserters operate on. It is
// self-referential (Begin returns another OLAPTx) rather than typed
// directly against pgx.Tx so that UpsertDimTiempo's savepoint recovery path
// is trivially mockable in unit tests; TxAdapter bridges a real pgx.Tx to
// this interface.
type OLAPTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (OLAPTx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxAdapter adapts a real pgx.Tx (as returned by pgxpool.Pool.BeginTx) to
// OLAPTx. Calling Begin on it opens a savepoint, itself wrapped the same
// way, so nested recovery composes to arbitrary depth.
type TxAdapter struct{ pgx.Tx }

// NewTxAdapter wraps tx as an OLAPTx.
func NewTxAdapter(tx pgx.Tx) OLAPTx { return TxAdapter{tx} }

// Begin opens a savepoint on the underlying transaction.
func (a TxAdapter) Begin(ctx context.Context) (OLAPTx, error) {
	sp, err := a.Tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return TxAdapter{sp}, nil
}

// Upserter groups all dimension/fact upsert operations behind one receiver
// so callers (the orchestrator) hold a single value.
type Upserter struct{}

// NewUpserter constructs an Upserter. It is stateless; every method takes
// the transaction explicitly.
func NewUpserter() *Upserter { return &Upserter{} }
