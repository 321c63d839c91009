package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row over a single scripted Scan call.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed slice of scripted Scan calls.
type rowsStub struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                       { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                               { return nil }

func (r *rowsStub) Next() bool {
	return r.idx < len(r.scans)
}

func (r *rowsStub) Scan(dest ...any) error {
	fn := r.scans[r.idx]
	r.idx++
	return fn(dest...)
}

// poolStub implements postgres.PgxPool for tests. Exec, QueryRow, and Query
// are independently scriptable. An unconfigured QueryRow and BeginTx return
// a descriptive error so a test exercising the wrong path fails loudly; an
// unconfigured Exec returns no error and an unconfigured Query returns no
// rows.
type poolStub struct {
	execErr  error
	row      rowStub
	rows     *rowsStub
	queryErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &rowsStub{}, nil
	}
	return p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("BeginTx not used by the OLTP reader")
}
