package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t fakeTx) Commit(context.Context) error {
	t.db.commits++
	return t.db.commitErr
}

func (t fakeTx) Rollback(context.Context) error {
	t.db.rollbacks++
	return nil
}

type fakeDB struct {
	begins    int
	commits   int
	rollbacks int
	beginErr  error
	commitErr error
}

func (d *fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	d.begins++
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return fakeTx{db: d}, nil
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("insert entry: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 1, db.commits)
	require.Equal(t, 3, db.begins)
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.True(t, Retryable(err))
	require.Equal(t, maxTxAttempts, calls)
	require.Zero(t, db.commits)
}

func TestWithTxDoesNotRetryOtherErrors(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	boom := errors.New("boom")
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, db.rollbacks)

	db = &fakeDB{commitErr: &pgconn.PgError{Code: "23505"}}
	err = WithTx(context.Background(), db, func(pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "commit tx")
	require.Equal(t, 1, db.begins)

	db = &fakeDB{beginErr: errors.New("pool closed")}
	err = WithTx(context.Background(), db, func(pgx.Tx) error { return nil })
	require.ErrorContains(t, err, "begin tx")
}

func TestParseConfigAppliesOptions(t *testing.T) {
	cfg, err := ParseConfig(Options{DSN: "postgres://u:p@localhost:5432/ledger", MaxConns: 7, MaxConnLifetime: time.Minute})
	require.NoError(t, err)
	require.EqualValues(t, 7, cfg.MaxConns)
	require.Equal(t, time.Minute, cfg.MaxConnLifetime)

	_, err = ParseConfig(Options{DSN: "postgres://%zz"})
	require.Error(t, err)
}
