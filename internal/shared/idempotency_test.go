package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubDB struct {
	execErr error
	sql     []string
	args    [][]any
}

func (s *stubDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = append(s.sql, sql)
	s.args = append(s.args, args)
	return pgconn.NewCommandTag("DELETE 2"), s.execErr
}

func (s *stubDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func TestIdempotencyStoreMapsUniqueViolation(t *testing.T) {
	db := &stubDB{execErr: &pgconn.PgError{Code: "23505"}}
	store := NewIdempotencyStore(db)

	err := store.CheckAndInsert(context.Background(), "abc", "sale")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyStoreRequiresKeyAndModule(t *testing.T) {
	store := NewIdempotencyStore(&stubDB{})
	require.Error(t, store.CheckAndInsert(context.Background(), "", "sale"))
	require.Error(t, store.CheckAndInsert(context.Background(), "abc", ""))
	require.Error(t, store.Delete(context.Background(), ""))
}

func TestIdempotencyStoreCleanupReportsRows(t *testing.T) {
	store := NewIdempotencyStore(&stubDB{})
	n, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAuditLoggerRequiresIdentity(t *testing.T) {
	db := &stubDB{}
	logger := NewAuditLogger(db)

	require.Error(t, logger.Record(context.Background(), AuditLog{Action: ActionCreated}))
	require.NoError(t, logger.Record(context.Background(), AuditLog{Action: ActionCreated, Entity: "sale", EntityID: "7"}))
	require.Len(t, db.sql, 1)
	require.Equal(t, []byte("{}"), db.args[0][4])
}
