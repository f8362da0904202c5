package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// ErrConflict возвращается, когда конкурентная модификация не разрешилась
// за отведённое число попыток транзакции.
var ErrConflict = errors.New("concurrent modification conflict")

const txAttempts = 3

// Querier — общий срез операций *pgxpool.Pool и pgx.Tx. Репозитории работают
// через него, поэтому один и тот же метод выполняется и на пуле, и внутри
// чужой транзакции.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager выполняет fn внутри одной транзакции: commit при nil, полный
// rollback при любой ошибке.
type TxManager interface {
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

func (p *Postgres) WithTx(ctx context.Context, fn func(q Querier) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = p.runTx(ctx, fn)
		if err == nil || !isTxRollback(err) {
			return err
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("db: transaction conflict, retrying")
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func (p *Postgres) runTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, beginErr := p.Pool.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("db: failed to begin transaction: %w", beginErr)
	}

	defer func() {
		if pnc := recover(); pnc != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction after panic")
			}
			panic(pnc)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("db: failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("db: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

func isTxRollback(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsTransactionRollback(pgErr.Code)
	}
	return false
}
