// Package ledger is the points billing boundary. The engine only ever
// credits: debits happen at job creation, outside this process.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Ledger is the collaborator contract the billing reconciler depends on.
type Ledger interface {
	Credit(ctx context.Context, userID int64, amount int64, reason string) error
}

// Postgres keeps user balances and an append-only transaction log in the
// same database as the job store.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, log: logger}
}

// Credit atomically increments the user's balance and records one
// transaction row. The two writes share a transaction so the log never
// disagrees with the balance.
func (l *Postgres) Credit(ctx context.Context, userID int64, amount int64, reason string) error {
	if amount <= 0 {
		return nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE users SET points = points + $2, updated_at = NOW() WHERE id = $1`,
		userID, amount,
	); err != nil {
		return fmt.Errorf("credit user %d: %w", userID, err)
	}

	txID := uuid.NewString()
	if _, err := tx.Exec(ctx,
		`INSERT INTO point_transactions (id, user_id, amount, kind, reason, created_at)
		 VALUES ($1, $2, $3, 'credit', $4, NOW())`,
		txID, userID, amount, reason,
	); err != nil {
		return fmt.Errorf("record credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit credit tx: %w", err)
	}

	l.log.Info("points credited",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("transaction_id", txID),
		zap.String("reason", reason),
	)
	return nil
}
