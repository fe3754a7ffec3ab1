package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TransactionHelper выполняет функции в транзакции pgx.
type TransactionHelper struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewTransactionHelper создает помощник транзакций.
func NewTransactionHelper(db *pgxpool.Pool, logger *zap.Logger) *TransactionHelper {
	return &TransactionHelper{db: db, logger: logger.Named("TransactionHelper")}
}

// WithTransaction выполняет fn в транзакции read committed с rollback при ошибке или панике.
func (h *TransactionHelper) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := h.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				h.logger.Error("Failed to rollback transaction after panic",
					zap.Error(rollbackErr),
					zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			h.logger.Error("Failed to rollback transaction",
				zap.Error(rollbackErr),
				zap.NamedError("original_error", err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
