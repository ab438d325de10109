package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// TxManager manages database transactions
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTx executes a function within a database transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (tm *TxManager) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		room_id    TEXT   NOT NULL,
		id         TEXT   NOT NULL,
		sender_id  TEXT   NOT NULL,
		content    TEXT   NOT NULL,
		sent_at_ns BIGINT NOT NULL,
		CONSTRAINT messages_pkey PRIMARY KEY (room_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS messages_room_sent_idx ON messages (room_id, sent_at_ns, id)`,
}

// Migrate creates the messages table and its ordering index in one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	return NewTxManager(db).WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}
