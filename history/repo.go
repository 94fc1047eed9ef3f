// Package history persists settled payments so a chat can review what was
// paid and from which account. It is an optional supplement: the bot works
// without a database, it just cannot answer history queries.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Payment is one settled payment row.
type Payment struct {
	ID       int64     `db:"id"`
	ChatID   int64     `db:"chat_id"`
	UserID   int64     `db:"user_id"`
	Account  string    `db:"account"`
	Kind     string    `db:"kind"`
	DeviceID string    `db:"device_id"`
	Amount   int       `db:"amount"`
	Items    int       `db:"items"`
	PaidAt   time.Time `db:"paid_at"`
}

// Repo reads and writes payment rows.
type Repo struct {
	db *sqlx.DB
}

// NewRepo wraps an open database handle.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// Record inserts one settled payment.
func (r *Repo) Record(ctx context.Context, p Payment) error {
	const q = `
		INSERT INTO payments (chat_id, user_id, account, kind, device_id, amount, items, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if p.PaidAt.IsZero() {
		p.PaidAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		p.ChatID, p.UserID, p.Account, p.Kind, p.DeviceID, p.Amount, p.Items, p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// List returns the most recent payments of a chat, newest first.
func (r *Repo) List(ctx context.Context, chatID int64, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT id, chat_id, user_id, account, kind, device_id, amount, items, paid_at
		FROM payments
		WHERE chat_id = $1
		ORDER BY paid_at DESC
		LIMIT $2`
	var out []Payment
	if err := r.db.SelectContext(ctx, &out, q, chatID, limit); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}
