package store

import (
	"context"
	"database/sql"

	"tokenpay/internal/models"

	"github.com/shopspring/decimal"
)

// GetOrCreateBalance retrieves a user's balance row, creating an empty one
// on first access.
func (s *Store) GetOrCreateBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := s.db.GetContext(ctx, &balance,
		"SELECT * FROM user_balances WHERE user_id = $1", userID)
	if err == nil {
		return &balance, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	// Concurrent first access may race; the conflict clause keeps this safe.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, free_used, paid_balance, version)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, err
	}

	err = s.db.GetContext(ctx, &balance,
		"SELECT * FROM user_balances WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// CompareAndSwapBalance writes the new balance pair only if the stored
// version still matches, bumping the version on success.
func (s *Store) CompareAndSwapBalance(ctx context.Context, userID string, version int64, freeUsed, paidBalance decimal.Decimal) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_balances
		SET free_used = $1, paid_balance = $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $3 AND version = $4`,
		freeUsed, paidBalance, userID, version)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
