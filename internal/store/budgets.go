// ABOUTME: SQLite persistence for user budgets and spend accounting.
// ABOUTME: Reservation arithmetic happens in tasks.go inside task transactions.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetBudget creates or updates a user's budget. Spend and reservations are
// preserved on update so changing a tier mid-month never forgives past use.
func (s *SQLiteStore) SetBudget(ctx context.Context, userID, tier string, monthlyBudget float64) error {
	if monthlyBudget < 0 {
		return fmt.Errorf("monthly budget must not be negative")
	}

	query := `
		INSERT INTO budgets (user_id, tier, monthly_budget, spent, reserved)
		VALUES (?, ?, ?, 0, 0)
		ON CONFLICT(user_id) DO UPDATE SET tier = excluded.tier, monthly_budget = excluded.monthly_budget
	`
	if _, err := s.db.ExecContext(ctx, query, userID, tier, monthlyBudget); err != nil {
		return fmt.Errorf("setting budget: %w", err)
	}

	s.logger.Debug("budget set", "user_id", userID, "tier", tier, "monthly_budget", monthlyBudget)
	return nil
}

// GetBudget returns a snapshot of a user's budget.
func (s *SQLiteStore) GetBudget(ctx context.Context, userID string) (*Budget, error) {
	var b Budget
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, tier, monthly_budget, spent, reserved
		FROM budgets WHERE user_id = ?
	`, userID).Scan(&b.UserID, &b.Tier, &b.MonthlyBudget, &b.Spent, &b.Reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying budget: %w", err)
	}
	return &b, nil
}
