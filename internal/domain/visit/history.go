package visit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/houmon/houmon/internal/domain/bonus"
)

// SaveBonusCalculationHistory overwrites the history rows of a record with
// results. Delete and insert share one transaction, so readers see either
// the old set or the new one.
func (c *Calculator) SaveBonusCalculationHistory(ctx context.Context, recordID uuid.UUID, results []bonus.AppliedBonus) error {
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		return c.history.ReplaceForRecord(ctx, recordID, historyFromApplied(recordID, results))
	})
	if err != nil {
		return fmt.Errorf("save bonus history for %s: %w", recordID, err)
	}
	return nil
}

// BonusHistory returns the stored history rows of a record.
func (c *Calculator) BonusHistory(ctx context.Context, recordID uuid.UUID) ([]*HistoryEntry, error) {
	return c.history.ListByRecord(ctx, recordID)
}
