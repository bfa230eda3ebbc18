package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// NextRequestNumber allocates the next human-readable request number for the
// given month, formatted RD{year}{month}{seq}. The per-month counter row is
// upserted with an atomic increment so concurrent allocations never collide.
func NextRequestNumber(ctx context.Context, tx pgx.Tx, at time.Time) (string, error) {
	period := at.Format("200601")
	var seq int64
	err := tx.QueryRow(ctx, `INSERT INTO request_sequences (period, last_seq)
VALUES ($1, 1)
ON CONFLICT (period) DO UPDATE SET last_seq = request_sequences.last_seq + 1
RETURNING last_seq`, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("shared: allocate request number: %w", err)
	}
	return FormatRequestNumber(at, seq), nil
}

// FormatRequestNumber renders RD{year}{month}{seq} with a zero-padded
// four-digit sequence.
func FormatRequestNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("RD%s%04d", at.Format("200601"), seq)
}
