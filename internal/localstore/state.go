package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openmined/treesync/internal/treesync"
)

// LastSync returns when the last successful pass that took its source from
// the given side started. It is zero before the first one.
func (t *Tx) LastSync(ctx context.Context, source treesync.Side) (time.Time, error) {
	var value string
	err := t.tx.GetContext(ctx, &value, "SELECT last_sync FROM sync_state WHERE direction = ?", source.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read last sync: %w", err)
	}
	ts, err := parseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync %q: %w", value, err)
	}
	return ts, nil
}

// SetLastSync records a successful pass.
func (t *Tx) SetLastSync(ctx context.Context, source treesync.Side, ts time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sync_state (direction, last_sync) VALUES (?, ?)", source.String(), formatTime(ts))
	if err != nil {
		return fmt.Errorf("failed to write last sync: %w", err)
	}
	return nil
}
