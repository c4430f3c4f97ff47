package repo

import (
	"context"
)

// IncrementRateCounter bumps the windowed counter for key and returns the
// resulting count. A counter from an older window is reset rather than
// incremented, so a single row per key suffices.
func (r Repo) IncrementRateCounter(ctx context.Context, key, windowStart string) (int, error) {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO rate_counters(key,window_start,count) VALUES (?,?,1)
ON CONFLICT(key) DO UPDATE SET
  count=CASE WHEN rate_counters.window_start=excluded.window_start THEN rate_counters.count+1 ELSE 1 END,
  window_start=excluded.window_start`,
		key, windowStart)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.DB.QueryRowContext(ctx, `SELECT count FROM rate_counters WHERE key=?`, key).Scan(&count)
	return count, err
}
