package moderation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGStore persists moderation state in Postgres. Each mutation is one
// transaction, so the active-mute index and the history log commit or roll
// back together and a crash never leaves them disagreeing.
type PGStore struct {
	DB *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{DB: db} }

// Load reads all active mutes and the full history, oldest first.
func (s *PGStore) Load(ctx context.Context) ([]MuteRecord, []HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, display_name, muted_at, duration_seconds FROM active_mutes ORDER BY muted_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("query active_mutes: %w", err)
	}
	defer rows.Close()
	var recs []MuteRecord
	for rows.Next() {
		var rec MuteRecord
		var secs int64
		if err := rows.Scan(&rec.UserID, &rec.DisplayName, &rec.MutedAt, &secs); err != nil {
			return nil, nil, fmt.Errorf("scan active mute: %w", err)
		}
		rec.Duration = time.Duration(secs) * time.Second
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	hrows, err := s.DB.QueryContext(ctx, `SELECT user_id, display_name, muted_at, duration_seconds, scheduled_unmute_at, reason, actual_unmute_at, status FROM mute_history ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query mute_history: %w", err)
	}
	defer hrows.Close()
	var hist []HistoryEntry
	for hrows.Next() {
		var e HistoryEntry
		var secs int64
		var reason string
		var unmutedAt sql.NullTime
		if err := hrows.Scan(&e.UserID, &e.DisplayName, &e.MutedAt, &secs, &e.ScheduledUnmuteAt, &reason, &unmutedAt, &e.Status); err != nil {
			return nil, nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Duration = time.Duration(secs) * time.Second
		e.Reason = Reason(reason)
		if unmutedAt.Valid {
			t := unmutedAt.Time
			e.ActualUnmuteAt = &t
		}
		hist = append(hist, e)
	}
	if err := hrows.Err(); err != nil {
		return nil, nil, err
	}
	return recs, hist, nil
}

// SaveMute writes a new active mute and its open history row atomically.
func (s *PGStore) SaveMute(ctx context.Context, rec MuteRecord, entry HistoryEntry) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save mute: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_mutes (user_id, display_name, muted_at, duration_seconds)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO UPDATE SET display_name=EXCLUDED.display_name, muted_at=EXCLUDED.muted_at, duration_seconds=EXCLUDED.duration_seconds, updated_at=NOW()`,
		rec.UserID, rec.DisplayName, rec.MutedAt, int64(rec.Duration/time.Second)); err != nil {
		return fmt.Errorf("insert active mute: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mute_history (user_id, display_name, muted_at, duration_seconds, scheduled_unmute_at, reason, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.UserID, entry.DisplayName, entry.MutedAt, int64(entry.Duration/time.Second), entry.ScheduledUnmuteAt, string(entry.Reason), entry.Status); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return tx.Commit()
}

// CloseMutes removes lifted mutes and closes their open history rows in one
// transaction per batch.
func (s *PGStore) CloseMutes(ctx context.Context, closures []Closure) error {
	if len(closures) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close mutes: %w", err)
	}
	defer tx.Rollback()

	for _, c := range closures {
		if _, err := tx.ExecContext(ctx, `DELETE FROM active_mutes WHERE user_id=$1`, c.UserID); err != nil {
			return fmt.Errorf("delete active mute %s: %w", c.UserID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mute_history SET actual_unmute_at=$2, status='closed' WHERE user_id=$1 AND actual_unmute_at IS NULL`,
			c.UserID, c.UnmutedAt); err != nil {
			return fmt.Errorf("close history entry %s: %w", c.UserID, err)
		}
	}
	return tx.Commit()
}
