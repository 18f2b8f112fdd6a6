package ratelimit

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Limiter is a fixed-window per-IP request counter backed by the
// request_rate table, so the count holds across instances. Windows are keyed
// by their start epoch; old windows are pruned opportunistically.
type Limiter struct {
	db     *sql.DB
	limit  int
	window time.Duration
}

// New returns a limiter allowing limit requests per window.
func New(db *sql.DB, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{db: db, limit: limit, window: window}
}

// Allow consumes one slot for the ip in the current window. The increment is
// conditional in the store, mirroring the quota counter. Storage errors fail
// open: rate limiting protects upstream spend, it must not take the API down
// with it.
func (l *Limiter) Allow(ctx context.Context, ip string) bool {
	now := time.Now()
	windowStart := now.Truncate(l.window).Unix()
	res, err := l.db.ExecContext(ctx, `INSERT INTO request_rate (ip, window_start, hits) VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE hits = IF(hits < ?, hits + 1, hits)`,
		ip, windowStart, l.limit)
	if err != nil {
		log.Printf("[ratelimit][fallback] ip=%s err=%v", ip, err)
		return true
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return true
	}
	if affected == 0 {
		log.Printf("[ratelimit][deny] ip=%s window=%d limit=%d", ip, windowStart, l.limit)
		return false
	}
	l.prune(ctx, windowStart)
	return true
}

// Remaining reports how many requests the ip has left in the current window.
func (l *Limiter) Remaining(ctx context.Context, ip string) int {
	windowStart := time.Now().Truncate(l.window).Unix()
	var hits int
	err := l.db.QueryRowContext(ctx, `SELECT hits FROM request_rate WHERE ip = ? AND window_start = ?`, ip, windowStart).Scan(&hits)
	if err != nil {
		return l.limit
	}
	if hits >= l.limit {
		return 0
	}
	return l.limit - hits
}

// prune removes windows older than two windows back; best effort.
func (l *Limiter) prune(ctx context.Context, currentWindow int64) {
	cutoff := currentWindow - 2*int64(l.window.Seconds())
	_, _ = l.db.ExecContext(ctx, `DELETE FROM request_rate WHERE window_start < ?`, cutoff)
}
