// Package distlock provides the cross-process mutual exclusion used to make
// sure only one dispatcher per queue runs a cycle at any instant.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when releasing or extending a lock this instance
// does not own.
var ErrNotHeld = errors.New("distlock: lock not held")

// Lock is a non-blocking distributed mutex.
// A single instance must not be shared by concurrent cycles.
type Lock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
	// Extend confirms the lock is still ours and renews it. Returns
	// ErrNotHeld once ownership is lost.
	Extend(ctx context.Context) error
}

// QueueLockKey is the lock name guarding the dispatcher of a queue within a
// scope. The scope separates deployments that share one Redis or database.
func QueueLockKey(scope, queue string) string {
	if scope == "" {
		scope = "default"
	}
	return "broadcast:" + scope + ":dispatch:" + queue
}

// NewQueueLock creates the dispatcher lock for a queue using the best
// available backend. Redis is preferred; PostgreSQL advisory locks are the
// fallback when no Redis client is configured.
//
// The lock bounds active processing to one instance per queue type; any
// number of worker processes may run.
func NewQueueLock(redisClient *redis.Client, db *sql.DB, scope, queue string, ttl time.Duration) Lock {
	key := QueueLockKey(scope, queue)
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// =============================================================================
// PostgreSQL Advisory Lock
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection between Acquire and Release. The lock disappears if that
// connection drops.

// PGAdvisoryLock implements Lock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	return &PGAdvisoryLock{db: db, lockID: AdvisoryKey(key)}
}

// AdvisoryKey hashes a lock name to a 64-bit advisory lock id.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d: already acquired by this instance", l.lockID)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock %d: get connection: %w", l.lockID, err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend pings the pinned session. The advisory lock has no expiry and lives
// exactly as long as that session.
func (l *PGAdvisoryLock) Extend(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	if err := l.conn.PingContext(ctx); err != nil {
		l.conn.Close()
		l.conn = nil
		return fmt.Errorf("advisory lock %d: session lost: %w", l.lockID, ErrNotHeld)
	}
	return nil
}

// Release unlocks on the same session that acquired the lock and returns the
// connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
