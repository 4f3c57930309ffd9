// Package database provides the relational session manager: one engine
// (connection pool) per configured database and one session per unit of
// work, with transient-failure retry.
//
// The engine is built once, on first connect, and disposed only at process
// shutdown. Sessions live in a context-attached scope (see WithScope) so
// concurrent units of work never share one; each session is a dedicated
// pooled connection plus a lazily-begun transaction.
//
// Operations retry with exponential backoff on transient errors, including
// the prepared-statement errors produced by connection-pooling proxies
// (pgbouncer-style) that recycle physical connections between logical
// sessions. lib/pq issues unnamed prepared statements, so no statement
// name survives across sessions; the retry is a full replay of the
// operation, reconnecting first when the session went bad.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/retry"
)

const (
	defaultPoolSize    = 5
	defaultPoolRecycle = 15 * time.Minute
)

// ErrNoScope is returned when a database operation runs outside a session
// scope (see WithScope).
var ErrNoScope = errors.New("database: no session scope attached to context")

var protocolRegex = regexp.MustCompile(`^([a-zA-Z0-9_+\-]+)://`)

// Manager owns one database engine and hands out per-scope sessions.
type Manager struct {
	url         string
	driverName  string
	poolSize    int
	poolRecycle time.Duration
	policy      retry.Policy

	mu sync.Mutex
	db *sql.DB
}

// New validates the connection URL and returns an unconnected Manager.
// The engine is not built until the first operation needs it.
func New(cfg config.DatabaseConfig) (*Manager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	m := protocolRegex.FindStringSubmatch(cfg.URL)
	if m == nil {
		return nil, fmt.Errorf("invalid database url: must carry a protocol (e.g. postgres://)")
	}
	proto := m[1]
	if !strings.Contains(proto, "postgre") {
		return nil, fmt.Errorf("unsupported database protocol: %s", proto)
	}
	url := protocolRegex.ReplaceAllString(cfg.URL, "postgres://")

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	poolRecycle := cfg.PoolRecycle
	if poolRecycle <= 0 {
		poolRecycle = defaultPoolRecycle
	}

	policy := retry.Policy{
		MaxAttempts: 5,
		InitialWait: 1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		Retryable:   IsRetryable,
	}

	return &Manager{
		url:         url,
		driverName:  "postgres",
		poolSize:    poolSize,
		poolRecycle: poolRecycle,
		policy:      policy,
	}, nil
}

// session is one unit of work's database session: a dedicated pooled
// connection plus a lazily-begun transaction.
type session struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// querier is satisfied by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *session) querier() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// begin starts the session transaction if none is active.
func (s *session) begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *session) close() {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	s.conn.Close()
	metrics.SessionClosed()
}

// engine returns the connection pool, building it on first use. Pool
// sizing: fixed size with zero overflow (idle == open) and periodic
// recycling of connections.
func (m *Manager) engine() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		// sql.Open validates lazily; the URL was validated in New.
		db, _ := sql.Open(m.driverName, m.url)
		db.SetMaxOpenConns(m.poolSize)
		db.SetMaxIdleConns(m.poolSize)
		db.SetConnMaxLifetime(m.poolRecycle)
		m.db = db
	}
	return m.db
}

// connect returns the scope's session, creating it on first use. The new
// connection is pinged before the session is handed out.
func (m *Manager) connect(ctx context.Context) (*session, error) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return nil, ErrNoScope
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sess, ok := sc.sessions[m]; ok {
		return sess, nil
	}

	conn, err := m.engine().Conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	sess := &session{conn: conn}
	sc.sessions[m] = sess
	metrics.SessionOpened()
	logging.WithContext(ctx).Debug("database session opened")
	return sess, nil
}

// Connect ensures the current scope has a session. Idempotent.
func (m *Manager) Connect(ctx context.Context) error {
	_, err := m.connect(ctx)
	return err
}

// IsConnected reports whether the current scope holds a session.
func (m *Manager) IsConnected(ctx context.Context) bool {
	sc := scopeFrom(ctx)
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.sessions[m]
	return ok
}

// resetSession drops the scope's session so the next attempt reconnects.
func (m *Manager) resetSession(ctx context.Context) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sess, ok := sc.sessions[m]; ok {
		sess.close()
		delete(sc.sessions, m)
	}
}

// withRetry runs fn against the scope's session, replaying the whole
// operation (reconnect included) on transient errors.
func (m *Manager) withRetry(ctx context.Context, op string, fn func(*session) error) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery(op, time.Since(start)) }()

	attempt := 0
	return retry.Do(ctx, m.policy, func() error {
		attempt++
		if attempt > 1 {
			metrics.RecordDBRetry()
			logging.WithContext(ctx).Warn("retrying database operation",
				zap.String("operation", op), zap.Int("attempt", attempt))
		}

		sess, err := m.connect(ctx)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			if IsRetryable(err) {
				m.resetSession(ctx)
			}
			return err
		}
		return nil
	})
}

// Execute runs a statement against the scope's session and commits it.
func (m *Manager) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.execute(ctx, true, query, args...)
}

// ExecuteNoCommit runs a statement inside the session transaction, leaving
// it pending until Commit or Rollback.
func (m *Manager) ExecuteNoCommit(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return m.execute(ctx, false, query, args...)
}

func (m *Manager) execute(ctx context.Context, autoCommit bool, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := m.withRetry(ctx, "execute", func(sess *session) error {
		if err := sess.begin(ctx); err != nil {
			return err
		}
		r, err := sess.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if autoCommit {
			tx := sess.tx
			sess.tx = nil
			if err := tx.Commit(); err != nil {
				return err
			}
		}
		res = r
		return nil
	})
	return res, err
}

// FetchOne runs query and scans the first row into dest. Returns
// sql.ErrNoRows when the result set is empty.
func (m *Manager) FetchOne(ctx context.Context, query string, args []any, dest ...any) error {
	return m.withRetry(ctx, "fetchone", func(sess *session) error {
		return sess.querier().QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// FetchAll runs query and hands the row iterator to fn. On a transient
// failure the whole operation replays, so fn may run more than once and
// must reset any state it accumulates.
func (m *Manager) FetchAll(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	return m.withRetry(ctx, "fetchall", func(sess *session) error {
		rows, err := sess.querier().QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := fn(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// Add stages an INSERT for e in the session transaction. Pending until
// Commit.
func (m *Manager) Add(ctx context.Context, e Entity) error {
	return m.withRetry(ctx, "add", func(sess *session) error {
		if err := sess.begin(ctx); err != nil {
			return err
		}
		query, args := insertQuery(e)
		_, err := sess.tx.ExecContext(ctx, query, args...)
		return err
	})
}

// AddAll stages INSERTs for all entities in the session transaction.
func (m *Manager) AddAll(ctx context.Context, entities []Entity) error {
	return m.withRetry(ctx, "add_all", func(sess *session) error {
		if err := sess.begin(ctx); err != nil {
			return err
		}
		for _, e := range entities {
			query, args := insertQuery(e)
			if _, err := sess.tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete stages a DELETE of e (by primary key) in the session transaction.
func (m *Manager) Delete(ctx context.Context, e Entity) error {
	return m.withRetry(ctx, "delete", func(sess *session) error {
		if err := sess.begin(ctx); err != nil {
			return err
		}
		query, args := deleteQuery(e)
		_, err := sess.tx.ExecContext(ctx, query, args...)
		return err
	})
}

// Refresh re-reads e from the database by primary key.
func (m *Manager) Refresh(ctx context.Context, e Refreshable) error {
	return m.withRetry(ctx, "refresh", func(sess *session) error {
		query, args := refreshQuery(e)
		return sess.querier().QueryRowContext(ctx, query, args...).Scan(e.ScanDestinations()...)
	})
}

// Commit commits the session transaction. No-op when none is active.
//
// A failed commit is never retried: the transaction object is consumed by
// the attempt and the statements staged in it cannot be replayed, so the
// error propagates to the caller and a transient failure only resets the
// session for subsequent work.
func (m *Manager) Commit(ctx context.Context) error {
	return m.finishTx(ctx, "commit", (*sql.Tx).Commit)
}

// Rollback rolls back the session transaction. No-op when none is active.
// Like Commit, a failure propagates instead of being retried.
func (m *Manager) Rollback(ctx context.Context) error {
	return m.finishTx(ctx, "rollback", (*sql.Tx).Rollback)
}

func (m *Manager) finishTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery(op, time.Since(start)) }()

	sess, err := m.connect(ctx)
	if err != nil {
		return err
	}
	if sess.tx == nil {
		return nil
	}
	tx := sess.tx
	sess.tx = nil
	if err := fn(tx); err != nil {
		if IsRetryable(err) {
			m.resetSession(ctx)
		}
		return err
	}
	return nil
}

// TestConnection runs a trivial query against the scope's session.
func (m *Manager) TestConnection(ctx context.Context) (bool, error) {
	var one int
	if err := m.FetchOne(ctx, "SELECT 1", nil, &one); err != nil {
		return false, err
	}
	ok := one == 1
	logging.WithContext(ctx).Debug("database connectivity test", zap.Bool("success", ok))
	return ok, nil
}

// DisconnectSession closes and clears only the current scope's session.
// Safe to call when no session is active.
func (m *Manager) DisconnectSession(ctx context.Context) {
	m.resetSession(ctx)
}

// Disconnect fully tears the manager down: the scope's session and the
// engine with all pooled connections. Reserved for process shutdown.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.DisconnectSession(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}
