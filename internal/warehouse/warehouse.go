// Package warehouse manages the single, lazily created connection to the
// data warehouse and runs queries on it, fetching their full result sets into
// memory.
//
// The handle is created on first use and discarded when a query fails with a
// connection-class error, so that the next query re-creates it. Statement
// errors (bad SQL, missing objects) leave the handle alone unless
// Opt.ResetOnAnyError is set.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadwire/leadwire/internal/metrics"
	"github.com/leadwire/leadwire/models"
)

// Opener opens and pings a new warehouse connection.
type Opener func(ctx context.Context) (*sql.DB, error)

// Opt represents the manager's options.
type Opt struct {
	// QueryTimeout bounds a single query including the fetch. 0 means none.
	QueryTimeout    time.Duration
	ResetOnAnyError bool
}

// Manager owns the warehouse connection handle.
type Manager struct {
	open Opener
	opt  Opt

	db *sql.DB
	mu sync.Mutex

	lo *slog.Logger
}

// New returns a Manager that connects with the given config.
func New(cfg Config, lo *slog.Logger) *Manager {
	return NewWithOpener(func(ctx context.Context) (*sql.DB, error) {
		return Open(ctx, cfg)
	}, Opt{
		QueryTimeout:    cfg.QueryTimeout,
		ResetOnAnyError: cfg.ResetOnAnyError,
	}, lo)
}

// NewWithOpener returns a Manager that uses a custom Opener.
func NewWithOpener(open Opener, o Opt, lo *slog.Logger) *Manager {
	return &Manager{
		open: open,
		opt:  o,
		lo:   lo,
	}
}

// EnsureConnection returns the live connection, opening one if there
// isn't any. A failure to open is a connection-class *QueryError and
// nothing is recorded.
func (m *Manager) EnsureConnection(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	db, err := m.open(ctx)
	if err != nil {
		return nil, &QueryError{Err: err, Connection: true}
	}

	m.db = db
	metrics.WarehouseConnects.Inc()
	m.lo.Info("new warehouse connection established")

	return db, nil
}

// RunQuery executes sqlText on the live connection and returns the
// full result set.
func (m *Manager) RunQuery(ctx context.Context, sqlText string) (*models.Result, error) {
	res, _, err := m.runQuery(ctx, sqlText)
	return res, err
}

// ProcessQuery resolves SQL text through provider and runs it. If the query
// fails with a connection-class error, the connection is discarded before
// the error is returned so that the next call opens a fresh one.
func (m *Manager) ProcessQuery(ctx context.Context, provider func() (string, error)) (*models.Result, error) {
	sqlText, err := provider()
	if err != nil {
		return nil, fmt.Errorf("error resolving query: %w", err)
	}

	res, db, err := m.runQuery(ctx, sqlText)
	if err != nil {
		m.lo.Error("error processing query", "error", err, "connection_error", IsConnectionError(err))
		if m.opt.ResetOnAnyError || IsConnectionError(err) {
			m.discard(db)
		}
		return nil, err
	}

	m.lo.Debug("query processed", "rows", res.Len(), "columns", len(res.Columns))
	return res, nil
}

// Reset closes and discards the connection, if any.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
}

// Close closes the connection on shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil

	return err
}

func (m *Manager) runQuery(ctx context.Context, sqlText string) (*models.Result, *sql.DB, error) {
	db, err := m.EnsureConnection(ctx)
	if err != nil {
		metrics.WarehouseQueries.WithLabelValues(metrics.OutcomeConnectionError).Inc()
		return nil, nil, err
	}

	if m.opt.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opt.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := query(ctx, db, sqlText)
	metrics.WarehouseQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		qe := newQueryError(sqlText, err)
		if qe.Connection {
			metrics.WarehouseQueries.WithLabelValues(metrics.OutcomeConnectionError).Inc()
		} else {
			metrics.WarehouseQueries.WithLabelValues(metrics.OutcomeStatementError).Inc()
		}
		return nil, db, qe
	}

	metrics.WarehouseQueries.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.WarehouseRows.Add(float64(res.Len()))
	m.lo.Info("query executed", "rows", res.Len(), "duration", time.Since(start).String())

	return res, db, nil
}

func query(ctx context.Context, db *sql.DB, sqlText string) (*models.Result, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return readResult(rows)
}

// discard drops db if it's still the live connection. Another request may
// already have replaced it.
func (m *Manager) discard(db *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db == nil || m.db != db {
		return
	}
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	if m.db == nil {
		return
	}

	if err := m.db.Close(); err != nil {
		m.lo.Error("error closing warehouse connection", "error", err)
	}
	m.db = nil

	metrics.WarehouseResets.Inc()
	m.lo.Info("warehouse connection discarded")
}
