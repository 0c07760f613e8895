package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"classroomhub/internal/logging"
	dbconfig "classroomhub/pkg/database"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

var _ interfaces.Store = (*Manager)(nil)

// busyRetryDelay is how long the writer waits before its single retry of a
// write that hit a locked database.
const busyRetryDelay = 250 * time.Millisecond

var fieldRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Manager implements interfaces.Store on a SQLite document table.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	done         chan struct{} // closed when the writer goroutine has exited
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Schema
// migrations are applied separately through pkg/database.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logging.OrDiscard(logger),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if isBusy(err) {
				m.logger.Warn("database write hit a locked database, retrying", "error", err)
				time.Sleep(busyRetryDelay)
				err = op.operation(op.ctx, m.db)
			}
			if err != nil {
				m.logger.Error("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			m.rejectPending()
			return
		}
	}
}

// rejectPending fails every operation still queued at shutdown.
func (m *Manager) rejectPending() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- ErrManagerClosed
		default:
			return
		}
	}
}

// isBusy reports whether err is a transient lock error worth one retry.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// RACE CONDITION FIX: An operation can be queued after the writer drained
	// the channel on shutdown; once the writer is gone nothing will answer it
	select {
	case err := <-result:
		return err
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// Get returns the document stored under collection/id.
func (m *Manager) Get(ctx context.Context, collection, id string) (types.Record, bool, error) {
	if collection == "" {
		return nil, false, ErrEmptyCollection
	}

	var data string
	err := m.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, internal("get", collection, err)
	}

	rec, err := decode(data)
	if err != nil {
		return nil, false, internal("decode", collection, err)
	}
	return rec, true, nil
}

// Query returns every document in collection matching all predicates, ordered by id.
// ARCHITECTURAL DISCOVERY: Reads bypass the writer goroutine; WAL mode lets them
// run concurrently with the single writer
func (m *Manager) Query(ctx context.Context, collection string, predicates ...types.Predicate) ([]types.Record, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}

	query := "SELECT data FROM documents WHERE collection = ?"
	args := []any{collection}
	for _, p := range predicates {
		if !fieldRegex.MatchString(p.Field) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, p.Field)
		}
		value, err := sqlValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidField, p.Field, err)
		}
		query += " AND json_extract(data, '$." + p.Field + "') = ?"
		args = append(args, value)
	}
	query += " ORDER BY id ASC"

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, internal("query", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, internal("scan", collection, err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, internal("decode", collection, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("query", collection, err)
	}
	return records, nil
}

// Create inserts a new document, generating an id when the record has none.
func (m *Manager) Create(ctx context.Context, collection string, record types.Record) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	id, data, err := prepare(record, "")
	if err != nil {
		return "", err
	}

	err = m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)",
			collection, id, data,
		)
		return err
	})
	if err != nil {
		return "", internal("create", collection, err)
	}
	return id, nil
}

// Set upserts the document stored under collection/id.
func (m *Manager) Set(ctx context.Context, collection, id string, record types.Record) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	id, data, err := prepare(record, id)
	if err != nil {
		return err
	}

	err = m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, upsertSQL, collection, id, data)
		return err
	})
	if err != nil {
		return internal("set", collection, err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO documents (collection, id, data, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (collection, id) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
`

// BatchWrite applies ops in a single transaction.
// FUNCTIONAL DISCOVERY: Transaction support essential for atomic archive moves
// and bulk score persistence
func (m *Manager) BatchWrite(ctx context.Context, ops []types.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	type prepared struct {
		op   types.WriteOp
		id   string
		data string
	}
	batch := make([]prepared, 0, len(ops))
	for _, op := range ops {
		if op.Collection == "" {
			return ErrEmptyCollection
		}
		p := prepared{op: op, id: op.ID}
		switch op.Kind {
		case types.WriteCreate, types.WriteSet:
			id, data, err := prepare(op.Record, op.ID)
			if err != nil {
				return err
			}
			p.id, p.data = id, data
		case types.WriteDelete:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownWriteOp, op.Kind)
		}
		batch = append(batch, p)
	}

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		for _, p := range batch {
			var err error
			switch p.op.Kind {
			case types.WriteCreate:
				_, err = tx.ExecContext(ctx,
					"INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)",
					p.op.Collection, p.id, p.data)
			case types.WriteSet:
				_, err = tx.ExecContext(ctx, upsertSQL, p.op.Collection, p.id, p.data)
			case types.WriteDelete:
				_, err = tx.ExecContext(ctx,
					"DELETE FROM documents WHERE collection = ? AND id = ?",
					p.op.Collection, p.id)
			}
			if err != nil {
				return fmt.Errorf("%s %s/%s: %w", p.op.Kind, p.op.Collection, p.id, err)
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return internal("batch", "", err)
	}
	return nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB returns the underlying connection for migrations and schema validation.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -64000",  // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// prepare resolves the document id and serializes the record with the id
// embedded, so decoded documents always carry their own key.
func prepare(record types.Record, id string) (string, string, error) {
	if id == "" {
		if v, ok := record["id"].(string); ok && v != "" {
			id = v
		} else {
			id = uuid.NewString()
		}
	}

	doc := make(types.Record, len(record)+1)
	for k, v := range record {
		doc[k] = v
	}
	doc["id"] = id

	data, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return id, string(data), nil
}

func decode(data string) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// sqlValue converts a predicate value into what json_extract yields for it.
// TECHNICAL DISCOVERY: json_extract returns booleans as 0/1 and strings unquoted,
// so values are normalized through JSON before binding
func sqlValue(v any) (any, error) {
	switch n := types.NormalizeValue(v).(type) {
	case nil:
		return nil, errors.New("null predicates are not supported")
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string, float64:
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported predicate value %T", v)
	}
}

func internal(op, collection string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if collection == "" {
		return fmt.Errorf("%w: %s: %w", types.ErrInternal, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", types.ErrInternal, op, collection, err)
}
