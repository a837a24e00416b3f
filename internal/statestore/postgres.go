package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"balance-alerts/internal/alertstate"
	"balance-alerts/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("statestore: pool not configured")
)

const (
	createStateTableSQL = `CREATE TABLE IF NOT EXISTS alert_state (
        account_key         TEXT PRIMARY KEY,
        phase               TEXT        NOT NULL,
        sequence            INTEGER     NOT NULL,
        next_eligible_at    TIMESTAMPTZ,
        entered_alerting_at TIMESTAMPTZ,
        updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	loadStateSQL = `SELECT phase, sequence, next_eligible_at, entered_alerting_at
    FROM alert_state
    WHERE account_key = $1;`

	saveStateSQL = `INSERT INTO alert_state (
        account_key,
        phase,
        sequence,
        next_eligible_at,
        entered_alerting_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,now()
    )
    ON CONFLICT (account_key) DO UPDATE
    SET
        phase               = EXCLUDED.phase,
        sequence            = EXCLUDED.sequence,
        next_eligible_at    = EXCLUDED.next_eligible_at,
        entered_alerting_at = EXCLUDED.entered_alerting_at,
        updated_at          = now();`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers so only one replica runs
// the decision loop when several share a database.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps the alert state as a singleton row keyed by account.
type PostgresStore struct {
	pool       *pgxpool.Pool
	accountKey string
}

// NewPostgresStore wires a pgx pool into a store and ensures the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, accountKey string) (*PostgresStore, error) {
	if accountKey == "" {
		accountKey = "default"
	}
	store := &PostgresStore{pool: pool, accountKey: accountKey}
	if _, err := pool.Exec(ctx, createStateTableSQL); err != nil {
		return nil, fmt.Errorf("ensure alert_state table: %w", err)
	}
	return store, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Load fetches the singleton row for the account.
func (s *PostgresStore) Load(ctx context.Context) (alertstate.State, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return alertstate.State{}, false, err
	}

	var (
		phase    string
		sequence int
		next     *time.Time
		entered  *time.Time
	)
	row := pool.QueryRow(ctx, loadStateSQL, s.accountKey)
	if scanErr := row.Scan(&phase, &sequence, &next, &entered); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return alertstate.State{}, false, nil
		}
		return alertstate.State{}, false, fmt.Errorf("load alert state: %w", scanErr)
	}

	state := alertstate.State{
		Phase:             alertstate.Phase(phase),
		Sequence:          sequence,
		NextEligibleAt:    next,
		EnteredAlertingAt: entered,
	}
	return state, true, nil
}

// Save upserts the singleton row.
func (s *PostgresStore) Save(ctx context.Context, state alertstate.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, saveStateSQL,
		s.accountKey,
		string(state.Phase),
		state.Sequence,
		state.NextEligibleAt,
		state.EnteredAlertingAt,
	); execErr != nil {
		return fmt.Errorf("save alert state: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock falls away with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

var _ alertstate.Store = (*PostgresStore)(nil)
var _ AdvisoryLocker = (*PostgresStore)(nil)
