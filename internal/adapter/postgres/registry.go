package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/quira/zkbridge/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	resolveDeviceSQL = `SELECT id, name, COALESCE(location, ''), serial
FROM devices WHERE serial = $1 AND active`

	testModeSQL = `SELECT value FROM settings WHERE key = 'test_mode'`

	upsertEnrollmentSQL = `INSERT INTO enrollments
    (candidate_id, session_id, device_id, uid, user_id, name, privilege, operator, test_mode, enrolled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (candidate_id) DO UPDATE SET
    session_id  = EXCLUDED.session_id,
    device_id   = EXCLUDED.device_id,
    uid         = EXCLUDED.uid,
    user_id     = EXCLUDED.user_id,
    name        = EXCLUDED.name,
    privilege   = EXCLUDED.privilege,
    operator    = EXCLUDED.operator,
    test_mode   = EXCLUDED.test_mode,
    enrolled_at = EXCLUDED.enrolled_at
RETURNING (xmax = 0)`
)

// querier is the subset of *pgxpool.Pool the registry uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RegistryConfig contains PostgreSQL connection and breaker settings
type RegistryConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	SSLMode     string
	PoolSize    int
	MaxIdleTime time.Duration

	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

// Registry resolves terminals, reads the test-mode flag and stores
// enrollments. Every call goes through a circuit breaker so an unavailable
// database fails fast.
type Registry struct {
	pool    *pgxpool.Pool
	db      querier
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

// connString builds the pool URL. Credentials are escaped so passwords may
// contain URL delimiters.
func connString(config RegistryConfig) string {
	query := url.Values{}
	query.Set("sslmode", config.SSLMode)
	query.Set("pool_max_conns", strconv.Itoa(config.PoolSize))
	query.Set("pool_max_conn_idle_time", config.MaxIdleTime.String())

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.User, config.Password),
		Host:     net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Path:     "/" + config.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewRegistry connects to PostgreSQL
func NewRegistry(ctx context.Context, config RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	poolConfig, err := pgxpool.ParseConfig(connString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := newRegistry(pool, config, logger)
	r.pool = pool

	r.logger.Info().
		Str("host", config.Host).
		Int("port", config.Port).
		Str("database", config.Database).
		Int("pool_size", config.PoolSize).
		Msg("Registry initialized")

	return r, nil
}

func newRegistry(db querier, config RegistryConfig, logger zerolog.Logger) *Registry {
	r := &Registry{
		db:     db,
		logger: logger.With().Str("component", "postgres-registry").Logger(),
	}

	threshold := config.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "registry",
		MaxRequests: config.BreakerMaxRequests,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return r
}

// execute runs fn through the breaker; every failure is reported as
// domain.ErrRegistry.
func execute[T any](r *Registry, op string, fn func() (T, error)) (T, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		r.logger.Error().Err(err).Str("op", op).Msg("Registry call failed")
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrRegistry, op, err)
	}
	return v.(T), nil
}

// EnsureSchema creates the tables the registry needs.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	_, err := execute(r, "ensure schema", func() (struct{}, error) {
		_, err := r.db.Exec(ctx, schema)
		return struct{}{}, err
	})
	return err
}

// ResolveDeviceBySerial returns nil when no active device has serial.
func (r *Registry) ResolveDeviceBySerial(ctx context.Context, serial string) (*domain.DeviceIdentity, error) {
	return execute(r, "resolve device", func() (*domain.DeviceIdentity, error) {
		var d domain.DeviceIdentity
		err := r.db.QueryRow(ctx, resolveDeviceSQL, serial).Scan(&d.ID, &d.Name, &d.Location, &d.Serial)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &d, nil
	})
}

// IsTestModeActive reads the operator-controlled test_mode setting. A
// missing or unparsable value counts as off.
func (r *Registry) IsTestModeActive(ctx context.Context) (bool, error) {
	return execute(r, "read test mode", func() (bool, error) {
		var value string
		err := r.db.QueryRow(ctx, testModeSQL).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		active, perr := strconv.ParseBool(value)
		if perr != nil {
			r.logger.Warn().Str("value", value).Msg("Unparsable test_mode setting")
			return false, nil
		}
		return active, nil
	})
}

func (r *Registry) UpsertEnrollmentRecord(ctx context.Context, rec domain.EnrollmentRecord) (domain.EnrollmentResult, error) {
	inserted, err := execute(r, "upsert enrollment", func() (bool, error) {
		var inserted bool
		err := r.db.QueryRow(ctx, upsertEnrollmentSQL,
			rec.CandidateID,
			rec.SessionID,
			rec.DeviceID,
			rec.UID,
			rec.UserID,
			rec.Name,
			rec.Privilege,
			rec.Operator,
			rec.TestMode,
			rec.EnrolledAt,
		).Scan(&inserted)
		return inserted, err
	})
	if err != nil {
		return domain.EnrollmentResult{Success: false, Message: "Enrollment could not be saved"}, err
	}

	msg := "Enrollment updated"
	if inserted {
		msg = "Enrollment saved"
	}
	if rec.TestMode {
		msg += " (test mode)"
	}
	return domain.EnrollmentResult{Success: true, Message: msg}, nil
}

// Close releases the pool.
func (r *Registry) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}
