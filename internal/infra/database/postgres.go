package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/infra/config"
)

// Schema is the Postgres schema holding storefront identity tables.
const Schema = "storefront"

// applicationName tags storefront sessions in pg_stat_activity.
const applicationName = "storefront-auth"

// credentialLookupTimeout caps any single statement so a stuck query cannot hold a login open.
const credentialLookupTimeout = 5 * time.Second

// identityTables must exist before the service reports ready.
var identityTables = []string{Schema + ".credentials", Schema + ".profiles"}

var errSchemaMissing = errors.New("storefront identity tables missing")

// PoolConfig builds the pgx pool config: search_path pinned to the storefront schema,
// sessions named after the service and statements bounded.
func PoolConfig(cfg config.PostgresSettings) (*pgxpool.Config, error) {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	if cfg.SSLMode == "" {
		dsn.RawQuery = ""
	}

	poolConfig, err := pgxpool.ParseConfig(dsn.String())
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	params := poolConfig.ConnConfig.RuntimeParams
	params["search_path"] = Schema + ",public"
	params["application_name"] = applicationName
	params["statement_timeout"] = strconv.FormatInt(credentialLookupTimeout.Milliseconds(), 10)

	return poolConfig, nil
}

// NewPostgresPool connects the pool backing the credential and profile repositories.
func NewPostgresPool(ctx context.Context, cfg config.PostgresSettings, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	log.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("schema", Schema),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return pool, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Readiness fails until the identity tables are reachable through the pool.
type Readiness struct {
	db rowQuerier
}

func NewReadiness(db rowQuerier) *Readiness {
	return &Readiness{db: db}
}

// Ping resolves every identity table; a reachable database without them is not ready.
func (r *Readiness) Ping(ctx context.Context) error {
	var present int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM unnest($1::text[]) AS t(name) WHERE to_regclass(t.name) IS NOT NULL`,
		identityTables,
	).Scan(&present)
	if err != nil {
		return fmt.Errorf("check storefront schema: %w", err)
	}
	if present != len(identityTables) {
		return errSchemaMissing
	}
	return nil
}
