package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripflow/internal/config"
	"tripflow/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPool builds a DSN from cfg, configures pgxpool, verifies connectivity,
// and returns the pool.
func NewPool(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pgxpool.Pool, error) {
	start := time.Now()
	dsn := buildDSN(cfg, "postgres")

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}

	pcfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = make(map[string]string, 1)
	}
	pcfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	// pool hygiene
	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info(ctx, "db_connected", "Connected to PostgreSQL database", map[string]any{
		"host":        cfg.Database.Host,
		"database":    cfg.Database.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return pool, nil
}

// Migrate applies the embedded SQL migrations.
func Migrate(cfg *config.Config, log *logger.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, buildDSN(cfg, "pgx5"))
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	log.Info(context.Background(), "db_migrated", "Database schema is up to date", nil)
	return nil
}

func buildDSN(cfg *config.Config, scheme string) string {
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(cfg.Database.Host, strconv.Itoa(cfg.Database.Port)),
		Path:   "/" + cfg.Database.Name,
		User:   url.UserPassword(cfg.Database.User, cfg.Database.Password),
	}
	q := url.Values{}
	q.Set("sslmode", cfg.Database.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
