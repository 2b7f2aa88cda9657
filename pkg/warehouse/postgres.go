package warehouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// pgRunner is satisfied by *pgxpool.Pool and pgx.Tx.
type pgRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore is a Store over a pgx connection pool. Appends use COPY.
type PostgresStore struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *zap.Logger
	pgSession
}

// NewPostgresStore creates the pool and validates the connection.
func NewPostgresStore(ctx context.Context, cfg Config, logger *zap.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	if poolConfig.MaxConnLifetime <= 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to create connection pool")
	}

	s := &PostgresStore{
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
		pgSession: pgSession{run: pool, cfg: cfg},
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to validate connection")
	}

	logger.Info("connected to PostgreSQL",
		zap.String("version", version),
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.String("schema", cfg.Schema))

	return s, nil
}

// Transact runs fn inside a pgx transaction.
func (s *PostgresStore) Transact(ctx context.Context, fn func(Session) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgSession{run: tx, cfg: s.cfg})
	})
	// Begin and commit failures come back uncategorized.
	if err != nil && errors.TypeOf(err) == errors.ErrorTypeInternal {
		return errors.Persistence(err, "", "transaction")
	}
	return err
}

// LoadTenants reads the roster table.
func (s *PostgresStore) LoadTenants(ctx context.Context) ([]entity.Tenant, error) {
	table := s.table(s.cfg.rosterTable())
	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		pgx.Identifier{rosterName}.Sanitize(), pgx.Identifier{rosterKey}.Sanitize(),
		pgx.Identifier{rosterActive}.Sanitize(), table)

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Persistence(err, table, "load tenants")
	}
	defer rows.Close()

	var out []entity.Tenant
	for rows.Next() {
		var t entity.Tenant
		var active any
		if err := rows.Scan(&t.Name, &t.APIKey, &active); err != nil {
			return nil, errors.Persistence(err, table, "load tenants")
		}
		t.Active = truthy(active)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, table, "load tenants")
	}
	return out, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.Persistence(err, "", "ping")
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgSession struct {
	run pgRunner
	cfg Config
}

func (s *pgSession) ident(name string) pgx.Identifier {
	if s.cfg.Schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{s.cfg.Schema, name}
}

func (s *pgSession) table(name string) string {
	return s.ident(name).Sanitize()
}

func (s *pgSession) exec(ctx context.Context, table, q string, args ...any) (int64, error) {
	tag, err := s.run.Exec(ctx, q, args...)
	if err != nil {
		return 0, errors.Persistence(err, table, "delete")
	}
	return tag.RowsAffected(), nil
}

func (s *pgSession) DeleteTenant(ctx context.Context, table, tenantColumn, key string) (int64, error) {
	t := s.table(table)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", t, pgx.Identifier{tenantColumn}.Sanitize())
	return s.exec(ctx, t, q, key)
}

func (s *pgSession) DeleteTenantWindow(ctx context.Context, table, tenantColumn, key, windowColumn string, window entity.Window) (int64, error) {
	t := s.table(table)
	col := pgx.Identifier{windowColumn}.Sanitize()
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s >= $2 AND %s < $3",
		t, pgx.Identifier{tenantColumn}.Sanitize(), col, col)
	lo, hi := windowBounds(window)
	return s.exec(ctx, t, q, key, lo, hi)
}

func (s *pgSession) TenantKeys(ctx context.Context, kq KeyQuery) ([]any, error) {
	t := s.table(kq.Table)
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = $1",
		pgx.Identifier{kq.Identity}.Sanitize(), t, pgx.Identifier{kq.TenantColumn}.Sanitize())
	args := []any{kq.TenantKey}
	if kq.Window != nil {
		col := pgx.Identifier{kq.WindowColumn}.Sanitize()
		q += fmt.Sprintf(" AND %s >= $2 AND %s < $3", col, col)
		lo, hi := windowBounds(*kq.Window)
		args = append(args, lo, hi)
	}
	return s.distinct(ctx, t, "select keys", q, args...)
}

func (s *pgSession) NestedLinks(ctx context.Context, nq NestedLinkQuery) ([]any, error) {
	child := s.table(nq.Child)
	link := pgx.Identifier{nq.LinkColumn}.Sanitize()
	ident := pgx.Identifier{nq.Identity}.Sanitize()
	q := fmt.Sprintf("SELECT DISTINCT t.%s FROM %s t LEFT JOIN %s r ON r.%s = t.%s WHERE r.%s = $1",
		link, child, s.table(nq.Parent), ident, link, pgx.Identifier{nq.TenantColumn}.Sanitize())
	if nq.Orphans {
		q += fmt.Sprintf(" OR r.%s IS NULL", ident)
	}
	return s.distinct(ctx, child, "select links", q, nq.TenantKey)
}

// distinct runs a single-column query and drops NULLs.
func (s *pgSession) distinct(ctx context.Context, table, phase, q string, args ...any) ([]any, error) {
	rows, err := s.run.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Persistence(err, table, phase)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Persistence(err, table, phase)
		}
		if len(values) == 1 && values[0] != nil {
			out = append(out, values[0])
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, table, phase)
	}
	return out, nil
}

// DeleteLinks deletes by chunks of an ANY($1) array parameter.
func (s *pgSession) DeleteLinks(ctx context.Context, table, column string, links []any) (int64, error) {
	t := s.table(table)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1)", t, pgx.Identifier{column}.Sanitize())

	var total int64
	for _, chunk := range chunks(links, s.cfg.deleteChunk()) {
		n, err := s.exec(ctx, t, q, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Append loads rows with COPY FROM.
func (s *pgSession) Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := s.run.CopyFrom(ctx, s.ident(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, errors.Persistence(err, s.table(table), "insert")
	}
	return n, nil
}

// postgresDSN returns cfg.DSN or a postgres:// URL built from the fields.
func postgresDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + strings.TrimPrefix(cfg.Database, "/"),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

var _ Store = (*PostgresStore)(nil)
