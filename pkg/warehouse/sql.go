package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Dialect captures the SQL differences between database/sql warehouses.
type Dialect struct {
	Name       string
	DriverName string
	// MaxParams bounds the placeholders of one statement.
	MaxParams   int
	quote       func(string) string
	placeholder func(n int) string
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string { return d.quote(ident) }

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

func question(int) string { return "?" }

// MySQL dialect.
var MySQL = Dialect{
	Name:        DriverMySQL,
	DriverName:  "mysql",
	MaxParams:   65535,
	quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	placeholder: question,
}

// Snowflake dialect.
var Snowflake = Dialect{
	Name:        DriverSnowflake,
	DriverName:  "snowflake",
	MaxParams:   16384,
	quote:       func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	placeholder: question,
}

// sqlRunner is satisfied by *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	cfg     Config
	dialect Dialect
	logger  *zap.Logger
	sqlSession
}

// OpenSQLStore opens and pings a database/sql warehouse.
func OpenSQLStore(ctx context.Context, cfg Config, d Dialect, logger *zap.Logger) (*SQLStore, error) {
	dsn, err := sqlDSN(cfg, d)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open warehouse connection")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	s := NewSQLStore(db, cfg, d, logger)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("connected to warehouse", zap.String("schema", cfg.Schema), zap.Int("max_conns", maxConns))
	return s, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, cfg Config, d Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:         db,
		cfg:        cfg,
		dialect:    d,
		logger:     logger,
		sqlSession: sqlSession{run: db, cfg: cfg, dialect: d},
	}
}

// Transact runs fn inside a database transaction.
func (s *SQLStore) Transact(ctx context.Context, fn func(Session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Persistence(err, "", "begin")
	}
	if err := fn(&sqlSession{run: tx, cfg: s.cfg, dialect: s.dialect}); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Error("rollback failed", zap.Error(rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Persistence(err, "", "commit")
	}
	return nil
}

// LoadTenants reads the roster table.
func (s *SQLStore) LoadTenants(ctx context.Context) ([]entity.Tenant, error) {
	table := s.cfg.rosterTable()
	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		s.dialect.Quote(rosterName), s.dialect.Quote(rosterKey), s.dialect.Quote(rosterActive), s.table(table))

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Persistence(err, s.table(table), "load tenants")
	}
	defer rows.Close()

	var out []entity.Tenant
	for rows.Next() {
		var t entity.Tenant
		var active any
		if err := rows.Scan(&t.Name, &t.APIKey, &active); err != nil {
			return nil, errors.Persistence(err, s.table(table), "load tenants")
		}
		t.Active = truthy(active)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, s.table(table), "load tenants")
	}
	return out, nil
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Persistence(err, "", "ping")
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlSession struct {
	run     sqlRunner
	cfg     Config
	dialect Dialect
}

func (s *sqlSession) table(name string) string {
	if s.cfg.Schema == "" {
		return s.dialect.Quote(name)
	}
	return s.dialect.Quote(s.cfg.Schema) + "." + s.dialect.Quote(name)
}

func (s *sqlSession) exec(ctx context.Context, table, phase, q string, args ...any) (int64, error) {
	res, err := s.run.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Persistence(err, table, phase)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; the statement itself succeeded.
		return 0, nil
	}
	return n, nil
}

func (s *sqlSession) DeleteTenant(ctx context.Context, table, tenantColumn, key string) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		s.table(table), s.dialect.Quote(tenantColumn), s.dialect.Placeholder(1))
	return s.exec(ctx, s.table(table), "delete", q, key)
}

func (s *sqlSession) DeleteTenantWindow(ctx context.Context, table, tenantColumn, key, windowColumn string, window entity.Window) (int64, error) {
	col := s.dialect.Quote(windowColumn)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s >= %s AND %s < %s",
		s.table(table), s.dialect.Quote(tenantColumn), s.dialect.Placeholder(1),
		col, s.dialect.Placeholder(2), col, s.dialect.Placeholder(3))
	lo, hi := windowBounds(window)
	return s.exec(ctx, s.table(table), "delete", q, key, lo, hi)
}

func (s *sqlSession) TenantKeys(ctx context.Context, kq KeyQuery) ([]any, error) {
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s = %s",
		s.dialect.Quote(kq.Identity), s.table(kq.Table), s.dialect.Quote(kq.TenantColumn), s.dialect.Placeholder(1))
	args := []any{kq.TenantKey}
	if kq.Window != nil {
		col := s.dialect.Quote(kq.WindowColumn)
		q += fmt.Sprintf(" AND %s >= %s AND %s < %s", col, s.dialect.Placeholder(2), col, s.dialect.Placeholder(3))
		lo, hi := windowBounds(*kq.Window)
		args = append(args, lo, hi)
	}
	return s.distinct(ctx, s.table(kq.Table), "select keys", q, args...)
}

func (s *sqlSession) NestedLinks(ctx context.Context, nq NestedLinkQuery) ([]any, error) {
	link := s.dialect.Quote(nq.LinkColumn)
	ident := s.dialect.Quote(nq.Identity)
	q := fmt.Sprintf("SELECT DISTINCT t.%s FROM %s t LEFT JOIN %s r ON r.%s = t.%s WHERE r.%s = %s",
		link, s.table(nq.Child), s.table(nq.Parent), ident, link,
		s.dialect.Quote(nq.TenantColumn), s.dialect.Placeholder(1))
	if nq.Orphans {
		q += fmt.Sprintf(" OR r.%s IS NULL", ident)
	}
	return s.distinct(ctx, s.table(nq.Child), "select links", q, nq.TenantKey)
}

// distinct runs a single-column query and drops NULLs. Text comes back
// from some drivers as []byte and is returned as string.
func (s *sqlSession) distinct(ctx context.Context, table, phase, q string, args ...any) ([]any, error) {
	rows, err := s.run.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Persistence(err, table, phase)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Persistence(err, table, phase)
		}
		switch x := v.(type) {
		case nil:
			continue
		case []byte:
			v = string(x)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence(err, table, phase)
	}
	return out, nil
}

func (s *sqlSession) DeleteLinks(ctx context.Context, table, column string, links []any) (int64, error) {
	var total int64
	for _, chunk := range chunks(links, s.cfg.deleteChunk()) {
		ph := make([]string, len(chunk))
		for i := range chunk {
			ph[i] = s.dialect.Placeholder(i + 1)
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			s.table(table), s.dialect.Quote(column), strings.Join(ph, ", "))
		n, err := s.exec(ctx, s.table(table), "delete", q, chunk...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Append inserts rows with multi-row INSERT statements sized to stay under
// the dialect's bind parameter limit.
func (s *sqlSession) Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.Quote(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", s.table(table), strings.Join(quoted, ", "))

	perStmt := s.dialect.MaxParams / len(columns)
	if perStmt > 1000 {
		perStmt = 1000
	}
	if perStmt < 1 {
		perStmt = 1
	}

	var inserted int64
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var b strings.Builder
		b.WriteString(prefix)
		args := make([]any, 0, len(batch)*len(columns))
		n := 1
		for r, row := range batch {
			if len(row) != len(columns) {
				return inserted, errors.Persistence(fmt.Errorf("row %d has %d values for %d columns", start+r, len(row), len(columns)), s.table(table), "insert")
			}
			if r > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for c := range row {
				if c > 0 {
					b.WriteString(", ")
				}
				b.WriteString(s.dialect.Placeholder(n))
				n++
			}
			b.WriteByte(')')
			args = append(args, row...)
		}

		if _, err := s.run.ExecContext(ctx, b.String(), args...); err != nil {
			return inserted, errors.Persistence(err, s.table(table), "insert")
		}
		inserted += int64(len(batch))
	}
	return inserted, nil
}

// sqlDSN returns cfg.DSN or builds one from the discrete fields.
func sqlDSN(cfg Config, d Dialect) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	switch d.Name {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case DriverSnowflake:
		if cfg.Account == "" {
			return "", errors.Configuration("snowflake warehouse needs an account or a dsn")
		}
		dsn, err := sf.DSN(&sf.Config{
			Account:   cfg.Account,
			User:      cfg.User,
			Password:  cfg.Password,
			Database:  cfg.Database,
			Schema:    cfg.Schema,
			Warehouse: cfg.Warehouse,
			Role:      cfg.Role,
		})
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake settings")
		}
		return dsn, nil
	default:
		return "", errors.Configuration(fmt.Sprintf("%s warehouse needs a dsn", d.Name))
	}
}

var _ Store = (*SQLStore)(nil)
