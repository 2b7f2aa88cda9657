// Package warehouse implements the relational side of a sync run: scoped
// deletes, bulk appends and the tenant roster lookup. Postgres is served
// through pgx, MySQL and Snowflake through database/sql, and an in-memory
// store backs dry runs and tests.
package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Supported drivers.
const (
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSnowflake = "snowflake"
	DriverMemory    = "memory"
)

const defaultDeleteChunk = 500

// Config selects and configures the warehouse connection.
type Config struct {
	Driver string `yaml:"driver"`
	// DSN takes precedence over the discrete connection fields below.
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// Snowflake only.
	Account   string `yaml:"account"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`

	Schema      string `yaml:"schema"`
	TablePrefix string `yaml:"table_prefix"`
	RosterTable string `yaml:"roster_table"`

	// Transactional wraps each entity's delete and insert in one transaction.
	Transactional bool `yaml:"transactional"`

	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	DeleteChunkSize int           `yaml:"delete_chunk_size"`
}

// NestedLinkQuery finds the parent-link values of Child rows that belong
// to TenantKey through Parent. With Orphans set it also returns links whose
// parent row no longer exists for any tenant; that arm is only safe while
// no other tenant is being reconciled.
type NestedLinkQuery struct {
	Child        string
	LinkColumn   string
	Parent       string
	Identity     string
	TenantColumn string
	TenantKey    string
	Orphans      bool
}

// KeyQuery selects the distinct Identity values of a tenant's rows in
// Table, restricted to Window on WindowColumn when Window is set.
type KeyQuery struct {
	Table        string
	Identity     string
	TenantColumn string
	TenantKey    string
	WindowColumn string
	Window       *entity.Window
}

// Session is the statement surface used to reconcile one entity. Table
// names are unqualified; the store applies its schema.
type Session interface {
	// DeleteTenant removes every row of table whose tenantColumn equals key.
	DeleteTenant(ctx context.Context, table, tenantColumn, key string) (int64, error)
	// DeleteTenantWindow removes the tenant's rows whose windowColumn lies
	// in the inclusive window.
	DeleteTenantWindow(ctx context.Context, table, tenantColumn, key, windowColumn string, window entity.Window) (int64, error)
	// TenantKeys returns the distinct identity values selected by q.
	TenantKeys(ctx context.Context, q KeyQuery) ([]any, error)
	// NestedLinks returns the distinct link values selected by q.
	NestedLinks(ctx context.Context, q NestedLinkQuery) ([]any, error)
	// DeleteLinks removes rows of table whose column value is in links.
	DeleteLinks(ctx context.Context, table, column string, links []any) (int64, error)
	// Append bulk inserts rows. Every row has len(columns) values.
	Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Store is a warehouse connection shared by the whole run.
type Store interface {
	Session
	// Transact runs fn in one transaction, committing when fn returns nil.
	Transact(ctx context.Context, fn func(Session) error) error
	// LoadTenants reads the tenant roster table.
	LoadTenants(ctx context.Context) ([]entity.Tenant, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured warehouse.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "warehouse"), zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg, logger)
	case DriverMySQL:
		return OpenSQLStore(ctx, cfg, MySQL, logger)
	case DriverSnowflake:
		return OpenSQLStore(ctx, cfg, Snowflake, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.Configuration(fmt.Sprintf("unsupported warehouse driver %q", cfg.Driver))
	}
}

func (c Config) deleteChunk() int {
	if c.DeleteChunkSize > 0 {
		return c.DeleteChunkSize
	}
	return defaultDeleteChunk
}

func (c Config) rosterTable() string {
	if c.RosterTable != "" {
		return c.RosterTable
	}
	return "DeansList_Schools"
}

// roster columns
const (
	rosterName   = "SchoolName"
	rosterKey    = entity.TenantColumn
	rosterActive = "Active"
)

// chunks splits values into slices of at most n.
func chunks(values []any, n int) [][]any {
	var out [][]any
	for len(values) > n {
		out = append(out, values[:n])
		values = values[n:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

// truthy interprets a roster Active value, which may be stored as a
// boolean, a number or text depending on the warehouse.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case int32:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	case []byte:
		return truthy(string(x))
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s == "y" || s == "yes"
	default:
		return false
	}
}

// windowBounds renders the half-open range [start, until) compared in SQL.
func windowBounds(w entity.Window) (string, string) {
	return w.StartString(), w.UntilString()
}
