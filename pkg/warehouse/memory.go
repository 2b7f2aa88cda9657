package warehouse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// MemoryStore keeps tables in process memory. It backs the memory driver
// for dry runs and is the reference Store in tests.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	tenants []entity.Tenant

	// FailAppend, when set, is returned by Append for the named table.
	FailAppend map[string]error
}

type memTable struct {
	columns []string
	rows    [][]any
}

func (t *memTable) index(col string) int {
	for i, c := range t.columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (t *memTable) clone() *memTable {
	rows := make([][]any, len(t.rows))
	for i, r := range t.rows {
		rows[i] = append([]any(nil), r...)
	}
	return &memTable{columns: append([]string(nil), t.columns...), rows: rows}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(tenants ...entity.Tenant) *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memTable), tenants: tenants}
}

// SetTenants replaces the roster.
func (m *MemoryStore) SetTenants(tenants []entity.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = append([]entity.Tenant(nil), tenants...)
}

// Rows returns a copy of table's rows as column maps.
func (m *MemoryStore) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		row := make(map[string]any, len(t.columns))
		for c, col := range t.columns {
			row[col] = r[c]
		}
		out[i] = row
	}
	return out
}

// Seed appends rows without going through a session.
func (m *MemoryStore) Seed(table string, columns []string, rows ...[]any) {
	_, _ = m.Append(context.Background(), table, columns, rows)
}

func (m *MemoryStore) session() *memSession {
	return &memSession{store: m, tables: m.tables}
}

func (m *MemoryStore) DeleteTenant(ctx context.Context, table, tenantColumn, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().DeleteTenant(ctx, table, tenantColumn, key)
}

func (m *MemoryStore) DeleteTenantWindow(ctx context.Context, table, tenantColumn, key, windowColumn string, window entity.Window) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().DeleteTenantWindow(ctx, table, tenantColumn, key, windowColumn, window)
}

func (m *MemoryStore) TenantKeys(ctx context.Context, q KeyQuery) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().TenantKeys(ctx, q)
}

func (m *MemoryStore) NestedLinks(ctx context.Context, q NestedLinkQuery) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().NestedLinks(ctx, q)
}

func (m *MemoryStore) DeleteLinks(ctx context.Context, table, column string, links []any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().DeleteLinks(ctx, table, column, links)
}

func (m *MemoryStore) Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session().Append(ctx, table, columns, rows)
}

// Transact runs fn against a copy of the tables and swaps it in on success.
func (m *MemoryStore) Transact(ctx context.Context, fn func(Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]*memTable, len(m.tables))
	for name, t := range m.tables {
		snapshot[name] = t.clone()
	}
	if err := fn(&memSession{store: m, tables: snapshot}); err != nil {
		return err
	}
	m.tables = snapshot
	return nil
}

// LoadTenants returns the configured roster.
func (m *MemoryStore) LoadTenants(context.Context) ([]entity.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.Tenant(nil), m.tenants...), nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// memSession operates on a table map; the caller holds the store lock.
type memSession struct {
	store  *MemoryStore
	tables map[string]*memTable
}

func (s *memSession) column(table, col string) (*memTable, int, error) {
	t, ok := s.tables[table]
	if !ok {
		return nil, -1, nil
	}
	idx := t.index(col)
	if idx < 0 {
		return nil, -1, errors.Persistence(fmt.Errorf("column %s does not exist", col), table, "delete")
	}
	return t, idx, nil
}

func (s *memSession) deleteWhere(t *memTable, keep func([]any) bool) int64 {
	kept := t.rows[:0]
	var deleted int64
	for _, r := range t.rows {
		if keep(r) {
			kept = append(kept, r)
		} else {
			deleted++
		}
	}
	t.rows = kept
	return deleted
}

func (s *memSession) DeleteTenant(_ context.Context, table, tenantColumn, key string) (int64, error) {
	t, idx, err := s.column(table, tenantColumn)
	if t == nil {
		return 0, err
	}
	return s.deleteWhere(t, func(r []any) bool { return !same(r[idx], key) }), nil
}

func (s *memSession) DeleteTenantWindow(_ context.Context, table, tenantColumn, key, windowColumn string, window entity.Window) (int64, error) {
	t, idx, err := s.column(table, tenantColumn)
	if t == nil {
		return 0, err
	}
	widx := t.index(windowColumn)
	if widx < 0 {
		return 0, errors.Persistence(fmt.Errorf("column %s does not exist", windowColumn), table, "delete")
	}
	lo, hi := windowBounds(window)
	return s.deleteWhere(t, func(r []any) bool {
		if !same(r[idx], key) {
			return true
		}
		d, ok := dateText(r[widx])
		return !inWindow(d, ok, lo, hi)
	}), nil
}

// inWindow mirrors the SQL range predicate on a date prefix: a NULL date
// never matches.
func inWindow(d string, ok bool, lo, until string) bool {
	return ok && d >= lo && d < until
}

func (s *memSession) TenantKeys(_ context.Context, q KeyQuery) ([]any, error) {
	t, ok := s.tables[q.Table]
	if !ok {
		return nil, nil
	}
	iidx, tidx := t.index(q.Identity), t.index(q.TenantColumn)
	if iidx < 0 || tidx < 0 {
		return nil, errors.Persistence(fmt.Errorf("table lacks %s or %s", q.Identity, q.TenantColumn), q.Table, "select keys")
	}
	widx := -1
	if q.Window != nil {
		if widx = t.index(q.WindowColumn); widx < 0 {
			return nil, errors.Persistence(fmt.Errorf("column %s does not exist", q.WindowColumn), q.Table, "select keys")
		}
	}

	var lo, hi string
	if q.Window != nil {
		lo, hi = windowBounds(*q.Window)
	}
	seen := make(map[string]bool)
	var out []any
	for _, r := range t.rows {
		if r[iidx] == nil || !same(r[tidx], q.TenantKey) {
			continue
		}
		if widx >= 0 {
			d, ok := dateText(r[widx])
			if !inWindow(d, ok, lo, hi) {
				continue
			}
		}
		if k := keyOf(r[iidx]); !seen[k] {
			seen[k] = true
			out = append(out, r[iidx])
		}
	}
	return out, nil
}

func (s *memSession) NestedLinks(_ context.Context, q NestedLinkQuery) ([]any, error) {
	child, ok := s.tables[q.Child]
	if !ok {
		return nil, nil
	}
	lidx := child.index(q.LinkColumn)
	if lidx < 0 {
		return nil, errors.Persistence(fmt.Errorf("column %s does not exist", q.LinkColumn), q.Child, "select links")
	}

	// identity value -> tenant keys of parent rows with that identity
	owners := make(map[string][]any)
	if parent, ok := s.tables[q.Parent]; ok {
		iidx, tidx := parent.index(q.Identity), parent.index(q.TenantColumn)
		if iidx < 0 || tidx < 0 {
			return nil, errors.Persistence(fmt.Errorf("parent %s lacks %s or %s", q.Parent, q.Identity, q.TenantColumn), q.Child, "select links")
		}
		for _, r := range parent.rows {
			if r[iidx] == nil {
				continue
			}
			k := keyOf(r[iidx])
			owners[k] = append(owners[k], r[tidx])
		}
	}

	seen := make(map[string]bool)
	var out []any
	for _, r := range child.rows {
		link := r[lidx]
		if link == nil {
			continue
		}
		k := keyOf(link)
		if seen[k] {
			continue
		}
		tenants, hasParent := owners[k]
		match := q.Orphans && !hasParent
		for _, t := range tenants {
			if same(t, q.TenantKey) {
				match = true
			}
		}
		if match {
			seen[k] = true
			out = append(out, link)
		}
	}
	return out, nil
}

func (s *memSession) DeleteLinks(_ context.Context, table, column string, links []any) (int64, error) {
	t, idx, err := s.column(table, column)
	if t == nil {
		return 0, err
	}
	set := make(map[string]bool, len(links))
	for _, l := range links {
		set[keyOf(l)] = true
	}
	return s.deleteWhere(t, func(r []any) bool { return r[idx] == nil || !set[keyOf(r[idx])] }), nil
}

func (s *memSession) Append(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if err := s.store.FailAppend[table]; err != nil {
		return 0, errors.Persistence(err, table, "insert")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	t, ok := s.tables[table]
	if !ok {
		t = &memTable{columns: append([]string(nil), columns...)}
		s.tables[table] = t
	}
	positions := make([]int, len(columns))
	for i, c := range columns {
		positions[i] = t.index(c)
		if positions[i] < 0 {
			return 0, errors.Persistence(fmt.Errorf("column %s does not exist", c), table, "insert")
		}
	}

	for i, r := range rows {
		if len(r) != len(columns) {
			return 0, errors.Persistence(fmt.Errorf("row %d has %d values for %d columns", i, len(r), len(columns)), table, "insert")
		}
	}
	for _, r := range rows {
		row := make([]any, len(t.columns))
		for i, v := range r {
			row[positions[i]] = v
		}
		t.rows = append(t.rows, row)
	}
	return int64(len(rows)), nil
}

// Tables lists table names, sorted.
func (m *MemoryStore) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func keyOf(v any) string {
	return fmt.Sprintf("%v", v)
}

func same(a any, b string) bool {
	return a != nil && keyOf(a) == b
}

// dateText returns the YYYY-MM-DD prefix of a stored date value.
func dateText(v any) (string, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.Format(entity.DateLayout), true
	case string:
		if len(x) >= len(entity.DateLayout) {
			return x[:len(entity.DateLayout)], true
		}
		return x, x != ""
	default:
		return "", false
	}
}

var _ Store = (*MemoryStore)(nil)
