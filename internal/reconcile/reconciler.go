// Package reconcile makes the warehouse rows of one tenant and one entity
// match a freshly extracted table by delete-then-insert.
//
// Scoping of the delete depends on the entity kind:
//
//   - independent and parent entities drop every row carrying the tenant key
//   - windowed entities drop only the tenant's rows inside the window
//   - nested entities carry no tenant key, so the rows to drop are the
//     children linked to a parent the tenant owns now, plus children linked
//     to a parent the tenant owned before its parent was reconciled
//
// Nested entities must be reconciled after their parent for the same
// tenant. The parent reconciliation returns the identities it replaced in
// Result.Keys; the caller hands them to the children through Scope.
//
// Children whose parent is gone for every tenant are only swept when
// Options.SweepOrphans is set. That sweep reads other tenants' gaps and is
// unsafe while tenants are reconciled concurrently.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/extract"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
	"github.com/ajitpratap0/deanslist-sync/pkg/warehouse"
)

// Options configures a Reconciler.
type Options struct {
	// TablePrefix is prepended to entity names to form table names.
	TablePrefix string
	// Transactional wraps each entity's delete and insert in one transaction.
	Transactional bool
	// SweepOrphans also deletes nested rows whose parent no longer exists.
	SweepOrphans bool
}

// Scope narrows one reconciliation.
type Scope struct {
	// Window scopes the delete of windowed entities and is required for them.
	Window *entity.Window
	// ParentKeys are the parent identities the tenant owned before its
	// parent entity was reconciled in this run.
	ParentKeys []any
}

// Result describes one reconciliation.
type Result struct {
	Entity   string
	Table    string
	Deleted  int64
	Inserted int64
	Duration time.Duration
	// Keys holds the identities the tenant owned before the delete. Set for
	// parent entities only.
	Keys []any
}

// Reconciler performs delete-then-insert against a warehouse store.
type Reconciler struct {
	store   warehouse.Store
	catalog *entity.Catalog
	opts    Options
}

// New creates a Reconciler. The catalog resolves parent definitions of
// nested entities.
func New(store warehouse.Store, catalog *entity.Catalog, opts Options) *Reconciler {
	return &Reconciler{store: store, catalog: catalog, opts: opts}
}

// Table returns the warehouse table of def.
func (r *Reconciler) Table(def *entity.Definition) string {
	return def.Table(r.opts.TablePrefix)
}

// Reconcile replaces tenant's rows of def with table. The returned
// Inserted count is authoritative for the run counters regardless of how
// many rows were deleted.
//
// A failed insert after a successful delete is returned as a persistence
// error with phase=insert and a deleted detail: the tenant's rows for this
// entity are gone until the next successful run.
func (r *Reconciler) Reconcile(ctx context.Context, tenant entity.Tenant, def *entity.Definition, table *extract.Table, scope Scope) (Result, error) {
	start := time.Now()
	res := Result{Entity: def.Name, Table: r.Table(def)}
	log := logger.WithContext(ctx).With(zap.String("table", res.Table))

	if table == nil {
		table = &extract.Table{Entity: def.Name, Columns: def.StoredColumns()}
	}
	if table.Entity != def.Name {
		return res, errors.New(errors.ErrorTypeInternal,
			fmt.Sprintf("table for %s passed to reconcile %s", table.Entity, def.Name))
	}
	if def.Windowed && scope.Window == nil {
		return res, errors.New(errors.ErrorTypeInternal, fmt.Sprintf("windowed entity %s reconciled without a window", def.Name))
	}

	run := func(s warehouse.Session) error {
		if def.Kind() == entity.KindParent {
			keys, err := s.TenantKeys(ctx, r.keyQuery(tenant, def, scope.Window))
			if err != nil {
				return err
			}
			res.Keys = keys
		}

		deleted, err := r.delete(ctx, s, tenant, def, scope)
		if err != nil {
			return err
		}
		res.Deleted = deleted

		inserted, err := s.Append(ctx, res.Table, table.Columns, table.Rows)
		if err != nil {
			return insertFailed(err, res.Table, deleted)
		}
		res.Inserted = inserted
		return nil
	}

	var err error
	if r.opts.Transactional {
		err = r.store.Transact(ctx, run)
	} else {
		err = run(r.store)
	}
	res.Duration = time.Since(start)
	if err != nil {
		if r.opts.Transactional {
			// Rolled back: nothing was deleted after all.
			res.Deleted = 0
		}
		return res, err
	}

	log.Info("reconciled",
		zap.Int64("deleted", res.Deleted),
		zap.Int64("inserted", res.Inserted),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *Reconciler) keyQuery(tenant entity.Tenant, def *entity.Definition, window *entity.Window) warehouse.KeyQuery {
	q := warehouse.KeyQuery{
		Table:        r.Table(def),
		Identity:     def.IdentityColumn,
		TenantColumn: entity.TenantColumn,
		TenantKey:    tenant.APIKey,
	}
	if def.Windowed {
		q.WindowColumn = def.WindowColumn
		q.Window = window
	}
	return q
}

func (r *Reconciler) delete(ctx context.Context, s warehouse.Session, tenant entity.Tenant, def *entity.Definition, scope Scope) (int64, error) {
	table := r.Table(def)

	switch {
	case def.IsNested():
		parent, ok := r.catalog.Lookup(def.Parent)
		if !ok {
			return 0, errors.New(errors.ErrorTypeInternal, fmt.Sprintf("parent %s of %s is not in the catalog", def.Parent, def.Name))
		}
		links, err := s.NestedLinks(ctx, warehouse.NestedLinkQuery{
			Child:        table,
			LinkColumn:   def.LinkColumn,
			Parent:       r.Table(parent),
			Identity:     parent.IdentityColumn,
			TenantColumn: entity.TenantColumn,
			TenantKey:    tenant.APIKey,
			Orphans:      r.opts.SweepOrphans,
		})
		if err != nil {
			return 0, err
		}
		links = union(links, scope.ParentKeys)
		if len(links) == 0 {
			return 0, nil
		}
		return s.DeleteLinks(ctx, table, def.LinkColumn, links)

	case def.Windowed:
		return s.DeleteTenantWindow(ctx, table, entity.TenantColumn, tenant.APIKey, def.WindowColumn, *scope.Window)

	default:
		return s.DeleteTenant(ctx, table, entity.TenantColumn, tenant.APIKey)
	}
}

// union appends the values of b missing from a. Values are compared by
// their printed form since drivers differ in the integer types they return.
func union(a, b []any) []any {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, v := range append(append([]any(nil), a...), b...) {
		k := fmt.Sprint(v)
		if v == nil || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func insertFailed(err error, table string, deleted int64) error {
	var e *errors.Error
	if errors.As(err, &e) && e.Type == errors.ErrorTypePersistence {
		return e.WithDetail("phase", "insert").WithDetail("deleted", deleted)
	}
	return errors.Persistence(err, table, "insert").WithDetail("deleted", deleted)
}
