// Package pipeline runs a sync: for every selected tenant it fetches each
// entity from DeansList, extracts warehouse rows and reconciles them.
//
// # Overview
//
// Entities run in dependency order, so a nested entity is always reconciled
// right after its parent for the same tenant. Nested entities are never
// fetched; their rows come from the parent's payload.
//
// A full run covers every entity, with windowed entities limited to the
// current calendar month. A backfill run passes an explicit window and
// covers the windowed entities only.
//
// The first failure aborts the whole run. With more than one worker,
// tenants are processed concurrently and the first failure cancels the
// tenants still in flight.
//
// # Basic Usage
//
//	orch := pipeline.NewOrchestrator(fetcher, reconciler, catalog, pipeline.Options{Workers: 4})
//	counters, err := orch.Run(ctx, tenants, nil)
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/deanslist-sync/internal/reconcile"
	"github.com/ajitpratap0/deanslist-sync/pkg/archive"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/extract"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
	"github.com/ajitpratap0/deanslist-sync/pkg/metrics"
	"github.com/ajitpratap0/deanslist-sync/pkg/observability"
	"github.com/ajitpratap0/deanslist-sync/pkg/source"
)

// Options configures an Orchestrator.
type Options struct {
	// Workers is the number of tenants processed at once. Values below 2
	// process tenants sequentially.
	Workers int
	// Archiver receives every fetched payload. Defaults to archive.Nop.
	Archiver archive.Archiver
	// Metrics records fetch and reconcile metrics. Defaults to a private
	// recorder.
	Metrics *metrics.Recorder
	// Now returns the current time; it picks the month of a full run.
	Now func() time.Time
}

// Orchestrator schedules fetch, extract and reconcile for a set of tenants.
type Orchestrator struct {
	fetcher    source.Fetcher
	reconciler *reconcile.Reconciler
	catalog    *entity.Catalog
	opts       Options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(fetcher source.Fetcher, reconciler *reconcile.Reconciler, catalog *entity.Catalog, opts Options) *Orchestrator {
	if opts.Archiver == nil {
		opts.Archiver = archive.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{fetcher: fetcher, reconciler: reconciler, catalog: catalog, opts: opts}
}

// Plan is the ordered entity list of one run and the window applied to
// its windowed entities.
type Plan struct {
	Entities []*entity.Definition
	Window   entity.Window
	Backfill bool
}

// Plan resolves the entities and window of a run. A nil override yields a
// full run over the current month.
func (o *Orchestrator) Plan(override *entity.Window) (Plan, error) {
	schedule, err := o.catalog.Schedule()
	if err != nil {
		return Plan{}, err
	}
	if override == nil {
		return Plan{Entities: schedule, Window: entity.MonthOf(o.opts.Now())}, nil
	}

	var windowed []*entity.Definition
	for _, def := range schedule {
		if def.Windowed {
			windowed = append(windowed, def)
		}
	}
	return Plan{Entities: windowed, Window: *override, Backfill: true}, nil
}

// Run syncs every tenant and returns the rows inserted per entity. On
// failure the counters hold whatever completed before the abort.
func (o *Orchestrator) Run(ctx context.Context, tenants []entity.Tenant, override *entity.Window) (*RunCounters, error) {
	counters := NewRunCounters()
	plan, err := o.Plan(override)
	if err != nil {
		return counters, err
	}

	log := logger.WithContext(ctx)
	names := make([]string, len(plan.Entities))
	for i, def := range plan.Entities {
		names[i] = def.Name
	}
	log.Info("starting sync",
		zap.Int("tenants", len(tenants)),
		zap.Strings("entities", names),
		zap.Stringer("window", plan.Window),
		zap.Bool("backfill", plan.Backfill),
		zap.Int("workers", o.opts.Workers))

	if o.opts.Workers < 2 {
		for _, t := range tenants {
			if err := o.runTenant(ctx, t, plan, counters); err != nil {
				return counters, err
			}
		}
		return counters, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, t := range tenants {
		t := t
		g.Go(func() error {
			return o.runTenant(gctx, t, plan, counters)
		})
	}
	return counters, g.Wait()
}

func (o *Orchestrator) runTenant(ctx context.Context, tenant entity.Tenant, plan Plan, counters *RunCounters) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, logger.TenantKey, tenant.Name)
	ctx, span := observability.StartSpan(ctx, "sync.tenant", observability.AttrTenant.String(tenant.Name))
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	state := &tenantState{
		payloads: make(map[string]*source.RecordSet, len(plan.Entities)),
		keys:     make(map[string][]any),
	}

	for _, def := range plan.Entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runEntity(ctx, tenant, def, plan.Window, state, counters); err != nil {
			return withTenant(err, tenant.Name)
		}
	}

	counters.TenantDone()
	o.opts.Metrics.TenantDone()
	logger.WithContext(ctx).Info("tenant synced", zap.Duration("duration", time.Since(start)))
	return nil
}

// tenantState carries what parent entities hand to their nested children
// within one tenant.
type tenantState struct {
	// payloads of parent entities, reused instead of a second fetch
	payloads map[string]*source.RecordSet
	// keys are the parent identities the tenant owned before the parent
	// was reconciled
	keys map[string][]any
}

func (o *Orchestrator) runEntity(ctx context.Context, tenant entity.Tenant, def *entity.Definition, window entity.Window, state *tenantState, counters *RunCounters) (err error) {
	ctx = context.WithValue(ctx, logger.EntityKey, def.Name)
	ctx, span := observability.StartSpan(ctx, "sync.entity", observability.AttrEntity.String(def.Name))
	defer func() { observability.EndSpan(span, err) }()

	var table *extract.Table
	var scope reconcile.Scope
	if def.IsNested() {
		rs, ok := state.payloads[def.Parent]
		if !ok {
			return errors.New(errors.ErrorTypeInternal,
				fmt.Sprintf("%s scheduled before its parent %s", def.Name, def.Parent))
		}
		table, err = extract.NestedRows(rs.Data, def)
		if err != nil {
			return err
		}
		scope.ParentKeys = state.keys[def.Parent]
	} else {
		rs, err := o.fetch(ctx, tenant, def, window)
		if err != nil {
			return err
		}
		state.payloads[def.Name] = rs
		span.SetAttributes(observability.AttrRecords.Int(rs.Len()))

		table, err = extract.ParentRows(rs.Data, def, tenant.APIKey)
		if err != nil {
			return err
		}
	}

	if def.Windowed {
		scope.Window = &window
	}
	res, err := o.reconciler.Reconcile(ctx, tenant, def, table, scope)
	o.opts.Metrics.ObserveReconcile(tenant.Name, def.Name, res.Deleted, res.Inserted, res.Duration)
	if err != nil {
		return err
	}
	if res.Keys != nil {
		state.keys[def.Name] = res.Keys
	}
	span.SetAttributes(
		observability.AttrDeleted.Int64(res.Deleted),
		observability.AttrInserted.Int64(res.Inserted))

	counters.Add(def.Name, res.Inserted)
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, tenant entity.Tenant, def *entity.Definition, window entity.Window) (*source.RecordSet, error) {
	start := time.Now()
	rs, err := o.fetcher.Fetch(ctx, tenant, def, &window)
	o.opts.Metrics.ObserveFetch(tenant.Name, def.Name, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	runID, _ := ctx.Value(logger.RunIDKey).(string)
	obj := archive.Object{RunID: runID, Tenant: tenant.Name, Entity: def.Name, Records: rs.Len(), Payload: rs.Raw}
	if err := o.opts.Archiver.Archive(ctx, obj); err != nil {
		// The archive is an audit copy; the warehouse is still updated.
		logger.WithContext(ctx).Warn("failed to archive payload", zap.Error(err))
	}
	return rs, nil
}

// withTenant tags err with the tenant name unless it already carries one.
func withTenant(err error, tenant string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if _, ok := e.Details["tenant"]; !ok {
			e.WithDetail("tenant", tenant)
		}
		return e
	}
	return err
}
