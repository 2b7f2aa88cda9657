package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/internal/reconcile"
	"github.com/ajitpratap0/deanslist-sync/pkg/archive"
	"github.com/ajitpratap0/deanslist-sync/pkg/clients"
	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/logger"
	"github.com/ajitpratap0/deanslist-sync/pkg/metrics"
	"github.com/ajitpratap0/deanslist-sync/pkg/notify"
	"github.com/ajitpratap0/deanslist-sync/pkg/observability"
	"github.com/ajitpratap0/deanslist-sync/pkg/source"
	"github.com/ajitpratap0/deanslist-sync/pkg/warehouse"
)

// Deps are the collaborators of a Runner.
type Deps struct {
	Store    warehouse.Store
	Fetcher  source.Fetcher
	Catalog  *entity.Catalog
	Notifier notify.Notifier
	Archiver archive.Archiver
	Metrics  *metrics.Recorder
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Roster is a static tenant list. When empty the warehouse roster
	// table is read.
	Roster        []entity.Tenant
	Workers       int
	TablePrefix   string
	Transactional bool
	Metrics       metrics.Config
	Now           func() time.Time
}

// Request selects what one run covers.
type Request struct {
	// Tenants restricts the run to these names. Empty means every active
	// tenant.
	Tenants []string
	// Window turns the run into a backfill of windowed entities.
	Window *entity.Window
}

// Outcome describes a finished run, successful or not.
type Outcome struct {
	RunID    string
	Lines    []ReportLine
	Counters *RunCounters
	Duration time.Duration
}

// Runner executes one sync run end to end and reports its outcome.
type Runner struct {
	deps Deps
	cfg  RunnerConfig
	orch *Orchestrator
}

// NewRunner wires a Runner. Nil Notifier, Archiver and Metrics fall back to
// a log notifier, no archive and a private recorder.
func NewRunner(deps Deps, cfg RunnerConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = logger.Get()
	}
	if deps.Catalog == nil {
		deps.Catalog = entity.DefaultCatalog()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(log)
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder()
	}

	rec := reconcile.New(deps.Store, deps.Catalog, reconcile.Options{
		TablePrefix:   cfg.TablePrefix,
		Transactional: cfg.Transactional,
		// The orphan sweep sees other tenants mid-reconcile.
		SweepOrphans:  cfg.Workers < 2,
	})
	orch := NewOrchestrator(deps.Fetcher, rec, deps.Catalog, Options{
		Workers:  cfg.Workers,
		Archiver: deps.Archiver,
		Metrics:  deps.Metrics,
		Now:      cfg.Now,
	})
	return &Runner{deps: deps, cfg: cfg, orch: orch}
}

// Execute runs a sync. Every failure ends up here: it is logged with its
// details, reported through the notifier and returned.
func (r *Runner) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: uuid.NewString(), Counters: NewRunCounters()}

	ctx = context.WithValue(ctx, logger.RunIDKey, out.RunID)
	ctx, span := observability.StartSpan(ctx, "sync.run", observability.AttrRunID.String(out.RunID))
	log := logger.WithContext(ctx)

	err := r.run(ctx, req, out)
	out.Duration = time.Since(start)
	out.Lines = Report(r.deps.Catalog, out.Counters)
	LogReport(log, out.Lines)
	if s, ok := r.deps.Fetcher.(interface{ Stats() clients.HTTPStats }); ok {
		st := s.Stats()
		log.Info("source requests",
			zap.Int64("total", st.TotalRequests),
			zap.Int64("failed", st.FailedRequests),
			zap.Duration("avg_latency", st.AverageLatency),
			zap.Duration("p95_latency", st.P95Latency))
	}

	// Reporting must still happen when the run was cancelled.
	rctx := context.WithoutCancel(ctx)

	r.deps.Metrics.RunFinished(err)
	if perr := r.deps.Metrics.Push(rctx, r.cfg.Metrics.PushURL, r.cfg.Metrics.Job); perr != nil {
		log.Warn("failed to push metrics", zap.Error(perr))
	}

	report := notify.Report{Success: err == nil, Summary: Summary(out.Lines)}
	if err != nil {
		report.Error = describe(err)
		log.Error("sync failed",
			zap.Error(err),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.String("details", details(err)),
			zap.Duration("duration", out.Duration))
	} else {
		log.Info("sync completed",
			zap.Int("tenants", out.Counters.Tenants()),
			zap.Duration("duration", out.Duration))
	}

	if nerr := r.deps.Notifier.Notify(rctx, report); nerr != nil {
		log.Error("failed to send notification", zap.Error(nerr))
	}

	observability.EndSpan(span, err)
	return out, err
}

func (r *Runner) run(ctx context.Context, req Request, out *Outcome) error {
	roster, err := r.roster(ctx)
	if err != nil {
		return err
	}
	tenants, err := entity.SelectTenants(roster, req.Tenants)
	if err != nil {
		return err
	}

	counters, err := r.orch.Run(ctx, tenants, req.Window)
	if counters != nil {
		out.Counters = counters
	}
	return err
}

// Roster returns the tenant roster, static or from the warehouse.
func (r *Runner) Roster(ctx context.Context) ([]entity.Tenant, error) {
	return r.roster(ctx)
}

func (r *Runner) roster(ctx context.Context) ([]entity.Tenant, error) {
	if len(r.cfg.Roster) > 0 {
		return r.cfg.Roster, nil
	}
	tenants, err := r.deps.Store.LoadTenants(ctx)
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

// Close releases the store and source connections.
func (r *Runner) Close() error {
	var first error
	if c, ok := r.deps.Fetcher.(interface{ Close() error }); ok {
		first = c.Close()
	}
	if r.deps.Store != nil {
		if err := r.deps.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func details(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.DetailString()
	}
	return ""
}

func describe(err error) string {
	if d := details(err); d != "" {
		return err.Error() + " (" + d + ")"
	}
	return err.Error()
}
