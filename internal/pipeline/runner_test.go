package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
	"github.com/ajitpratap0/deanslist-sync/pkg/notify"
	"github.com/ajitpratap0/deanslist-sync/pkg/source"
	"github.com/ajitpratap0/deanslist-sync/pkg/testutil"
	"github.com/ajitpratap0/deanslist-sync/pkg/warehouse"
)

const (
	incidentsPath = "/api/v1/incidents"
	commPath      = "/api/beta/export/get-comm-data.php"
	behaviorPath  = "/api/beta/export/get-behavior-data.php"

	prefix = "DeansList_"
)

var bayviewIncidents = incidentsPayload(100)

// incidentsPayload returns two incidents numbered base+1 and base+2 with
// two actions and one penalty on the first.
func incidentsPayload(base int) string {
	return fmt.Sprintf(`{"data": [
  {"IncidentID": %[1]d, "SchoolID": 1, "StudentID": 1,
   "Actions": [{"ActionID": %[1]d1, "SourceID": %[1]d}, {"ActionID": %[1]d2, "SourceID": %[1]d}],
   "Penalties": [{"IncidentPenaltyID": %[1]d7, "IncidentID": %[1]d}]},
  {"IncidentID": %[2]d, "SchoolID": 1, "StudentID": 2, "Actions": [], "Penalties": []}
]}`, base+1, base+2)
}

var (
	bayview  = entity.Tenant{Name: "Bayview", APIKey: "bayview-key", Active: true}
	eastlake = entity.Tenant{Name: "Eastlake", APIKey: "eastlake-key", Active: true}
	closed   = entity.Tenant{Name: "Closed", APIKey: "closed-key", Active: false}

	march = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu      sync.Mutex
	reports []notify.Report
}

func (n *recordingNotifier) Notify(_ context.Context, r notify.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, r)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) notify.Report {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.reports)
	return n.reports[len(n.reports)-1]
}

type harness struct {
	api      *testutil.FakeDeansList
	store    *warehouse.MemoryStore
	notifier *recordingNotifier
	runner   *Runner
}

func newHarness(t *testing.T, workers int, roster ...entity.Tenant) *harness {
	t.Helper()
	log := testutil.TestLogger(t)
	api := testutil.NewFakeDeansList(t)

	fetcher, err := source.NewDeansList(source.Config{BaseURL: api.URL()}, log)
	require.NoError(t, err)

	store := warehouse.NewMemoryStore(roster...)
	n := &recordingNotifier{}
	runner := NewRunner(Deps{
		Store:    store,
		Fetcher:  fetcher,
		Notifier: n,
	}, RunnerConfig{
		Workers:     workers,
		TablePrefix: prefix,
		Now:         func() time.Time { return march },
	}, log)
	t.Cleanup(func() { _ = runner.Close() })

	return &harness{api: api, store: store, notifier: n, runner: runner}
}

func (h *harness) paths() []string {
	var out []string
	for _, r := range h.api.Requests() {
		out = append(out, r.APIKey+" "+r.Path)
	}
	return out
}

func counts(lines []ReportLine) map[string]int64 {
	out := make(map[string]int64, len(lines))
	for _, l := range lines {
		out[l.Entity] = l.Inserted
	}
	return out
}

func TestRunner_FullRun(t *testing.T) {
	h := newHarness(t, 1, bayview)
	h.api.Serve(bayview.APIKey, incidentsPath, bayviewIncidents)

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	out, err := h.runner.Execute(ctx, Request{})
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		entity.Incidents:      2,
		entity.Actions:        2,
		entity.Penalties:      1,
		entity.Communications: 0,
		entity.Behaviors:      0,
	}, counts(out.Lines))
	assert.NotEmpty(t, out.RunID)

	// Nested entities reuse the Incidents payload.
	assert.Equal(t, []string{
		"bayview-key " + incidentsPath,
		"bayview-key " + commPath,
		"bayview-key " + behaviorPath,
	}, h.paths())

	reqs := h.api.Requests()
	assert.Empty(t, reqs[0].Start, "only windowed entities send a window")
	assert.Equal(t, "2024-03-01", reqs[2].Start)
	assert.Equal(t, "2024-03-31", reqs[2].End)

	assert.Len(t, h.store.Rows(prefix+entity.Actions), 2)

	report := h.notifier.last(t)
	assert.True(t, report.Success)
	assert.Equal(t, "Incidents: 2\nActions: 2\nPenalties: 1\nCommunications: 0\nBehaviors: 0", report.Summary)
}

func TestRunner_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t, 1, bayview)
	h.api.Serve(bayview.APIKey, incidentsPath, bayviewIncidents)
	ctx := context.Background()

	first, err := h.runner.Execute(ctx, Request{})
	require.NoError(t, err)
	before := h.store.Rows(prefix + entity.Penalties)

	second, err := h.runner.Execute(ctx, Request{})
	require.NoError(t, err)

	assert.Equal(t, counts(first.Lines), counts(second.Lines))
	assert.Equal(t, before, h.store.Rows(prefix+entity.Penalties))
	assert.Len(t, h.store.Rows(prefix+entity.Incidents), 2)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunner_Backfill(t *testing.T) {
	h := newHarness(t, 1, bayview)
	h.api.Serve(bayview.APIKey, behaviorPath, `{"data": [
		{"DLSAID": 1, "BehaviorDate": "2019-12-02"},
		{"DLSAID": 2, "BehaviorDate": "2019-12-30"}]}`)

	w, err := entity.ParseWindow("2019-12-01", "2019-12-31")
	require.NoError(t, err)

	out, err := h.runner.Execute(context.Background(), Request{Window: &w})
	require.NoError(t, err)

	reqs := h.api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, behaviorPath, reqs[0].Path)
	assert.Equal(t, "2019-12-01", reqs[0].Start)
	assert.Equal(t, "2019-12-31", reqs[0].End)

	c := counts(out.Lines)
	assert.Equal(t, int64(2), c[entity.Behaviors])
	assert.Zero(t, c[entity.Incidents])
	assert.Len(t, out.Lines, 5)
}

func TestRunner_TenantFilter(t *testing.T) {
	h := newHarness(t, 1, bayview, eastlake)

	_, err := h.runner.Execute(context.Background(), Request{Tenants: []string{"eastlake"}})
	require.NoError(t, err)

	for _, r := range h.api.Requests() {
		assert.Equal(t, eastlake.APIKey, r.APIKey)
	}
}

func TestRunner_ConfigurationErrorsAbortBeforeFetch(t *testing.T) {
	tests := []struct {
		name    string
		roster  []entity.Tenant
		tenants []string
	}{
		{"unknown tenant", []entity.Tenant{bayview}, []string{"Nowhere"}},
		{"inactive tenant", []entity.Tenant{bayview, closed}, []string{"Closed"}},
		{"no active tenants", []entity.Tenant{closed}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1, tt.roster...)

			_, err := h.runner.Execute(context.Background(), Request{Tenants: tt.tenants})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Empty(t, h.api.Requests())

			report := h.notifier.last(t)
			assert.False(t, report.Success)
			assert.NotEmpty(t, report.Error)
		})
	}
}

func TestRunner_TransportFailureAbortsRun(t *testing.T) {
	h := newHarness(t, 1, bayview, eastlake)
	h.api.Fail(bayview.APIKey, incidentsPath, http.StatusInternalServerError)

	out, err := h.runner.Execute(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))

	assert.Equal(t, []string{"bayview-key " + incidentsPath}, h.paths(), "nothing runs after the failure")
	assert.Zero(t, counts(out.Lines)[entity.Incidents])

	report := h.notifier.last(t)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "tenant=Bayview")
	assert.Contains(t, report.Error, "entity=Incidents")
	assert.NotContains(t, report.Error, bayview.APIKey)
}

func TestRunner_SchemaErrorAbortsRun(t *testing.T) {
	h := newHarness(t, 1, bayview)
	h.api.Serve(bayview.APIKey, incidentsPath, `{"data": [{"IncidentID": 101, "SchoolID": 1}]}`)

	_, err := h.runner.Execute(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.Empty(t, h.store.Rows(prefix+entity.Incidents))
}

func TestRunner_Workers(t *testing.T) {
	tenants := []entity.Tenant{
		bayview,
		eastlake,
		{Name: "Northgate", APIKey: "northgate-key", Active: true},
	}
	h := newHarness(t, 3, tenants...)
	for i, tn := range tenants {
		h.api.Serve(tn.APIKey, incidentsPath, incidentsPayload((i+1)*100))
	}

	out, err := h.runner.Execute(context.Background(), Request{})
	require.NoError(t, err)

	c := counts(out.Lines)
	assert.Equal(t, int64(6), c[entity.Incidents])
	assert.Equal(t, int64(6), c[entity.Actions])
	assert.Equal(t, int64(3), c[entity.Penalties])
	assert.Equal(t, 3, out.Counters.Tenants())
	assert.Len(t, h.api.Requests(), 9)

	// Every tenant keeps its children after a concurrent rerun.
	_, err = h.runner.Execute(context.Background(), Request{})
	require.NoError(t, err)
	for i := range tenants {
		base := int64((i + 1) * 100)
		var actions, penalties int
		for _, r := range h.store.Rows(prefix + entity.Actions) {
			if r["SourceID"] == base+1 {
				actions++
			}
		}
		for _, r := range h.store.Rows(prefix + entity.Penalties) {
			if r["IncidentID"] == base+1 {
				penalties++
			}
		}
		assert.Equal(t, 2, actions, tenants[i].Name)
		assert.Equal(t, 1, penalties, tenants[i].Name)
	}
}

func TestRunner_WorkersStopOnFailure(t *testing.T) {
	h := newHarness(t, 2, bayview, eastlake)
	h.api.Fail(eastlake.APIKey, incidentsPath, http.StatusUnauthorized)

	_, err := h.runner.Execute(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, h.notifier.last(t).Success)
}
