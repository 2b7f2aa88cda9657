// Package deanslistsync copies DeansList student-behavior data for a
// roster of schools into warehouse tables.
//
// Each school (tenant) is identified by its DeansList API key. A run
// fetches every entity for every active tenant and replaces that tenant's
// warehouse rows with what the API returned, so re-running a sync is always
// safe.
//
// # Entities
//
//   - Incidents, with nested Actions and Penalties extracted from the same
//     payload
//   - Communications
//   - Behaviors, limited to a date window (the current month, or an explicit
//     backfill range)
//
// # Layout
//
//   - cmd/deanslist-sync: the CLI (run, entities, tenants, version)
//   - internal/pipeline: run orchestration, reporting and notification
//   - internal/reconcile: delete-then-insert per tenant and entity
//   - pkg/source: DeansList API client
//   - pkg/extract: JSON record flattening into table rows
//   - pkg/warehouse: Postgres, MySQL, Snowflake and in-memory stores
//   - pkg/entity: entity definitions, tenants and date windows
//
// # Quick Start
//
//	deanslist-sync run --config sync.yaml
//	deanslist-sync run --config sync.yaml --start 2019-12-01 --end 2019-12-31
package deanslistsync
