package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/entity"
)

// ReportLine is the final count of one entity.
type ReportLine struct {
	Entity   string
	Inserted int64
}

// String renders the line as "Entity: count".
func (l ReportLine) String() string {
	return fmt.Sprintf("%s: %d", l.Entity, l.Inserted)
}

// Report lists every entity of the catalog in definition order with the
// rows inserted during the run. Entities the run never reached report 0.
func Report(catalog *entity.Catalog, counters *RunCounters) []ReportLine {
	defs := catalog.All()
	lines := make([]ReportLine, len(defs))
	for i, def := range defs {
		lines[i] = ReportLine{Entity: def.Name, Inserted: counters.Get(def.Name)}
	}
	return lines
}

// Summary joins the report lines, one per line.
func Summary(lines []ReportLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}

// LogReport writes one log entry per line.
func LogReport(log *zap.Logger, lines []ReportLine) {
	for _, l := range lines {
		log.Info("entity total", zap.String("entity", l.Entity), zap.Int64("inserted", l.Inserted))
	}
}
