// Package export produces the run's user-facing artifacts: the summary report
// and the CSV / HST bar files.
package export

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Summary carries the run counters. Workers never touch it directly; the
// client's collector goroutine is the only writer during a download pass.
type Summary struct {
	RunID                 string
	HoursProcessed        int64
	MissingHours          int64
	Ticks                 int64
	Bars                  int64
	FallbackBars          int64
	FallbackBarsSkipped   int64
	DuplicateTicksDropped int64
	GapRepairBarsAdded    int64
	GapRepairBarsSkipped  int64
	ValidationChecked     int64
	ValidationMismatches  int64
}

// NewSummary creates a summary with a fresh run identifier.
func NewSummary() *Summary {
	return &Summary{RunID: uuid.NewString()}
}

// Print writes the human-readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Hours processed:   %d\n", s.HoursProcessed)
	fmt.Fprintf(w, "  Missing hours:     %d\n", s.MissingHours)
	fmt.Fprintf(w, "  Ticks:             %d\n", s.Ticks)
	fmt.Fprintf(w, "  Bars:              %d\n", s.Bars)
	fmt.Fprintf(w, "  Fallback bars:     %d\n", s.FallbackBars)
	fmt.Fprintf(w, "  Fallback skipped:  %d\n", s.FallbackBarsSkipped)
	fmt.Fprintf(w, "  Ticks deduped:     %d\n", s.DuplicateTicksDropped)
	fmt.Fprintf(w, "  Gap repair added:  %d\n", s.GapRepairBarsAdded)
	fmt.Fprintf(w, "  Gap repair skipped:%d\n", s.GapRepairBarsSkipped)
	fmt.Fprintf(w, "  Validate checked:  %d\n", s.ValidationChecked)
	fmt.Fprintf(w, "  Validate mismatch: %d\n", s.ValidationMismatches)
}

// Log emits the counters as one structured record.
func (s *Summary) Log() {
	log.WithFields(log.Fields{
		"run_id":              s.RunID,
		"hours_processed":     s.HoursProcessed,
		"missing_hours":       s.MissingHours,
		"ticks":               s.Ticks,
		"bars":                s.Bars,
		"fallback_bars":       s.FallbackBars,
		"fallback_skipped":    s.FallbackBarsSkipped,
		"duplicates_dropped":  s.DuplicateTicksDropped,
		"gap_repair_added":    s.GapRepairBarsAdded,
		"gap_repair_skipped":  s.GapRepairBarsSkipped,
		"validation_checked":  s.ValidationChecked,
		"validation_mismatch": s.ValidationMismatches,
	}).Info("run complete")
}
