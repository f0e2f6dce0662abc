package sync

import (
	"fmt"
	"strings"
	"time"

	"rostercal/internal/model"
	"rostercal/internal/publish"
	"rostercal/internal/roster"
)

// Report summarizes one publish cycle for logs and the status API.
type Report struct {
	Timestamp     time.Time `json:"timestamp"`
	SourceChanged bool      `json:"source_changed"`

	// Person keys by classification.
	New           []string `json:"new"`
	Updated       []string `json:"updated"`
	EmptiedPeople []string `json:"emptied"`

	UnchangedCount int `json:"unchanged_count"`

	// RejectedRows counts rows by reject reason.
	RejectedRows map[string]int `json:"rejected_rows,omitempty"`
	SkippedRows  int            `json:"skipped_rows"`
	// SkippedEvents counts events dropped with a render warning.
	SkippedEvents int `json:"skipped_events"`

	Written  []string `json:"written"`
	Archived []string `json:"archived"`
	Errors   []string `json:"errors,omitempty"`
}

// HasChanges reports whether anything was published or removed.
func (r *Report) HasChanges() bool {
	return len(r.Written) > 0 || len(r.Archived) > 0
}

// Summary renders a human-readable report block.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync Report - %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("-", 40) + "\n")

	if r.SourceChanged {
		b.WriteString("Source file: CHANGED\n")
	} else {
		b.WriteString("Source file: unchanged\n")
	}

	fmt.Fprintf(&b, "New people: %d\n", len(r.New))
	for _, name := range r.New {
		fmt.Fprintf(&b, "  + %s\n", name)
	}
	fmt.Fprintf(&b, "Emptied: %d\n", len(r.EmptiedPeople))
	for _, name := range r.EmptiedPeople {
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	fmt.Fprintf(&b, "Updated: %d\n", len(r.Updated))
	fmt.Fprintf(&b, "Unchanged: %d\n", r.UnchangedCount)

	total := 0
	for _, n := range r.RejectedRows {
		total += n
	}
	if total > 0 {
		fmt.Fprintf(&b, "Rejected rows: %d\n", total)
		for reason, n := range r.RejectedRows {
			fmt.Fprintf(&b, "  %s: %d\n", reason, n)
		}
	}
	if r.SkippedEvents > 0 {
		fmt.Fprintf(&b, "Skipped events: %d\n", r.SkippedEvents)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "Errors: %d\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  ! %s\n", e)
		}
	}
	return b.String()
}

func buildReport(now time.Time, sourceChanged bool, normRes roster.Result, skippedEvents int, changes []model.ChangeRecord, outcome publish.Outcome) *Report {
	report := &Report{
		Timestamp:     now,
		SourceChanged: sourceChanged,
		SkippedRows:   normRes.Skipped,
		SkippedEvents: skippedEvents,
		Written:       outcome.Written,
		Archived:      outcome.Archived,
	}

	for _, ch := range changes {
		switch ch.Classification {
		case model.Created:
			report.New = append(report.New, ch.PersonKey)
		case model.Updated:
			report.Updated = append(report.Updated, ch.PersonKey)
		case model.Emptied:
			report.EmptiedPeople = append(report.EmptiedPeople, ch.PersonKey)
		case model.Unchanged:
			// Classifications stay truthful even under --force, when
			// outcome.UnchangedCount is zero because everything was
			// rewritten.
			report.UnchangedCount++
		}
	}

	if counts := normRes.RejectCounts(); len(counts) > 0 {
		report.RejectedRows = make(map[string]int, len(counts))
		for reason, n := range counts {
			report.RejectedRows[string(reason)] = n
		}
	}

	for _, we := range outcome.Errors {
		report.Errors = append(report.Errors, we.Error())
	}

	return report
}
