// Package sync wires one publish cycle: rows -> records -> identified
// events -> rendered files -> diff classification -> publish decision.
// Data flows strictly left to right; no stage re-enters an earlier one.
package sync

import (
	"context"
	"fmt"
	"time"

	"rostercal/internal/config"
	"rostercal/internal/diff"
	"rostercal/internal/ics"
	"rostercal/internal/ident"
	appLog "rostercal/internal/log"
	"rostercal/internal/model"
	"rostercal/internal/publish"
	"rostercal/internal/roster"
	"rostercal/internal/source"
	"rostercal/internal/state"
)

// Runner executes publish cycles against a configured row source.
type Runner struct {
	cfg *config.Config
	loc *time.Location
	src source.RowSource

	// Force rewrites every calendar regardless of classification.
	Force bool

	// now is stubbed in tests.
	now func() time.Time
}

// NewRunner builds a Runner. The configured timezone must resolve; every
// shift time in the system is expressed in it.
func NewRunner(cfg *config.Config, src source.RowSource) (*Runner, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Runner{cfg: cfg, loc: loc, src: src, now: time.Now}, nil
}

// Run executes one full cycle and returns its report. Row- and
// event-level problems are recovered locally and surfaced as counts; only
// input unavailability and filename collisions abort the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	now := r.now().In(r.loc)
	cfg := r.cfg

	st := state.Load(cfg.Publish.StateFile)
	if len(st.Events) == 0 {
		st.RecoverEvents(cfg.Publish.OutputDir)
	}

	sourceHash, hashErr := source.FileHash(cfg.Source.Path)
	if hashErr != nil {
		appLog.Debug("source hash unavailable", "err", hashErr.Error())
	}
	sourceChanged := sourceHash != "" && sourceHash != st.SourceHash

	rows, err := r.src.Rows()
	if err != nil {
		return nil, err
	}

	normRes := roster.NewNormalizer(cfg, r.loc).Normalize(rows)
	appLog.Info("roster normalized",
		"rows", len(rows),
		"records", len(normRes.Records),
		"rejected", len(normRes.Rejects),
		"skipped", normRes.Skipped,
	)
	for _, rej := range normRes.Rejects {
		appLog.Debug("row rejected", "line", rej.Line, "reason", string(rej.Reason), "detail", rej.Detail)
	}

	records := normRes.Records
	if len(cfg.Recurring) > 0 {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
		recur, recurErrs := roster.ExpandRecurring(cfg.Recurring, r.loc, today, today.AddDate(0, 0, cfg.HorizonDays))
		for _, err := range recurErrs {
			appLog.Error("recurring shift skipped", err)
		}
		records = append(records, recur...)
	}

	assigner := ident.Assigner{Domain: cfg.UIDDomain}
	events := st.StampEvents(assigner.Assign(records), now)

	builder := &ics.Builder{NamePrefix: cfg.NamePrefix, Location: r.loc}
	calendars, err := builder.Build(ctx, events, now)
	if err != nil {
		// Name collisions make the output target ambiguous; nothing is
		// written.
		return nil, err
	}

	previous := st.PreviousChecksums(cfg.Publish.OutputDir)
	changes := diff.Detect(calendars, previous)

	byPerson := make(map[string]model.PersonCalendar, len(calendars))
	skippedEvents := 0
	for _, cal := range calendars {
		byPerson[cal.PersonKey] = cal
		skippedEvents += cal.SkippedEvents
	}
	if cfg.Publish.Emptied == publish.PolicyWriteEmpty {
		for i, ch := range changes {
			if ch.Classification != model.Emptied {
				continue
			}
			cal, ok := byPerson[ch.PersonKey]
			if !ok {
				cal = builder.RenderEmpty(ch.PersonKey, now)
				byPerson[ch.PersonKey] = cal
			}
			changes[i].NewHash = cal.Checksum
			// The empty calendar is published once; later runs find it
			// already in place and must not rewrite it.
			if cal.Checksum == ch.PreviousHash {
				changes[i].Classification = model.Unchanged
			}
		}
	}

	coord := &publish.Coordinator{
		OutputDir:     cfg.Publish.OutputDir,
		ArchiveDir:    cfg.Publish.ArchiveDir,
		EmptiedPolicy: cfg.Publish.Emptied,
		Force:         r.Force,
	}
	outcome := coord.Publish(changes, byPerson, now)

	r.updateState(st, changes, byPerson, outcome, sourceHash, now)

	report := buildReport(now, sourceChanged, normRes, skippedEvents, changes, outcome)
	if err := st.Save(cfg.Publish.StateFile); err != nil {
		appLog.Error("state save failed", err, "path", cfg.Publish.StateFile)
		report.Errors = append(report.Errors, fmt.Sprintf("state save: %v", err))
	}

	appLog.Info("sync complete",
		"new", len(report.New),
		"updated", len(report.Updated),
		"unchanged", report.UnchangedCount,
		"emptied", len(report.EmptiedPeople),
		"written", len(outcome.Written),
		"errors", len(report.Errors),
	)
	return report, nil
}

func (r *Runner) updateState(st *state.State, changes []model.ChangeRecord, byPerson map[string]model.PersonCalendar, outcome publish.Outcome, sourceHash string, now time.Time) {
	written := make(map[string]bool, len(outcome.Written))
	for _, pk := range outcome.Written {
		written[pk] = true
	}

	for _, ch := range changes {
		switch ch.Classification {
		case model.Unchanged:
			// Repopulates the sidecar after it was lost.
			st.RecordCalendar(ch.PersonKey, ch.Filename, ch.NewHash)
		case model.Created, model.Updated:
			if written[ch.PersonKey] {
				st.RecordCalendar(ch.PersonKey, ch.Filename, ch.NewHash)
			}
			// A failed write keeps the old state entry so the next run
			// retries the same classification.
		case model.Emptied:
			if written[ch.PersonKey] {
				// write-empty: the empty rendering is now the published one.
				st.RecordCalendar(ch.PersonKey, ch.Filename, byPerson[ch.PersonKey].Checksum)
			} else {
				st.ForgetCalendar(ch.PersonKey)
			}
		}
	}

	if sourceHash != "" {
		st.SourceHash = sourceHash
	}
	st.LastSync = now
}
