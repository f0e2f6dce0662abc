package roster

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"rostercal/internal/config"
	"rostercal/internal/model"
)

// ExpandRecurring turns configured recurring shift patterns (e.g. weekly
// standby duty) into concrete ShiftRecords inside [from, to). Invalid
// patterns are reported and skipped; they never abort the batch.
func ExpandRecurring(patterns []config.RecurringShift, loc *time.Location, from, to time.Time) ([]model.ShiftRecord, []error) {
	records := make([]model.ShiftRecord, 0)
	var errs []error

	for i, p := range patterns {
		recs, err := expandPattern(p, loc, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("recurring shift %d (%s): %w", i, p.Person, err))
			continue
		}
		records = append(records, recs...)
	}

	return records, errs
}

func expandPattern(p config.RecurringShift, loc *time.Location, from, to time.Time) ([]model.ShiftRecord, error) {
	if p.Person == "" {
		return nil, fmt.Errorf("person is empty")
	}
	if to.Before(from) {
		return nil, fmt.Errorf("window end before start")
	}

	r, err := rrule.StrToRRule(p.RRule)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", p.RRule, err)
	}

	// Anchor the rule at the window start so expansion is bounded and
	// deterministic regardless of when the config was written.
	anchor := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	r.DTStart(anchor)

	allDay := p.Start == "" && p.End == ""
	if (p.Start == "") != (p.End == "") {
		return nil, fmt.Errorf("start and end must both be set or both be empty")
	}

	var out []model.ShiftRecord
	for _, occ := range r.Between(anchor, to.In(loc), true) {
		date := time.Date(occ.Year(), occ.Month(), occ.Day(), 0, 0, 0, 0, loc)
		if date.Before(from) {
			continue
		}

		rec := model.ShiftRecord{
			PersonKey:   NormalizeKey(p.Person),
			DisplayName: p.Person,
			Date:        date,
			AllDay:      allDay,
			Summary:     p.Summary,
			Note:        p.Note,
		}
		if rec.Summary == "" {
			rec.Summary = defaultSummary(p.Note)
		}

		if !allDay {
			start, err := CombineClock(date, p.Start)
			if err != nil {
				return nil, err
			}
			end, err := CombineClock(date, p.End)
			if err != nil {
				return nil, err
			}
			if end.Equal(start) {
				return nil, fmt.Errorf("zero-length shift")
			}
			if end.Before(start) {
				end = end.AddDate(0, 0, 1)
			}
			rec.Start = start
			rec.End = end
		}

		out = append(out, rec)
	}

	return out, nil
}
