// Package diff classifies freshly rendered calendars against the last
// published run. It is a content-addressed comparison: any difference in
// rendered bytes is caught, any identical rendering is never flagged.
package diff

import (
	"sort"

	"rostercal/internal/ics"
	"rostercal/internal/model"
)

// Detect compares rendered calendars with the previous checksums and
// returns one ChangeRecord per affected person.
//
// The previous state is an explicit parameter, not something read here:
// the function stays pure and independently testable. Keys of previous
// are person keys, values the published checksum (empty string means "a
// file existed but its checksum is unknown", which classifies UPDATED).
//
// People present in previous but absent from calendars are classified
// EMPTIED. Results are ordered by person key.
func Detect(calendars []model.PersonCalendar, previous map[string]string) []model.ChangeRecord {
	records := make([]model.ChangeRecord, 0, len(calendars))
	seen := make(map[string]bool, len(calendars))
	ownedFiles := make(map[string]bool, len(calendars))

	for _, cal := range calendars {
		seen[cal.PersonKey] = true
		ownedFiles[cal.Filename] = true
		prev, hadPrev := previous[cal.PersonKey]

		rec := model.ChangeRecord{
			PersonKey:    cal.PersonKey,
			Filename:     cal.Filename,
			PreviousHash: prev,
			NewHash:      cal.Checksum,
		}

		switch {
		case len(cal.Events) == 0 && hadPrev:
			rec.Classification = model.Emptied
		case len(cal.Events) == 0:
			// Never published and nothing to publish.
			continue
		case !hadPrev:
			rec.Classification = model.Created
		case prev == cal.Checksum:
			rec.Classification = model.Unchanged
		default:
			rec.Classification = model.Updated
		}
		records = append(records, rec)
	}

	emptied := make([]model.ChangeRecord, 0)
	for personKey, prev := range previous {
		if seen[personKey] {
			continue
		}
		// A previous key whose file a current person owns is an alias of
		// that person (filename-derived key of an orphan file), not a
		// departure. Emptying it would archive the freshly written file.
		if ownedFiles[ics.Filename(personKey)] {
			continue
		}
		emptied = append(emptied, model.ChangeRecord{
			PersonKey:      personKey,
			Filename:       ics.Filename(personKey),
			Classification: model.Emptied,
			PreviousHash:   prev,
		})
	}
	sort.Slice(emptied, func(i, j int) bool { return emptied[i].PersonKey < emptied[j].PersonKey })

	return append(records, emptied...)
}
