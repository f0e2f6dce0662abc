package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"rostercal/internal/model"
)

// uidNamespace is the fixed UUIDv5 namespace for event identity. It must
// never change: every published UID is derived under it.
var uidNamespace = uuid.MustParse("5e6c9f51-7d17-4be2-a2c3-bd6e0a6f2d11")

// Assigner computes stable event identities. Deliberately, only
// (person, date, same-day slot) participate in the UID: a shift whose
// hours or note are corrected keeps its UID and shows up as an in-place
// update in subscribed clients, not as a new event plus a dangling old
// one. Everything content-bearing goes into the fingerprint instead.
type Assigner struct {
	// Domain is the suffix after '@' in generated UIDs.
	Domain string
}

// Assign maps every valid ShiftRecord to exactly one CalendarEvent. It is
// total and pure: no record can fail identity assignment.
//
// Same-day shifts for one person are disambiguated by a sequence
// discriminator assigned after sorting that day's shifts by start time
// (all-day entries first, then summary as a final tie-break), so the
// discriminator itself is deterministic across runs.
func (a Assigner) Assign(records []model.ShiftRecord) []model.CalendarEvent {
	sorted := make([]model.ShiftRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return recordLess(sorted[i], sorted[j])
	})

	events := make([]model.CalendarEvent, 0, len(sorted))
	seq := 0
	for i, rec := range sorted {
		if i > 0 && sameSlotGroup(sorted[i-1], rec) {
			seq++
		} else {
			seq = 0
		}
		events = append(events, a.assignOne(rec, seq))
	}
	return events
}

func (a Assigner) assignOne(rec model.ShiftRecord, seq int) model.CalendarEvent {
	ev := model.CalendarEvent{
		PersonKey:   rec.PersonKey,
		DisplayName: rec.DisplayName,
		AllDay:      rec.AllDay,
		Summary:     rec.Summary,
		Description: rec.Note,
	}

	if rec.AllDay {
		ev.Start = rec.Date
		ev.End = rec.Date.AddDate(0, 0, 1)
	} else {
		ev.Start = rec.Start
		ev.End = rec.End
	}

	ev.UID = a.uidFor(rec.PersonKey, rec.Date, seq)
	ev.Fingerprint = Fingerprint(ev)
	return ev
}

// uidFor derives the persistent identifier. The visible date and slot
// prefix makes UIDs self-describing in published files; the UUIDv5 part
// carries the full identity.
func (a Assigner) uidFor(personKey string, date time.Time, seq int) string {
	day := date.Format("20060102")
	id := uuid.NewSHA1(uidNamespace, []byte(fmt.Sprintf("%s/%s/%d", personKey, day, seq)))
	return fmt.Sprintf("%s-%d-%s@%s", day, seq, id.String(), a.Domain)
}

// Fingerprint hashes every content field that must force a re-render for
// the same UID. The identity fields are excluded on purpose.
func Fingerprint(ev model.CalendarEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%t|%s|%s",
		ev.Start.UTC().Format(time.RFC3339),
		ev.End.UTC().Format(time.RFC3339),
		ev.AllDay,
		ev.Summary,
		ev.Description,
	)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func recordLess(a, b model.ShiftRecord) bool {
	if a.PersonKey != b.PersonKey {
		return a.PersonKey < b.PersonKey
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	// Within one day: all-day entries first, then start time, then summary.
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Summary < b.Summary
}

func sameSlotGroup(a, b model.ShiftRecord) bool {
	return a.PersonKey == b.PersonKey && a.Date.Equal(b.Date)
}
