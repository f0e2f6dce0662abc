package model

import "time"

// ShiftRecord is one validated worked shift as produced by the normalizer.
// Records are rebuilt from the source rows on every run and never mutated.
type ShiftRecord struct {
	// PersonKey is the normalized identity of the employee
	// (lowercase, whitespace collapsed to underscores).
	PersonKey string
	// DisplayName is the name as it appeared in the source, used for
	// calendar labels.
	DisplayName string

	// Date is the calendar date of the shift (time-of-day fields zero,
	// location set to the configured zone).
	Date time.Time

	// Start / End are the shift hours on Date. Both zero means an
	// all-day entry. A shift crossing midnight has End on the next day.
	Start time.Time
	End   time.Time

	// AllDay marks shifts without specific hours.
	AllDay bool

	// Summary is the event title (shift name or role).
	Summary string
	// Note is free text carried into the event description.
	Note string
}

// CalendarEvent is a ShiftRecord with its assigned identity.
type CalendarEvent struct {
	// UID is the persistent identifier; identical across runs for the
	// same (person, date, same-day slot).
	UID string
	// Fingerprint is a content hash over everything that must force a
	// re-render when it changes while UID stays the same.
	Fingerprint string

	PersonKey   string
	DisplayName string

	Start  time.Time
	End    time.Time
	AllDay bool

	Summary     string
	Description string

	// Modified is the time the current fingerprint was first derived;
	// it becomes DTSTAMP/LAST-MODIFIED in the rendering.
	Modified time.Time
}

// PersonCalendar is the rendered artifact for one person.
type PersonCalendar struct {
	PersonKey   string
	DisplayName string
	// Filename is the collision-checked output name, e.g. "jane_doe.ics".
	Filename string

	// Events in chronological order, ties broken by UID.
	Events []CalendarEvent

	// Body is the serialized ICS document (CRLF, folded).
	Body []byte
	// Checksum is computed over Body with the generated-at line
	// excluded, so it is stable across runs with identical content.
	Checksum string

	// SkippedEvents counts events dropped with a render warning.
	SkippedEvents int
}

// Classification describes how a person's calendar compares to the
// previously published one.
type Classification string

const (
	Unchanged Classification = "UNCHANGED"
	Updated   Classification = "UPDATED"
	Created   Classification = "CREATED"
	Emptied   Classification = "EMPTIED"
)

// ChangeRecord is the change detector's verdict for one person. It lives
// for the duration of a single run and is never persisted.
type ChangeRecord struct {
	PersonKey      string
	Filename       string
	Classification Classification
	PreviousHash   string
	NewHash        string
}
