package ics

import (
	"os"
	"time"

	ical "github.com/arran4/golang-ical"
)

// fingerprintProperty carries each event's content fingerprint in the
// published file, making the artifact self-describing.
const fingerprintProperty = ical.ComponentProperty("X-ROSTERCAL-FINGERPRINT")

// EventStamp is what one published event remembers about itself: the
// content fingerprint and the time that content was last derived.
type EventStamp struct {
	Fingerprint string
	Modified    time.Time
}

// ReadEventStamps parses a previously published calendar and returns its
// per-UID stamps. Events missing either property are skipped; they will
// simply be restamped on the next run.
func ReadEventStamps(path string) (map[string]EventStamp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cal, err := ical.ParseCalendar(f)
	if err != nil {
		return nil, err
	}

	stamps := make(map[string]EventStamp)
	for _, ev := range cal.Events() {
		uid := ev.GetProperty(ical.ComponentPropertyUniqueId)
		fp := ev.GetProperty(fingerprintProperty)
		lm := ev.GetProperty(ical.ComponentPropertyLastModified)
		if uid == nil || fp == nil || lm == nil {
			continue
		}
		modified, err := time.Parse(icalUTCLayout, lm.Value)
		if err != nil {
			continue
		}
		stamps[uid.Value] = EventStamp{Fingerprint: fp.Value, Modified: modified}
	}
	return stamps, nil
}
