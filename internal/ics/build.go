package ics

import (
	"context"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"
	"golang.org/x/sync/errgroup"

	appLog "rostercal/internal/log"
	"rostercal/internal/model"
)

const (
	prodID = "-//rostercal//rostercal//EN"

	// buildWorkers bounds the per-person render fan-out. Partitions share
	// no mutable state, so each person renders independently.
	buildWorkers = 4

	icalUTCLayout   = "20060102T150405Z"
	icalLocalLayout = "20060102T150405"
)

// Builder renders one calendar document per person. It has no side
// effects; persistence belongs to the publish coordinator.
type Builder struct {
	// NamePrefix labels each calendar ("<prefix> - <display name>").
	NamePrefix string
	// Location is the zone all timed events are expressed in; its name
	// is used as TZID.
	Location *time.Location
}

// Build partitions events by person, orders each partition
// chronologically (ties broken by UID), and renders every partition into
// a serialized ICS document with its change-detection checksum.
//
// Output is sorted by person key. Given an identical event set, two calls
// produce byte-identical bodies except for the X-GENERATED-AT line, which
// carries now and is excluded from checksums.
//
// The only error is ErrNameCollision; per-event render problems are
// demoted to skips with a warning.
func (b *Builder) Build(ctx context.Context, events []model.CalendarEvent, now time.Time) ([]model.PersonCalendar, error) {
	partitions := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		partitions[ev.PersonKey] = append(partitions[ev.PersonKey], ev)
	}

	keys := make([]string, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	filenames, err := assignFilenames(keys)
	if err != nil {
		return nil, err
	}

	out := make([]model.PersonCalendar, len(keys))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(buildWorkers)
	for i, key := range keys {
		g.Go(func() error {
			out[i] = b.renderPerson(key, filenames[key], partitions[key], now)
			return nil
		})
	}
	// Renders never fail as a group; collect for completeness.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// RenderEmpty produces a calendar with zero events for a person known
// only from previous state, used by the "write-empty" emptied policy.
func (b *Builder) RenderEmpty(personKey string, now time.Time) model.PersonCalendar {
	return b.renderPerson(personKey, Filename(personKey), nil, now)
}

func (b *Builder) renderPerson(personKey, filename string, events []model.CalendarEvent, now time.Time) model.PersonCalendar {
	sorted := make([]model.CalendarEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].UID < sorted[j].UID
	})

	displayName := DisplayNameFromKey(personKey)
	if len(sorted) > 0 && sorted[0].DisplayName != "" {
		displayName = sorted[0].DisplayName
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	cal.SetVersion("2.0")
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRCalName(b.NamePrefix + " - " + displayName)
	cal.SetXWRTimezone(b.Location.String())
	cal.CalendarProperties = append(cal.CalendarProperties, ical.CalendarProperty{
		BaseProperty: ical.BaseProperty{
			IANAToken: generatedAtToken,
			Value:     now.UTC().Format(icalUTCLayout),
		},
	})
	cal.Components = append(cal.Components, newVTimezone(b.Location, now.Year()))

	skipped := 0
	for _, ev := range sorted {
		if err := b.addEvent(cal, ev); err != nil {
			skipped++
			appLog.Error("event skipped, cannot render", err,
				"person", personKey, "uid", ev.UID)
		}
	}

	pc := model.PersonCalendar{
		PersonKey:     personKey,
		DisplayName:   displayName,
		Filename:      filename,
		Events:        sorted,
		SkippedEvents: skipped,
	}
	// The library defaults to the platform line ending; published files
	// must use CRLF per RFC 5545 regardless of where they were rendered.
	pc.Body = []byte(cal.Serialize(ical.WithNewLineWindows))
	pc.Checksum = Checksum(pc.Body)
	return pc
}

func (b *Builder) addEvent(cal *ical.Calendar, ev model.CalendarEvent) error {
	if err := validateText(ev.Summary); err != nil {
		return err
	}
	if err := validateText(ev.Description); err != nil {
		return err
	}

	e := cal.AddEvent(ev.UID)
	e.SetDtStampTime(ev.Modified.UTC())

	if ev.AllDay {
		e.SetAllDayStartAt(ev.Start)
		e.SetAllDayEndAt(ev.End)
	} else {
		tzid := &ical.KeyValues{Key: "TZID", Value: []string{b.Location.String()}}
		e.SetProperty(ical.ComponentPropertyDtStart, ev.Start.In(b.Location).Format(icalLocalLayout), tzid)
		e.SetProperty(ical.ComponentPropertyDtEnd, ev.End.In(b.Location).Format(icalLocalLayout), tzid)
	}

	e.SetSummary(ev.Summary)
	if ev.Description != "" {
		e.SetDescription(ev.Description)
	}
	e.SetModifiedAt(ev.Modified.UTC())
	// Makes published files self-describing: the event index can be
	// rebuilt from them when the sidecar state is lost.
	e.SetProperty(fingerprintProperty, ev.Fingerprint)
	return nil
}
