package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

// newVTimezone builds the VTIMEZONE component for the configured zone so
// that clients resolve TZID references without network lookups. The
// transition rules are derived from the zone data of refYear rather than
// hardcoded offsets.
func newVTimezone(loc *time.Location, refYear int) *ical.GeneralComponent {
	tz := &ical.GeneralComponent{Token: "VTIMEZONE"}
	tz.AddProperty(ical.ComponentProperty("TZID"), loc.String())

	toDST, toSTD, hasDST := findTransitions(loc, refYear)
	if !hasDST {
		// Fixed-offset zone: a single STANDARD block.
		ref := time.Date(refYear, time.January, 1, 12, 0, 0, 0, loc)
		name, offset := ref.Zone()
		std := &ical.GeneralComponent{Token: "STANDARD"}
		std.AddProperty(ical.ComponentProperty("TZOFFSETFROM"), formatUTCOffset(offset))
		std.AddProperty(ical.ComponentProperty("TZOFFSETTO"), formatUTCOffset(offset))
		std.AddProperty(ical.ComponentProperty("TZNAME"), name)
		std.AddProperty(ical.ComponentProperty("DTSTART"), "19700101T000000")
		tz.Components = append(tz.Components, std)
		return tz
	}

	tz.Components = append(tz.Components,
		transitionComponent("STANDARD", toSTD),
		transitionComponent("DAYLIGHT", toDST),
	)
	return tz
}

// transition describes one offset change instant.
type transition struct {
	at         time.Time // absolute instant of the change
	fromOffset int       // seconds east of UTC before the change
	toOffset   int       // seconds east of UTC after the change
	name       string    // zone abbreviation after the change
}

// findTransitions locates the DST start and end instants within refYear.
// hasDST is false for fixed-offset zones.
func findTransitions(loc *time.Location, refYear int) (toDST, toSTD transition, hasDST bool) {
	cursor := time.Date(refYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := cursor.AddDate(1, 0, 7)

	var found []transition
	for cursor.Before(end) && len(found) < 2 {
		next := cursor.Add(24 * time.Hour)
		_, a := cursor.In(loc).Zone()
		_, b := next.In(loc).Zone()
		if a != b {
			found = append(found, locateHour(loc, cursor))
		}
		cursor = next
	}

	if len(found) < 2 {
		return transition{}, transition{}, false
	}
	for _, tr := range found {
		if tr.toOffset > tr.fromOffset {
			toDST = tr
		} else {
			toSTD = tr
		}
	}
	return toDST, toSTD, true
}

// locateHour narrows a transition known to happen within the 24h after
// dayStart down to hour precision.
func locateHour(loc *time.Location, dayStart time.Time) transition {
	_, prev := dayStart.In(loc).Zone()
	cursor := dayStart
	for i := 0; i < 24; i++ {
		next := cursor.Add(time.Hour)
		name, off := next.In(loc).Zone()
		if off != prev {
			return transition{at: next, fromOffset: prev, toOffset: off, name: name}
		}
		cursor = next
	}
	name, off := cursor.In(loc).Zone()
	return transition{at: cursor, fromOffset: prev, toOffset: off, name: name}
}

func transitionComponent(token string, tr transition) *ical.GeneralComponent {
	c := &ical.GeneralComponent{Token: token}
	c.AddProperty(ical.ComponentProperty("TZOFFSETFROM"), formatUTCOffset(tr.fromOffset))
	c.AddProperty(ical.ComponentProperty("TZOFFSETTO"), formatUTCOffset(tr.toOffset))
	c.AddProperty(ical.ComponentProperty("TZNAME"), tr.name)

	// DTSTART is the local wall time of the change expressed in the
	// pre-transition offset, per RFC 5545.
	wall := tr.at.In(time.FixedZone("", tr.fromOffset))
	c.AddProperty(ical.ComponentProperty("DTSTART"), wall.Format("20060102T150405"))
	c.AddProperty(ical.ComponentProperty("RRULE"), yearlyRule(wall))
	return c
}

// yearlyRule renders "FREQ=YEARLY;BYMONTH=m;BYDAY=nWD" for the weekday the
// transition lands on, using -1 when it is the month's last such weekday.
func yearlyRule(wall time.Time) string {
	ord := (wall.Day()-1)/7 + 1
	if wall.AddDate(0, 0, 7).Month() != wall.Month() {
		ord = -1
	}
	days := [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(wall.Month()), ord, days[wall.Weekday()])
}

func formatUTCOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d%02d", sign, seconds/3600, (seconds%3600)/60)
}
