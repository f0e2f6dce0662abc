package ics

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rostercal/internal/model"
)

var testModified = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func event(person, uid string, start, end time.Time, summary string) model.CalendarEvent {
	return model.CalendarEvent{
		UID:         uid,
		Fingerprint: "fp-" + uid,
		PersonKey:   person,
		DisplayName: DisplayNameFromKey(person),
		Start:       start,
		End:         end,
		Summary:     summary,
		Modified:    testModified,
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return &Builder{NamePrefix: "Work Schedule", Location: loc}
}

func TestBuildTwoShiftsOnePerson(t *testing.T) {
	b := testBuilder(t)
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, b.Location)

	// Deliberately out of order; the builder must sort chronologically.
	cals, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-b", day2, day2.Add(8*time.Hour), "Floor"),
		event("jane_doe", "uid-a", day1, day1.Add(8*time.Hour), "Floor"),
	}, testModified)
	require.NoError(t, err)
	require.Len(t, cals, 1)

	cal := cals[0]
	assert.Equal(t, "jane_doe.ics", cal.Filename)
	assert.Equal(t, "Jane Doe", cal.DisplayName)

	parsed, err := ical.ParseCalendar(bytes.NewReader(cal.Body))
	require.NoError(t, err)
	events := parsed.Events()
	require.Len(t, events, 2)

	uid0 := events[0].GetProperty(ical.ComponentPropertyUniqueId).Value
	uid1 := events[1].GetProperty(ical.ComponentPropertyUniqueId).Value
	assert.Equal(t, "uid-a", uid0)
	assert.Equal(t, "uid-b", uid1)

	body := string(cal.Body)
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "BEGIN:VTIMEZONE")
	assert.Contains(t, body, "TZID:Europe/Amsterdam")
	assert.Contains(t, body, "METHOD:PUBLISH")
	assert.True(t, strings.Contains(body, "\r\n"), "CRLF line endings required")
}

func TestBuildDeterministic(t *testing.T) {
	b := testBuilder(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)
	events := []model.CalendarEvent{
		event("jane_doe", "uid-a", start, start.Add(8*time.Hour), "Floor"),
	}

	first, err := b.Build(context.Background(), events, testModified)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), events, testModified)
	require.NoError(t, err)

	assert.Equal(t, first[0].Body, second[0].Body, "same input, same instant: byte-identical")

	// A later generation instant changes only the generated-at line; the
	// checksum must not move.
	later, err := b.Build(context.Background(), events, testModified.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Body, later[0].Body)
	assert.Equal(t, first[0].Checksum, later[0].Checksum)
}

func TestBuildAllDayEvent(t *testing.T) {
	b := testBuilder(t)
	date := time.Date(2026, 3, 5, 0, 0, 0, 0, b.Location)

	ev := event("jane_doe", "uid-v", date, date.AddDate(0, 0, 1), "Vacation")
	ev.AllDay = true

	cals, err := b.Build(context.Background(), []model.CalendarEvent{ev}, testModified)
	require.NoError(t, err)

	body := string(cals[0].Body)
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20260305")
	assert.Contains(t, body, "DTEND;VALUE=DATE:20260306")
}

func TestBuildTimedEventCarriesTZID(t *testing.T) {
	b := testBuilder(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)

	cals, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-a", start, start.Add(8*time.Hour), "Floor"),
	}, testModified)
	require.NoError(t, err)

	body := string(cals[0].Body)
	assert.Contains(t, body, "DTSTART;TZID=Europe/Amsterdam:20260301T090000")
	assert.Contains(t, body, "DTEND;TZID=Europe/Amsterdam:20260301T170000")
}

func TestBuildEscapesFreeText(t *testing.T) {
	b := testBuilder(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)

	cals, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-a", start, start.Add(8*time.Hour), `Floor; West, Wing\`),
	}, testModified)
	require.NoError(t, err)

	body := string(cals[0].Body)
	assert.Contains(t, body, `Floor\; West\, Wing\\`)
	// The serializer escapes TEXT values itself; escaping before handing
	// the value over would double up the backslashes.
	assert.NotContains(t, body, `\\\;`)
	assert.NotContains(t, body, `\\\,`)

	parsed, err := ical.ParseCalendar(bytes.NewReader(cals[0].Body))
	require.NoError(t, err)
	require.Len(t, parsed.Events(), 1)
	summary := parsed.Events()[0].GetProperty(ical.ComponentPropertySummary)
	require.NotNil(t, summary)
	assert.Equal(t, `Floor; West, Wing\`, summary.Value)
}

func TestBuildSkipsUnrenderableEvent(t *testing.T) {
	b := testBuilder(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)

	good := event("jane_doe", "uid-a", start, start.Add(8*time.Hour), "Floor")
	bad := event("jane_doe", "uid-b", start.AddDate(0, 0, 1), start.AddDate(0, 0, 1).Add(8*time.Hour), "Bell\x07")

	cals, err := b.Build(context.Background(), []model.CalendarEvent{good, bad}, testModified)
	require.NoError(t, err, "one broken event must not fail the person's file")
	require.Len(t, cals, 1)
	assert.Equal(t, 1, cals[0].SkippedEvents)

	parsed, err := ical.ParseCalendar(bytes.NewReader(cals[0].Body))
	require.NoError(t, err)
	require.Len(t, parsed.Events(), 1)
}

func TestBuildNameCollision(t *testing.T) {
	b := testBuilder(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, b.Location)

	// Distinct person keys, same normalized filename.
	_, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-a", start, start.Add(8*time.Hour), "Floor"),
		event("jane.doe", "uid-b", start, start.Add(8*time.Hour), "Floor"),
	}, testModified)
	require.ErrorIs(t, err, ErrNameCollision)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "jane_doe.ics", Filename("jane_doe"))
	assert.Equal(t, "jane_doe.ics", Filename("Jane..Doe"))
	assert.Equal(t, "j_doe_smith.ics", Filename("j. doe-smith"))
	assert.Equal(t, "calendar.ics", Filename("!!!"))
}

func TestChecksumIgnoresGeneratedAtOnly(t *testing.T) {
	a := "BEGIN:VCALENDAR\r\nX-GENERATED-AT:20260301T000000Z\r\nSUMMARY:x\r\nEND:VCALENDAR\r\n"
	b := "BEGIN:VCALENDAR\r\nX-GENERATED-AT:20270101T120000Z\r\nSUMMARY:x\r\nEND:VCALENDAR\r\n"
	c := "BEGIN:VCALENDAR\r\nX-GENERATED-AT:20260301T000000Z\r\nSUMMARY:y\r\nEND:VCALENDAR\r\n"

	assert.Equal(t, Checksum([]byte(a)), Checksum([]byte(b)))
	assert.NotEqual(t, Checksum([]byte(a)), Checksum([]byte(c)))
}

func TestChecksumToleratesLineEndings(t *testing.T) {
	crlf := "BEGIN:VCALENDAR\r\nX-GENERATED-AT:20260301T000000Z\r\nSUMMARY:x\r\nEND:VCALENDAR\r\n"
	lf := strings.ReplaceAll(crlf, "\r\n", "\n")
	assert.Equal(t, Checksum([]byte(crlf)), Checksum([]byte(lf)))
}

func TestVTimezoneDSTRules(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	b := &Builder{NamePrefix: "Work Schedule", Location: loc}
	cals, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-a",
			time.Date(2026, 3, 1, 9, 0, 0, 0, loc),
			time.Date(2026, 3, 1, 17, 0, 0, 0, loc), "Floor"),
	}, testModified)
	require.NoError(t, err)

	body := string(cals[0].Body)
	assert.Contains(t, body, "BEGIN:DAYLIGHT")
	assert.Contains(t, body, "BEGIN:STANDARD")
	assert.Contains(t, body, "RRULE:FREQ=YEARLY;BYMONTH=3;BYDAY=-1SU")
	assert.Contains(t, body, "RRULE:FREQ=YEARLY;BYMONTH=10;BYDAY=-1SU")
	assert.Contains(t, body, "TZOFFSETTO:+0200")
}

func TestVTimezoneFixedOffsetZone(t *testing.T) {
	b := &Builder{NamePrefix: "Work Schedule", Location: time.UTC}
	cals, err := b.Build(context.Background(), []model.CalendarEvent{
		event("jane_doe", "uid-a",
			time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC), "Floor"),
	}, testModified)
	require.NoError(t, err)

	body := string(cals[0].Body)
	assert.Contains(t, body, "BEGIN:STANDARD")
	assert.NotContains(t, body, "BEGIN:DAYLIGHT")
}
