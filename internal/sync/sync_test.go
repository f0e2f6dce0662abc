package sync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rostercal/internal/config"
	"rostercal/internal/source"
)

type fixture struct {
	cfg    *config.Config
	roster string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Source.Path = filepath.Join(root, "roster.csv")
	cfg.Publish.OutputDir = filepath.Join(root, "calendars")
	cfg.Publish.ArchiveDir = filepath.Join(root, "archive")
	cfg.Publish.StateFile = filepath.Join(root, "state.json")

	return &fixture{cfg: cfg, roster: cfg.Source.Path}
}

func (f *fixture) writeRoster(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.roster, []byte(body), 0o644))
}

func (f *fixture) run(t *testing.T, at time.Time) *Report {
	t.Helper()
	r, err := NewRunner(f.cfg, &source.CSVSource{Path: f.roster})
	require.NoError(t, err)
	r.now = func() time.Time { return at }

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	return report
}

func (f *fixture) readCalendar(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.cfg.Publish.OutputDir, name))
	require.NoError(t, err)
	return data
}

func eventUIDs(t *testing.T, body []byte) []string {
	t.Helper()
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	require.NoError(t, err)
	uids := make([]string, 0, len(cal.Events()))
	for _, ev := range cal.Events() {
		uids = append(uids, ev.GetProperty(ical.ComponentPropertyUniqueId).Value)
	}
	return uids
}

var runAt = time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC)

const twoPersonRoster = `name,date,start,end
Jane Doe,2026-03-01,09:00,17:00
Jane Doe,2026-03-02,13:00,21:00
John Smith,2026-03-01,08:00,16:00
`

func TestRunFirstCycleCreates(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)

	report := f.run(t, runAt)

	assert.ElementsMatch(t, []string{"jane_doe", "john_smith"}, report.New)
	assert.ElementsMatch(t, []string{"jane_doe", "john_smith"}, report.Written)
	assert.Empty(t, report.Updated)
	assert.Zero(t, report.UnchangedCount)
	assert.True(t, report.SourceChanged)
	assert.True(t, report.HasChanges())

	jane := f.readCalendar(t, "jane_doe.ics")
	uids := eventUIDs(t, jane)
	require.Len(t, uids, 2)
	assert.NotEqual(t, uids[0], uids[1])

	assert.FileExists(t, f.cfg.Publish.StateFile)
}

func TestRunSecondCycleUnchanged(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)

	jane := f.readCalendar(t, "jane_doe.ics")
	before, err := os.Stat(filepath.Join(f.cfg.Publish.OutputDir, "jane_doe.ics"))
	require.NoError(t, err)

	report := f.run(t, runAt.Add(4*time.Hour))

	assert.Empty(t, report.New)
	assert.Empty(t, report.Updated)
	assert.Empty(t, report.Written)
	assert.Equal(t, 2, report.UnchangedCount)
	assert.False(t, report.SourceChanged)
	assert.False(t, report.HasChanges())

	after, err := os.Stat(filepath.Join(f.cfg.Publish.OutputDir, "jane_doe.ics"))
	require.NoError(t, err)
	assert.True(t, after.ModTime().Equal(before.ModTime()), "unchanged file untouched on disk")
	assert.Equal(t, jane, f.readCalendar(t, "jane_doe.ics"))
}

func TestRunShiftChangeKeepsUIDs(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)
	uidsBefore := eventUIDs(t, f.readCalendar(t, "jane_doe.ics"))

	// Jane's second shift moves by an hour; slot identity is unchanged.
	f.writeRoster(t, `name,date,start,end
Jane Doe,2026-03-01,09:00,17:00
Jane Doe,2026-03-02,14:00,22:00
John Smith,2026-03-01,08:00,16:00
`)
	report := f.run(t, runAt.Add(4*time.Hour))

	assert.Equal(t, []string{"jane_doe"}, report.Updated)
	assert.Equal(t, []string{"jane_doe"}, report.Written)
	assert.Equal(t, 1, report.UnchangedCount)
	assert.True(t, report.SourceChanged)

	uidsAfter := eventUIDs(t, f.readCalendar(t, "jane_doe.ics"))
	assert.Equal(t, uidsBefore, uidsAfter, "subscribers see an update, not a delete/re-add")
}

func TestRunRemovedPersonArchived(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)

	f.writeRoster(t, `name,date,start,end
Jane Doe,2026-03-01,09:00,17:00
Jane Doe,2026-03-02,13:00,21:00
`)
	report := f.run(t, runAt.Add(4*time.Hour))

	assert.Equal(t, []string{"john_smith"}, report.EmptiedPeople)
	assert.Equal(t, []string{"john_smith"}, report.Archived)
	assert.NoFileExists(t, filepath.Join(f.cfg.Publish.OutputDir, "john_smith.ics"))

	archived, err := os.ReadDir(f.cfg.Publish.ArchiveDir)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Contains(t, archived[0].Name(), "john_smith_")

	// Third run: the archived person stays gone.
	report = f.run(t, runAt.Add(8*time.Hour))
	assert.Empty(t, report.EmptiedPeople)
	assert.Empty(t, report.Archived)
}

func TestRunPunctuatedNameStaysStable(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, "name,date,start,end\nJ. Doe-Smith,2026-03-01,09:00,17:00\n")

	report := f.run(t, runAt)
	assert.Equal(t, []string{"j._doe-smith"}, report.New)
	published := filepath.Join(f.cfg.Publish.OutputDir, "j_doe_smith.ics")
	assert.FileExists(t, published)

	// The filename is a lossy rendering of the person key; the second run
	// must map the file back to the same person, not see a new person
	// plus a departed one.
	report = f.run(t, runAt.Add(4*time.Hour))
	assert.Empty(t, report.New)
	assert.Empty(t, report.Updated)
	assert.Empty(t, report.EmptiedPeople)
	assert.Empty(t, report.Archived)
	assert.Equal(t, 1, report.UnchangedCount)
	assert.FileExists(t, published)
}

func TestRunWriteEmptyReachesSteadyState(t *testing.T) {
	f := newFixture(t)
	f.cfg.Publish.Emptied = "write-empty"
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)

	f.writeRoster(t, `name,date,start,end
Jane Doe,2026-03-01,09:00,17:00
Jane Doe,2026-03-02,13:00,21:00
`)
	report := f.run(t, runAt.Add(4*time.Hour))
	assert.Equal(t, []string{"john_smith"}, report.EmptiedPeople)
	assert.Equal(t, []string{"john_smith"}, report.Written)

	johnPath := filepath.Join(f.cfg.Publish.OutputDir, "john_smith.ics")
	assert.Empty(t, eventUIDs(t, f.readCalendar(t, "john_smith.ics")))
	before, err := os.Stat(johnPath)
	require.NoError(t, err)

	// The empty calendar is published once; later runs find it in place
	// and must not rewrite it.
	report = f.run(t, runAt.Add(8*time.Hour))
	assert.Empty(t, report.EmptiedPeople)
	assert.Empty(t, report.Written)
	assert.False(t, report.HasChanges())
	assert.Equal(t, 2, report.UnchangedCount)

	after, err := os.Stat(johnPath)
	require.NoError(t, err)
	assert.True(t, after.ModTime().Equal(before.ModTime()))
}

func TestRunForceRewrites(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)

	r, err := NewRunner(f.cfg, &source.CSVSource{Path: f.roster})
	require.NoError(t, err)
	r.Force = true
	r.now = func() time.Time { return runAt.Add(4 * time.Hour) }

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"jane_doe", "john_smith"}, report.Written)
	// Classifications stay truthful even though everything was rewritten.
	assert.Equal(t, 2, report.UnchangedCount)
	assert.Empty(t, report.Updated)
}

func TestRunSurvivesStateLoss(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, twoPersonRoster)
	f.run(t, runAt)

	require.NoError(t, os.Remove(f.cfg.Publish.StateFile))
	report := f.run(t, runAt.Add(4*time.Hour))

	// Published files are the fallback source of truth; losing the sidecar
	// must not trigger a republish of identical content.
	assert.Empty(t, report.New)
	assert.Empty(t, report.Written)
	assert.Equal(t, 2, report.UnchangedCount)
}

func TestRunRejectsDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, `name,date,start,end
Jane Doe,2026-03-01,09:00,17:00
,2026-03-01,08:00,16:00
John Smith,not-a-date,08:00,16:00
`)
	report := f.run(t, runAt)

	assert.Equal(t, []string{"jane_doe"}, report.New)
	assert.Equal(t, 1, report.RejectedRows["MissingPerson"])
	assert.Equal(t, 1, report.RejectedRows["InvalidDate"])
}

func TestRunRecurringShifts(t *testing.T) {
	f := newFixture(t)
	f.writeRoster(t, "name,date,start,end\n")
	f.cfg.Recurring = []config.RecurringShift{{
		Person:  "Jane Doe",
		RRule:   "FREQ=WEEKLY;BYDAY=MO",
		Start:   "17:00",
		End:     "09:00",
		Summary: "Standby",
	}}
	f.cfg.HorizonDays = 14

	report := f.run(t, runAt)

	assert.Equal(t, []string{"jane_doe"}, report.New)
	uids := eventUIDs(t, f.readCalendar(t, "jane_doe.ics"))
	assert.Len(t, uids, 2, "two Mondays inside the horizon")
}

func TestReportSummary(t *testing.T) {
	report := &Report{
		Timestamp:     runAt,
		SourceChanged: true,
		New:           []string{"jane_doe"},
		EmptiedPeople: []string{"john_smith"},
	}
	out := report.Summary()
	assert.Contains(t, out, "Sync Report - 2026-02-25")
	assert.Contains(t, out, "Source file: CHANGED")
	assert.Contains(t, out, "+ jane_doe")
	assert.Contains(t, out, "- john_smith")
}
