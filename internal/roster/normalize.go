package roster

import (
	"fmt"
	"strings"
	"time"

	"rostercal/internal/config"
	"rostercal/internal/model"
)

// Row is one raw roster row: known column names mapped to raw cell values,
// plus the source line for error reporting. This is the input contract of
// the extraction layer; nothing here knows about spreadsheets.
type Row struct {
	Cells map[string]string
	Line  int
}

// RejectReason classifies why a row could not become a ShiftRecord.
type RejectReason string

const (
	MissingPerson    RejectReason = "MissingPerson"
	InvalidDate      RejectReason = "InvalidDate"
	InvalidTimeRange RejectReason = "InvalidTimeRange"
	UnparseableCell  RejectReason = "UnparseableCell"
)

// Reject is one rejected row with enough context for the run summary.
type Reject struct {
	Line   int
	Reason RejectReason
	Detail string
}

func (r Reject) String() string {
	return fmt.Sprintf("line %d: %s (%s)", r.Line, r.Reason, r.Detail)
}

// Result carries the outcome of normalizing one batch of rows.
type Result struct {
	Records []model.ShiftRecord
	Rejects []Reject
	// Skipped counts rows dropped without error: ignored or unknown
	// shift codes.
	Skipped int
}

// RejectCounts aggregates rejects by reason for the run report.
func (r Result) RejectCounts() map[RejectReason]int {
	counts := make(map[RejectReason]int)
	for _, rej := range r.Rejects {
		counts[rej.Reason]++
	}
	return counts
}

// dateLayouts are tried in order when parsing the date cell.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006/01/02",
}

// Normalizer turns raw rows into validated ShiftRecords. It is a pure
// transformation; one bad row never aborts the batch.
type Normalizer struct {
	cols    config.ColumnsConfig
	timed   map[string]config.TimedShift
	allday  map[string]string
	ignored map[string]struct{}
	loc     *time.Location
}

// NewNormalizer builds a Normalizer from configuration. All shift times
// resolve in loc.
func NewNormalizer(cfg *config.Config, loc *time.Location) *Normalizer {
	ignored := make(map[string]struct{}, len(cfg.IgnoreCodes))
	for _, c := range cfg.IgnoreCodes {
		ignored[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	timed := make(map[string]config.TimedShift, len(cfg.TimedShifts))
	for code, ts := range cfg.TimedShifts {
		timed[strings.ToUpper(code)] = ts
	}
	allday := make(map[string]string, len(cfg.AlldayEvents))
	for code, name := range cfg.AlldayEvents {
		allday[strings.ToUpper(code)] = name
	}
	return &Normalizer{
		cols:    cfg.Columns,
		timed:   timed,
		allday:  allday,
		ignored: ignored,
		loc:     loc,
	}
}

// Normalize processes all rows, collecting valid records and rejects.
func (n *Normalizer) Normalize(rows []Row) Result {
	var res Result
	for _, row := range rows {
		rec, rej, skip := n.normalizeRow(row)
		switch {
		case skip:
			res.Skipped++
		case rej != nil:
			res.Rejects = append(res.Rejects, *rej)
		default:
			res.Records = append(res.Records, rec)
		}
	}
	return res
}

func (n *Normalizer) normalizeRow(row Row) (model.ShiftRecord, *Reject, bool) {
	var rec model.ShiftRecord

	name := strings.TrimSpace(row.Cells[n.cols.Person])
	if name == "" {
		return rec, &Reject{Line: row.Line, Reason: MissingPerson, Detail: "empty person cell"}, false
	}

	rawDate := strings.TrimSpace(row.Cells[n.cols.Date])
	date, ok := n.parseDate(rawDate)
	if !ok {
		return rec, &Reject{Line: row.Line, Reason: InvalidDate, Detail: "unrecognized date " + orEmpty(rawDate)}, false
	}

	rec.PersonKey = NormalizeKey(name)
	rec.DisplayName = name
	rec.Date = date
	rec.Note = strings.TrimSpace(cell(row, n.cols.Note))

	// A shift code, when present, wins over explicit hour cells.
	if code := strings.ToUpper(strings.TrimSpace(cell(row, n.cols.Code))); code != "" {
		if _, ignore := n.ignored[code]; ignore {
			return rec, nil, true
		}
		if ts, ok := n.timed[code]; ok {
			return n.applyTimedShift(rec, row, ts)
		}
		if name, ok := n.allday[code]; ok {
			rec.AllDay = true
			rec.Summary = name
			return rec, nil, false
		}
		// Unknown code: matches the source roster's convention of
		// ignoring annotations that are not shifts.
		return rec, nil, true
	}

	rawStart := strings.TrimSpace(cell(row, n.cols.Start))
	rawEnd := strings.TrimSpace(cell(row, n.cols.End))

	// Person and date without hours is a valid all-day shift.
	if rawStart == "" && rawEnd == "" {
		rec.AllDay = true
		rec.Summary = defaultSummary(rec.Note)
		return rec, nil, false
	}
	if rawStart == "" || rawEnd == "" {
		return rec, &Reject{Line: row.Line, Reason: UnparseableCell, Detail: "one of start/end is empty"}, false
	}

	start, err := CombineClock(date, rawStart)
	if err != nil {
		return rec, &Reject{Line: row.Line, Reason: UnparseableCell, Detail: "start: " + err.Error()}, false
	}
	end, err := CombineClock(date, rawEnd)
	if err != nil {
		return rec, &Reject{Line: row.Line, Reason: UnparseableCell, Detail: "end: " + err.Error()}, false
	}

	if end.Equal(start) {
		return rec, &Reject{Line: row.Line, Reason: InvalidTimeRange, Detail: "zero-length shift"}, false
	}
	// End before start means the shift crosses midnight.
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}

	rec.Start = start
	rec.End = end
	rec.Summary = defaultSummary(rec.Note)
	return rec, nil, false
}

func (n *Normalizer) applyTimedShift(rec model.ShiftRecord, row Row, ts config.TimedShift) (model.ShiftRecord, *Reject, bool) {
	start, err := CombineClock(rec.Date, ts.Start)
	if err != nil {
		return rec, &Reject{Line: row.Line, Reason: UnparseableCell, Detail: "shift table start: " + err.Error()}, false
	}
	end, err := CombineClock(rec.Date, ts.End)
	if err != nil {
		return rec, &Reject{Line: row.Line, Reason: UnparseableCell, Detail: "shift table end: " + err.Error()}, false
	}
	if ts.SpansMidnight || end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	if end.Equal(start) {
		return rec, &Reject{Line: row.Line, Reason: InvalidTimeRange, Detail: "zero-length shift"}, false
	}
	rec.Start = start
	rec.End = end
	rec.Summary = ts.Name
	return rec, nil, false
}

func (n *Normalizer) parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, n.loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, n.loc), true
		}
	}
	return time.Time{}, false
}

// NormalizeKey turns a display name into the canonical person key:
// lowercased, whitespace runs collapsed to single underscores.
func NormalizeKey(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}

// CombineClock parses "HH:MM" (seconds optional) and anchors it on the
// given date.
func CombineClock(date time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	var t time.Time
	var err error
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err = time.Parse(layout, clock); err == nil {
			return time.Date(date.Year(), date.Month(), date.Day(),
				t.Hour(), t.Minute(), t.Second(), 0, date.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid clock value %q", clock)
}

func defaultSummary(note string) string {
	if note != "" {
		return note
	}
	return "Shift"
}

func cell(row Row, col string) string {
	if col == "" {
		return ""
	}
	return row.Cells[col]
}

func orEmpty(s string) string {
	if s == "" {
		return "<empty>"
	}
	return s
}
