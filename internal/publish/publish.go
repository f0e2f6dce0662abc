// Package publish is the only component with side effects on persistent
// storage. It writes exactly the calendars classified CREATED or UPDATED,
// applies the configured policy to EMPTIED people, and never touches an
// UNCHANGED file, so unmodified calendars keep stable content and stable
// file metadata.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "rostercal/internal/log"
	"rostercal/internal/model"
)

// Emptied policies.
const (
	PolicyArchive    = "archive"
	PolicyWriteEmpty = "write-empty"
	PolicyKeep       = "keep"
)

// WriteError records a failed write for one person. Failures are isolated
// per file and never block the other writes.
type WriteError struct {
	PersonKey string
	Err       error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.PersonKey, e.Err)
}

// Outcome is the aggregate result of one publish cycle.
type Outcome struct {
	// Written lists person keys whose files were (re)written.
	Written []string
	// Archived lists person keys whose files were moved aside.
	Archived []string
	// UnchangedCount is the number of calendars left untouched.
	UnchangedCount int
	Errors         []WriteError
}

// Changed reports whether the cycle produced any file mutation. Downstream
// republish triggers key off this.
func (o Outcome) Changed() bool {
	return len(o.Written) > 0 || len(o.Archived) > 0
}

// Coordinator writes calendar files according to change records.
type Coordinator struct {
	OutputDir  string
	ArchiveDir string
	// EmptiedPolicy is one of the Policy constants.
	EmptiedPolicy string
	// Force rewrites UNCHANGED files as well. Classifications are still
	// reported truthfully; only the write decision changes.
	Force bool
}

// Publish applies the change records. calendars maps person key to the
// rendered document and must contain an entry for every CREATED/UPDATED
// record; under the write-empty policy it must also contain the empty
// rendering for EMPTIED people.
func (c *Coordinator) Publish(records []model.ChangeRecord, calendars map[string]model.PersonCalendar, now time.Time) Outcome {
	var out Outcome

	for _, rec := range records {
		switch rec.Classification {
		case model.Unchanged:
			if c.Force {
				c.write(&out, rec.PersonKey, calendars)
			} else {
				out.UnchangedCount++
			}

		case model.Created, model.Updated:
			c.write(&out, rec.PersonKey, calendars)

		case model.Emptied:
			c.applyEmptied(&out, rec, calendars, now)
		}
	}

	return out
}

func (c *Coordinator) write(out *Outcome, personKey string, calendars map[string]model.PersonCalendar) {
	cal, ok := calendars[personKey]
	if !ok {
		out.Errors = append(out.Errors, WriteError{PersonKey: personKey, Err: fmt.Errorf("no rendered document")})
		return
	}
	if err := writeFileAtomic(filepath.Join(c.OutputDir, cal.Filename), cal.Body); err != nil {
		appLog.Error("calendar write failed", err, "person", personKey, "file", cal.Filename)
		out.Errors = append(out.Errors, WriteError{PersonKey: personKey, Err: err})
		return
	}
	out.Written = append(out.Written, personKey)
}

func (c *Coordinator) applyEmptied(out *Outcome, rec model.ChangeRecord, calendars map[string]model.PersonCalendar, now time.Time) {
	switch c.EmptiedPolicy {
	case PolicyWriteEmpty:
		c.write(out, rec.PersonKey, calendars)

	case PolicyKeep:
		appLog.Info("emptied calendar kept in place", "person", rec.PersonKey, "file", rec.Filename)

	default: // PolicyArchive
		src := filepath.Join(c.OutputDir, rec.Filename)
		if _, err := os.Stat(src); err != nil {
			// Nothing to archive; the sidecar was stale.
			return
		}
		if err := os.MkdirAll(c.ArchiveDir, 0o755); err != nil {
			out.Errors = append(out.Errors, WriteError{PersonKey: rec.PersonKey, Err: err})
			return
		}
		base := strings.TrimSuffix(rec.Filename, ".ics")
		dst := filepath.Join(c.ArchiveDir, fmt.Sprintf("%s_%s.ics", base, now.Format("20060102_150405")))
		if err := os.Rename(src, dst); err != nil {
			appLog.Error("calendar archive failed", err, "person", rec.PersonKey, "file", rec.Filename)
			out.Errors = append(out.Errors, WriteError{PersonKey: rec.PersonKey, Err: err})
			return
		}
		appLog.Info("archived removed person", "person", rec.PersonKey, "archived_as", dst)
		out.Archived = append(out.Archived, rec.PersonKey)
	}
}

// writeFileAtomic writes via a temp file in the target directory followed
// by a rename, so readers never observe a partial calendar.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rostercal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
