// Package state persists the small sidecar index rostercal needs between
// runs: per-person published checksums and per-UID fingerprint derivation
// times. The design tolerates the sidecar being absent or corrupt; the
// previous checksums can always be recovered from the published files
// themselves.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rostercal/internal/ics"
	appLog "rostercal/internal/log"
	"rostercal/internal/model"
)

// CalendarState is the published snapshot of one person's calendar.
type CalendarState struct {
	Checksum string `json:"checksum"`
	Filename string `json:"filename"`
}

// EventState remembers when an event's current fingerprint was first
// derived, so unchanged events keep a stable LAST-MODIFIED across runs.
type EventState struct {
	Fingerprint string    `json:"fingerprint"`
	DerivedAt   time.Time `json:"derived_at"`
}

// State is the sidecar index, serialized as JSON next to the output.
type State struct {
	SourceHash string                   `json:"source_hash,omitempty"`
	LastSync   time.Time                `json:"last_sync"`
	Calendars  map[string]CalendarState `json:"calendars"`
	Events     map[string]EventState    `json:"events"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Calendars: map[string]CalendarState{},
		Events:    map[string]EventState{},
	}
}

// Load reads the sidecar from path. A missing or unreadable file is not
// an error: the run proceeds as if no previous state existed.
func Load(path string) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return New()
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		appLog.Error("state file corrupt, starting fresh", err, "path", path)
		return New()
	}
	if s.Calendars == nil {
		s.Calendars = map[string]CalendarState{}
	}
	if s.Events == nil {
		s.Events = map[string]EventState{}
	}
	return &s
}

// Save writes the sidecar atomically (temp file + rename, 0600).
func (s *State) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rostercal-state-*.tmp")
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
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// PreviousChecksums builds the person -> checksum map the change detector
// consumes. The published files in outputDir are the source of truth for
// which people exist; the sidecar maps each file back to its person key
// via the stored filename, since filename derivation is lossy (punctuated
// keys cannot be recovered by trimming the extension). Orphan files the
// sidecar does not claim fall back to the filename-derived key and are
// re-read and re-checksummed.
func (s *State) PreviousChecksums(outputDir string) map[string]string {
	previous := make(map[string]string)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return previous
	}
	onDisk := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ics") {
			continue
		}
		onDisk[entry.Name()] = true
	}

	claimed := make(map[string]bool, len(s.Calendars))
	for personKey, cs := range s.Calendars {
		if !onDisk[cs.Filename] {
			// Stale entry: the published file is gone, nothing to compare.
			continue
		}
		claimed[cs.Filename] = true
		if cs.Checksum != "" {
			previous[personKey] = cs.Checksum
			continue
		}
		previous[personKey] = s.recoverChecksum(outputDir, cs.Filename)
	}

	for filename := range onDisk {
		if claimed[filename] {
			continue
		}
		previous[strings.TrimSuffix(filename, ".ics")] = s.recoverChecksum(outputDir, filename)
	}

	return previous
}

func (s *State) recoverChecksum(outputDir, filename string) string {
	sum, err := ics.ChecksumFile(filepath.Join(outputDir, filename))
	if err != nil {
		appLog.Error("cannot recover checksum of published file", err, "file", filename)
		// Present but unknown content: empty checksum classifies UPDATED.
		return ""
	}
	return sum
}

// RecoverEvents rebuilds the event index from the published files when
// the sidecar was lost. Each published event carries its fingerprint and
// last-modified time, so unchanged events keep stable bytes even after
// the index is gone. Files that fail to parse contribute nothing; their
// events are restamped on this run.
func (s *State) RecoverEvents(outputDir string) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return
	}

	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ics") {
			continue
		}
		stamps, err := ics.ReadEventStamps(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			appLog.Error("cannot recover event stamps", err, "file", entry.Name())
			continue
		}
		for uid, stamp := range stamps {
			s.Events[uid] = EventState{Fingerprint: stamp.Fingerprint, DerivedAt: stamp.Modified}
			recovered++
		}
	}
	if recovered > 0 {
		appLog.Info("event index rebuilt from published files", "events", recovered)
	}
}

// StampEvents assigns each event's Modified time: events whose
// fingerprint is unchanged keep the stored derivation time, changed or
// new fingerprints get now. The event index is replaced wholesale so
// UIDs that left the roster are pruned.
func (s *State) StampEvents(events []model.CalendarEvent, now time.Time) []model.CalendarEvent {
	next := make(map[string]EventState, len(events))
	stamped := make([]model.CalendarEvent, len(events))

	for i, ev := range events {
		if prev, ok := s.Events[ev.UID]; ok && prev.Fingerprint == ev.Fingerprint && !prev.DerivedAt.IsZero() {
			ev.Modified = prev.DerivedAt
		} else {
			ev.Modified = now
		}
		next[ev.UID] = EventState{Fingerprint: ev.Fingerprint, DerivedAt: ev.Modified}
		stamped[i] = ev
	}

	s.Events = next
	return stamped
}

// RecordCalendar updates the published snapshot for one person.
func (s *State) RecordCalendar(personKey, filename, checksum string) {
	s.Calendars[personKey] = CalendarState{Checksum: checksum, Filename: filename}
}

// ForgetCalendar drops a person from the index (emptied and archived).
func (s *State) ForgetCalendar(personKey string) {
	delete(s.Calendars, personKey)
}
