package ics

import (
	"fmt"
	"strings"
)

// ErrNameCollision is returned when two distinct person keys normalize to
// the same output filename. Silently overwriting one person's calendar
// with another's is never acceptable, so this is fatal for the batch.
var ErrNameCollision = fmt.Errorf("filename collision")

// Filename derives the published filename for a person key: lowercase,
// non-alphanumeric runs collapsed to a single underscore, ".ics" suffix.
func Filename(personKey string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(personKey) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		name = "calendar"
	}
	return name + ".ics"
}

// assignFilenames maps person keys to filenames, rejecting the batch when
// two distinct keys collide.
func assignFilenames(personKeys []string) (map[string]string, error) {
	names := make(map[string]string, len(personKeys))
	owners := make(map[string]string, len(personKeys))
	for _, key := range personKeys {
		fn := Filename(key)
		if prev, taken := owners[fn]; taken && prev != key {
			return nil, fmt.Errorf("%w: %q and %q both map to %q", ErrNameCollision, prev, key, fn)
		}
		owners[fn] = key
		names[key] = fn
	}
	return names, nil
}

// DisplayNameFromKey reconstructs a readable label from a person key, for
// people known only from previous state ("jane_doe" -> "Jane Doe").
func DisplayNameFromKey(personKey string) string {
	parts := strings.Split(personKey, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
