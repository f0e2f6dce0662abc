package ics

import (
	"fmt"
)

// ErrRender marks an event that cannot be serialized. The builder skips
// such events with a warning instead of failing the person's whole file.
var ErrRender = fmt.Errorf("render error")

// validateText rejects free text the serializer has no escaped form for.
// Backslash, semicolon, comma and line breaks are escaped by the library
// when a TEXT property is serialized; control characters other than TAB
// and line breaks yield ErrRender.
func validateText(s string) error {
	for _, r := range s {
		switch r {
		case '\n', '\r', '\t':
		default:
			if r < 0x20 || r == 0x7f {
				return fmt.Errorf("%w: unescapable control character %#x", ErrRender, r)
			}
		}
	}
	return nil
}
