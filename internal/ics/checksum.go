package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// generatedAtToken is the one calendar property carrying wall-clock time.
// It is excluded from the checksum so that re-rendering identical content
// at a later time still hashes the same.
const generatedAtToken = "X-GENERATED-AT"

// Checksum hashes a serialized calendar with the generated-at line
// filtered out. This is the value change detection compares between runs.
// Line endings are normalized before hashing, so a file written with CRLF
// and the same content split on bare LF checksum identically.
func Checksum(body []byte) string {
	lines := strings.Split(string(body), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, generatedAtToken+":") || strings.HasPrefix(line, generatedAtToken+";") {
			continue
		}
		kept = append(kept, line)
	}
	sum := sha256.Sum256([]byte(strings.Join(kept, "\n")))
	return hex.EncodeToString(sum[:])
}

// ChecksumFile recomputes the checksum of a previously published file.
// This is the sidecar-less recovery path: when the state index is missing,
// the last published checksum is re-derived from the artifact itself.
func ChecksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Checksum(data), nil
}
