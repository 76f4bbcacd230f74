// Package ids generates the local identifiers assigned to logbook entities.
//
// Identifiers are ULIDs: a 10 character Crockford base-32 millisecond
// timestamp followed by 16 characters of crypto/rand entropy. They sort
// lexicographically by creation time and need no server round trip.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Length is the number of characters in every identifier.
const Length = ulid.EncodedSize

// New returns a fresh identifier stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a fresh identifier stamped with t.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Timestamp extracts the embedded epoch milliseconds from id.
// Malformed input yields 0.
func Timestamp(id string) int64 {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return 0
	}
	return int64(parsed.Time())
}

// Valid reports whether id is a well formed identifier.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
