// Package keys builds the idempotency keys stored on every remote event.
// The same logical request must always produce the same key.
package keys

import (
	"regexp"
	"strings"
)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	unsafeEmail = regexp.MustCompile(`[^a-z0-9@.]`)
)

// Manual returns the key for a manual check-in, e.g.
// "11-08-2025_P100_10day_p100@example.com".
func Manual(baseDate, title, kindLabel, attendeeEmail string) string {
	datePart := strings.ReplaceAll(baseDate, "/", "-")
	typePart := whitespace.ReplaceAllString(kindLabel, "")
	emailPart := unsafeEmail.ReplaceAllString(strings.ToLower(attendeeEmail), "_")
	return datePart + "_" + title + "_" + typePart + "_" + emailPart
}

// CSV returns the key for an imported row, e.g. "701_11-02-2025_B2STARTMIN10".
func CSV(participantID, date, columnCode string) string {
	return participantID + "_" + strings.ReplaceAll(date, "/", "-") + "_" + columnCode
}
