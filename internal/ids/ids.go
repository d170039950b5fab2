// Package ids mints the opaque identifiers used throughout a recognition
// session: session, request, connection, and auth-fetch ids.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh 32-character lowercase hex id with no dashes,
// matching the format every minted id in the session core must satisfy.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
