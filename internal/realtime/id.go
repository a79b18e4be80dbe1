package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newEnvelopeID returns a ULID used as the outbound envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func newEnvelopeID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// Envelope ids are trace metadata; callers treat empty as absent.
		return ""
	}
	return id.String()
}
