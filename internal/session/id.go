package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh session identifier: a UTC timestamp for sortability
// plus a short random suffix for uniqueness, e.g. "20250115-142301-a3f8b2c1".
func NewID() string {
	ts := time.Now().UTC().Format("20060102-150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ts + "-" + suffix
}
