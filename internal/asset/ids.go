package asset

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newID builds ids of the form <prefix>_<unix-millis>_<suffix> so records
// sort by creation time and never collide within a millisecond.
func newID(prefix string, now time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}

// NewCapsuleID returns a fresh capsule id.
func NewCapsuleID(now time.Time) string { return newID("cap", now) }

// NewEventID returns a fresh evolution event id.
func NewEventID(now time.Time) string { return newID("evt", now) }

// NewFailureID returns a fresh failed-capsule id.
func NewFailureID(now time.Time) string { return newID("fail", now) }
