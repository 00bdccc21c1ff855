package core

import (
	"time"

	"github.com/google/uuid"
)

// newID returns a random identifier for jobs, templates and audit entries.
func newID() string {
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
