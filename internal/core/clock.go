package core

import "time"

// Clock supplies the timestamps used for archive revisions and operation
// timing. Tests substitute a fixed clock via WithClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
