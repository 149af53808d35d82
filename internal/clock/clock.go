package clock

import "time"

// Clock abstracts time so session timing logic stays deterministic in tests.
type Clock interface {
	Now() time.Time
}

// Real returns wall-clock time in UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }
