package clock

import "time"

// Clock abstracts time.Now so quota resets and billing intervals are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
