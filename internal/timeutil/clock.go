package timeutil

import (
	"sync"
	"time"
)

// Clock supplies the current time; services take one so tests can pin it
type Clock interface {
	Now() time.Time
}

var (
	mu  sync.RWMutex
	loc = time.UTC
)

// SetLocation sets the display zone used by reports and CLI output
func SetLocation(name string) error {
	l, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	mu.Lock()
	loc = l
	mu.Unlock()
	return nil
}

// Location returns the configured display zone
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return loc
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FormatLocal formats t in the configured display zone
func FormatLocal(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// Common layouts
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	DisplayLayout  = "02 Jan 2006, 03:04 PM"
)
