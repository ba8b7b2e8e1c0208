package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Zone is the single institutional timezone. Every conversion from a
// timestamp to a ledger date goes through it.
type Zone struct {
	loc *time.Location
}

// LoadZone resolves an IANA zone name. Empty means the process local zone.
func LoadZone(name string) (Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Zone{loc: time.Local}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("timezone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// NewZone wraps an already resolved location.
func NewZone(loc *time.Location) Zone {
	if loc == nil {
		loc = time.Local
	}
	return Zone{loc: loc}
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.Local
	}
	return z.loc
}

func (z Zone) String() string { return z.Location().String() }

// Today returns the institutional calendar date of now.
func (z Zone) Today(now time.Time) Date { return DateOf(now.In(z.Location())) }

// ClockTime returns the institutional wall-clock time of now as "15:04:05".
func (z Zone) ClockTime(now time.Time) string { return now.In(z.Location()).Format("15:04:05") }

// HourMinute returns the institutional wall-clock time of now as "15:04".
func (z Zone) HourMinute(now time.Time) string { return now.In(z.Location()).Format("15:04") }
