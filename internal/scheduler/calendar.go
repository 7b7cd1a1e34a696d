package scheduler

import (
	"fmt"
	"time"
)

// Breakdown is one instant projected into a single timezone's calendar.
// Weekday follows 0=Sunday..6=Saturday. RDay is the signed offset from the
// last day of the month: -1 means last day, -2 second-to-last, and so on.
type Breakdown struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Day     int `json:"day"`
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
	RDay    int `json:"rday"`
}

// Projector converts absolute instants into per-timezone calendar
// breakdowns. It memoizes one resolved location per distinct timezone
// string and the last-day-of-month results it has computed.
//
// A Projector is built per tick and discarded with it, which bounds both
// caches; it is not safe for concurrent use.
type Projector struct {
	locations map[string]*time.Location
	lastDays  map[string]int
}

func NewProjector() *Projector {
	return &Projector{
		locations: map[string]*time.Location{},
		lastDays:  map[string]int{},
	}
}

// Project returns the calendar breakdown of epoch (a unix timestamp) in
// the given IANA timezone. An unknown timezone is an error; callers decide
// whether to fall back to a default zone.
func (p *Projector) Project(epoch int64, tz string) (Breakdown, error) {
	loc, err := p.location(tz)
	if err != nil {
		return Breakdown{}, err
	}
	t := time.Unix(epoch, 0).In(loc)
	b := Breakdown{
		Year:    t.Year(),
		Month:   int(t.Month()),
		Day:     t.Day(),
		Weekday: int(t.Weekday()),
		Hour:    t.Hour(),
		Minute:  t.Minute(),
	}
	b.RDay = (b.Day - p.lastDayInMonth(b.Year, b.Month)) - 1
	return b, nil
}

func (p *Projector) location(tz string) (*time.Location, error) {
	if loc, ok := p.locations[tz]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	p.locations[tz] = loc
	return loc, nil
}

func (p *Projector) lastDayInMonth(year, month int) int {
	key := fmt.Sprintf("%d/%d", year, month)
	if d, ok := p.lastDays[key]; ok {
		return d
	}
	// Day 0 of the next month is the last day of this one.
	d := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	p.lastDays[key] = d
	return d
}
