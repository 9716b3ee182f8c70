package model

import (
	"encoding/json"
	"time"
)

type boundaryKind uint8

const (
	kindNone boundaryKind = iota
	kindInstant
	kindDate
)

// Boundary is the start or end of an event: either a precise instant with
// its zone, or a zone-less calendar date meaning "all day". The zero value
// means the boundary is absent.
type Boundary struct {
	kind boundaryKind
	t    time.Time
	zone string
	date Date
}

// Instant builds an instant boundary. zone is informational (TZID or "UTC");
// t already carries the matching location.
func Instant(t time.Time, zone string) Boundary {
	if zone == "" {
		zone = t.Location().String()
	}
	return Boundary{kind: kindInstant, t: t, zone: zone}
}

// CalendarDate builds an all-day boundary.
func CalendarDate(d Date) Boundary {
	return Boundary{kind: kindDate, date: d}
}

func (b Boundary) IsZero() bool { return b.kind == kindNone }
func (b Boundary) IsDate() bool { return b.kind == kindDate }

// Time returns the instant; zero for date boundaries.
func (b Boundary) Time() time.Time { return b.t }

// Zone returns the zone name of an instant boundary.
func (b Boundary) Zone() string { return b.zone }

// Date returns the calendar date of a date boundary; zero for instants.
func (b Boundary) Date() Date { return b.date }

// DayIn returns the calendar day the boundary falls on as seen from loc.
// Date boundaries ignore loc.
func (b Boundary) DayIn(loc *time.Location) Date {
	switch b.kind {
	case kindDate:
		return b.date
	case kindInstant:
		if loc == nil {
			return DateOf(b.t)
		}
		return DateOf(b.t.In(loc))
	default:
		return Date{}
	}
}

// TimeIn returns the boundary as an instant; a date maps to midnight in loc.
func (b Boundary) TimeIn(loc *time.Location) time.Time {
	switch b.kind {
	case kindDate:
		return b.date.In(loc)
	case kindInstant:
		return b.t
	default:
		return time.Time{}
	}
}

// Before compares two boundaries as instants viewed from loc.
func (b Boundary) Before(o Boundary, loc *time.Location) bool {
	if b.kind == kindDate && o.kind == kindDate {
		return b.date.Before(o.date)
	}
	return b.TimeIn(loc).Before(o.TimeIn(loc))
}

func (b Boundary) Equal(o Boundary) bool {
	if b.kind != o.kind {
		return false
	}
	switch b.kind {
	case kindDate:
		return b.date.Equal(o.date)
	case kindInstant:
		return b.t.Equal(o.t)
	default:
		return true
	}
}

type boundaryJSON struct {
	DateTime *time.Time `json:"dateTime,omitempty"`
	TimeZone string     `json:"timeZone,omitempty"`
	Date     *Date      `json:"date,omitempty"`
}

// MarshalJSON mirrors the Google Calendar API shape: {"dateTime", "timeZone"}
// or {"date"}.
func (b Boundary) MarshalJSON() ([]byte, error) {
	var out boundaryJSON
	switch b.kind {
	case kindInstant:
		t := b.t
		out.DateTime = &t
		out.TimeZone = b.zone
	case kindDate:
		d := b.date
		out.Date = &d
	default:
		return []byte("null"), nil
	}
	return json.Marshal(out)
}

const DefaultTitle = "(No title)"

// Event is a normalized VEVENT. Events are built by the feed parser and not
// mutated afterwards.
type Event struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	ExternalLink string   `json:"externalLink,omitempty"`
	Start        Boundary `json:"start"`
	End          Boundary `json:"end"`
	AllDay       bool     `json:"allDay"`

	// Recurrence data, consumed by ics.Expand.
	RRule        string     `json:"-"`
	ExDates      []Boundary `json:"-"`
	RecurrenceID Boundary   `json:"-"`
}

// IsRecurring reports whether the event carries an RRULE.
func (e Event) IsRecurring() bool {
	return e.RRule != ""
}

// IsOverride reports whether the event replaces one instance of a recurring
// series.
func (e Event) IsOverride() bool {
	return !e.RecurrenceID.IsZero()
}
