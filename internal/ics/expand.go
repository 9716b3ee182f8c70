package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calwidget/internal/log"
	"calwidget/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone used to read all-day boundaries as instants.
	// If nil, time.UTC is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded events and the UIDs that hit the cap.
type ExpandResult struct {
	Events    []model.Event
	Truncated []string
}

// Expand replaces every recurring event with one event per occurrence inside
// the configured window. It handles:
//
//   - non-recurring events (passed through untouched)
//   - RRULE-based recurrence via rrule-go
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides
//   - all-day semantics (occurrences stay calendar dates)
//
// Output order follows input order, so expansion is deterministic.
func Expand(events []model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	recurring := make(map[string]bool)
	overridesByUID := make(map[string][]model.Event)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.ID] = append(overridesByUID[ev.ID], ev)
		} else if ev.IsRecurring() {
			recurring[ev.ID] = true
		}
	}

	out := make([]model.Event, 0, len(events))
	used := make(map[string]bool)

	for _, ev := range events {
		switch {
		case ev.IsOverride():
			if !recurring[ev.ID] {
				// Orphan override: nothing to replace, but it still needs an
				// id of its own next to other instances of the same UID.
				out = append(out, asInstance(ev, ev.RecurrenceID, cfg.Location))
			}
		case ev.IsRecurring():
			occ, hitCap := expandRecurring(ev, overridesByUID[ev.ID], used, cfg)
			out = append(out, occ...)
			if hitCap {
				result.Truncated = append(result.Truncated, ev.ID)
				appLog.Error("expand: truncated occurrences for UID due to cap",
					errors.New("max occurrences reached"),
					"uid", ev.ID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
		default:
			out = append(out, ev)
		}
	}

	// Overrides that moved an instance out of the generated set still
	// describe a real occurrence.
	for _, ev := range events {
		if !ev.IsOverride() || !recurring[ev.ID] {
			continue
		}
		key := overrideKey(ev, cfg.Location)
		if used[key] {
			continue
		}
		used[key] = true
		out = append(out, asInstance(ev, ev.RecurrenceID, cfg.Location))
	}

	result.Events = out
	return result, nil
}

func expandRecurring(ev model.Event, overrides []model.Event, used map[string]bool, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)
	hitCap := false

	// Date-only UNTIL values are read in the expansion zone, matching the
	// all-day DTSTART; rrule-go would otherwise read them as UTC midnight.
	var r *rrule.RRule
	opt, err := rrule.StrToROptionInLocation(ev.RRule, cfg.Location)
	if err == nil {
		r, err = rrule.NewRRule(*opt)
	}
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.ID, "rrule", ev.RRule)
		return out, false
	}

	start := ev.Start.TimeIn(cfg.Location)
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.TimeIn(cfg.Location).In(start.Location()))
	}

	// Widen the lower bound by the event length so an occurrence that started
	// before the window but is still running is kept.
	var length time.Duration
	if !ev.End.IsZero() {
		length = ev.End.TimeIn(cfg.Location).Sub(start)
	}
	rangeStart := cfg.RangeStart.Add(-length).In(start.Location())
	rangeEnd := cfg.RangeEnd.In(start.Location())

	times := set.Between(rangeStart, rangeEnd, true)
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, t := range times {
		occ := occurrence(ev, t, cfg.Location)

		for _, ov := range overrides {
			key := overrideKey(ov, cfg.Location)
			if used[key] {
				continue
			}
			if ov.RecurrenceID.TimeIn(cfg.Location).Equal(t) {
				used[key] = true
				occ = asInstance(ov, occ.Start, cfg.Location)
				break
			}
		}
		out = append(out, occ)
	}

	return out, hitCap
}

func overrideKey(ov model.Event, loc *time.Location) string {
	return ov.ID + "|" + ov.RecurrenceID.TimeIn(loc).UTC().Format(time.RFC3339)
}

// occurrence builds the instance of ev starting at t, preserving its length.
func occurrence(ev model.Event, t time.Time, loc *time.Location) model.Event {
	occ := ev
	occ.RRule = ""
	occ.ExDates = nil

	if ev.AllDay {
		day := model.DateOf(t.In(loc))
		occ.Start = model.CalendarDate(day)
		if !ev.End.IsZero() {
			days := ev.Start.Date().DaysUntil(ev.End.DayIn(loc))
			occ.End = model.CalendarDate(day.AddDays(days))
		}
	} else {
		occ.Start = model.Instant(t, ev.Start.Zone())
		if !ev.End.IsZero() {
			occ.End = model.Instant(t.Add(ev.End.TimeIn(loc).Sub(ev.Start.TimeIn(loc))), ev.End.Zone())
		}
	}
	occ.ID = instanceID(ev.ID, occ.Start, loc)
	return occ
}

// asInstance turns an override into a plain event keyed by its original slot.
func asInstance(ov model.Event, slot model.Boundary, loc *time.Location) model.Event {
	ov.ID = instanceID(ov.ID, slot, loc)
	ov.RecurrenceID = model.Boundary{}
	ov.RRule = ""
	ov.ExDates = nil
	return ov
}

// instanceID follows the Google Calendar instance id convention:
// uid_20250610 for all-day, uid_20250610T090000Z for timed instances.
func instanceID(uid string, start model.Boundary, loc *time.Location) string {
	if start.IsDate() {
		return uid + "_" + start.Date().In(loc).Format("20060102")
	}
	return uid + "_" + start.Time().UTC().Format("20060102T150405Z")
}
