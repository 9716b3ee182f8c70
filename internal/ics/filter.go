package ics

import (
	"sort"
	"time"

	"calwidget/internal/model"
)

// FilterRange keeps the events whose start lies in the inclusive window
// [timeMin, timeMax] and returns them sorted by start, earliest first. A zero
// timeMin or timeMax leaves that side open. Date starts are read as midnight
// in loc.
func FilterRange(events []model.Event, timeMin, timeMax time.Time, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		t := ev.Start.TimeIn(loc)
		if !timeMin.IsZero() && t.Before(timeMin) {
			continue
		}
		if !timeMax.IsZero() && t.After(timeMax) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.TimeIn(loc).Before(out[j].Start.TimeIn(loc))
	})
	return out
}
