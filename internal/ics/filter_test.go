package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"calwidget/internal/model"
)

func timed(id string, start time.Time) model.Event {
	return model.Event{ID: id, Title: id, Start: model.Instant(start, "UTC")}
}

func allDayEvent(id string, d model.Date) model.Event {
	return model.Event{ID: id, Title: id, Start: model.CalendarDate(d), AllDay: true}
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestFilterRange(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2025, time.June, d, h, 0, 0, 0, time.UTC) }
	events := []model.Event{
		timed("late", day(20, 9)),
		timed("before", day(1, 9)),
		allDayEvent("allday", model.NewDate(2025, time.June, 10)),
		timed("edge-min", day(5, 0)),
		timed("edge-max", day(25, 0)),
		timed("after", day(26, 0)),
		timed("early", day(10, 8)),
	}

	got := FilterRange(events, day(5, 0), day(25, 0), time.UTC)
	assert.Equal(t, []string{"edge-min", "allday", "early", "late", "edge-max"}, ids(got))

	// Input is left untouched.
	assert.Equal(t, "late", events[0].ID)
}

func TestFilterRangeOpenEnded(t *testing.T) {
	events := []model.Event{
		timed("b", time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)),
		timed("a", time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)),
	}
	assert.Equal(t, []string{"a", "b"}, ids(FilterRange(events, time.Time{}, time.Time{}, nil)))
	assert.Empty(t, FilterRange(nil, time.Time{}, time.Time{}, nil))
}

func TestFilterRangeAllDayUsesLocation(t *testing.T) {
	seoul, _ := time.LoadLocation("Asia/Seoul")
	ev := allDayEvent("a", model.NewDate(2025, time.June, 10))

	// Midnight June 10th in Seoul is 15:00 UTC on June 9th.
	timeMax := time.Date(2025, time.June, 9, 15, 0, 0, 0, time.UTC)
	assert.Len(t, FilterRange([]model.Event{ev}, time.Time{}, timeMax, seoul), 1)
	assert.Empty(t, FilterRange([]model.Event{ev}, time.Time{}, timeMax, time.UTC))
}

func TestFilterRangeStableOnTies(t *testing.T) {
	at := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	events := []model.Event{timed("x", at), timed("y", at), timed("z", at)}
	assert.Equal(t, []string{"x", "y", "z"}, ids(FilterRange(events, time.Time{}, time.Time{}, time.UTC)))
}
