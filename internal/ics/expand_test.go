package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calwidget/internal/model"
)

func juneConfig() ExpandConfig {
	return ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC),
	}
}

func TestExpandPassesThroughSingleEvents(t *testing.T) {
	ev := timed("single", time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC))
	res, err := Expand([]model.Event{ev}, juneConfig())
	require.NoError(t, err)
	assert.Equal(t, []model.Event{ev}, res.Events)
	assert.Empty(t, res.Truncated)
}

func TestExpandWeeklyTimed(t *testing.T) {
	start := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	ev := model.Event{
		ID:      "standup",
		Title:   "Standup",
		Start:   model.Instant(start, "UTC"),
		End:     model.Instant(start.Add(15*time.Minute), "UTC"),
		RRule:   "FREQ=WEEKLY;COUNT=10",
		ExDates: []model.Boundary{model.Instant(start.AddDate(0, 0, 7), "UTC")},
	}

	res, err := Expand([]model.Event{ev}, juneConfig())
	require.NoError(t, err)

	// June 2, 16, 23, 30 (June 9 excluded).
	assert.Equal(t, []string{
		"standup_20250602T090000Z",
		"standup_20250616T090000Z",
		"standup_20250623T090000Z",
		"standup_20250630T090000Z",
	}, ids(res.Events))
	for _, occ := range res.Events {
		assert.Equal(t, 15*time.Minute, occ.End.Time().Sub(occ.Start.Time()))
		assert.False(t, occ.IsRecurring())
		assert.Equal(t, "Standup", occ.Title)
	}
}

func TestExpandAllDayWithOverride(t *testing.T) {
	base := model.Event{
		ID:     "trip",
		Title:  "Trip",
		Start:  model.CalendarDate(model.NewDate(2025, time.June, 2)),
		End:    model.CalendarDate(model.NewDate(2025, time.June, 4)),
		AllDay: true,
		RRule:  "FREQ=WEEKLY;COUNT=3",
	}
	moved := model.Event{
		ID:           "trip",
		Title:        "Trip (moved)",
		Start:        model.CalendarDate(model.NewDate(2025, time.June, 10)),
		End:          model.CalendarDate(model.NewDate(2025, time.June, 12)),
		AllDay:       true,
		RecurrenceID: model.CalendarDate(model.NewDate(2025, time.June, 9)),
	}

	res, err := Expand([]model.Event{base, moved}, juneConfig())
	require.NoError(t, err)
	require.Len(t, res.Events, 3)

	assert.Equal(t, "trip_20250602", res.Events[0].ID)
	assert.Equal(t, model.NewDate(2025, time.June, 4), res.Events[0].End.Date())

	assert.Equal(t, "trip_20250609", res.Events[1].ID)
	assert.Equal(t, "Trip (moved)", res.Events[1].Title)
	assert.Equal(t, model.NewDate(2025, time.June, 10), res.Events[1].Start.Date())
	assert.False(t, res.Events[1].IsOverride())

	assert.Equal(t, "trip_20250616", res.Events[2].ID)
	assert.Equal(t, model.NewDate(2025, time.June, 18), res.Events[2].End.Date())
}

func TestExpandKeepsOngoingOccurrence(t *testing.T) {
	// A three-day block starting May 31st is still running on June 1st.
	ev := model.Event{
		ID:     "block",
		Start:  model.CalendarDate(model.NewDate(2025, time.May, 31)),
		End:    model.CalendarDate(model.NewDate(2025, time.June, 3)),
		AllDay: true,
		RRule:  "FREQ=MONTHLY;COUNT=2",
	}
	res, err := Expand([]model.Event{ev}, juneConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"block_20250531"}, ids(res.Events))
}

func TestExpandOrphanOverrides(t *testing.T) {
	orphan := func(moved, original int) model.Event {
		return model.Event{
			ID:           "lonely",
			Start:        model.CalendarDate(model.NewDate(2025, time.June, moved)),
			AllDay:       true,
			RecurrenceID: model.CalendarDate(model.NewDate(2025, time.June, original)),
		}
	}
	single := model.Event{
		ID:    "lonely",
		Start: model.Instant(time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC), "UTC"),
	}

	res, err := Expand([]model.Event{single, orphan(5, 4), orphan(12, 11)}, juneConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"lonely", "lonely_20250604", "lonely_20250611"}, ids(res.Events))
	for _, ev := range res.Events[1:] {
		assert.False(t, ev.IsOverride())
	}
	assert.Equal(t, model.NewDate(2025, time.June, 12), res.Events[2].Start.Date())
}

func TestExpandDateUntilInZoneWestOfUTC(t *testing.T) {
	for _, zone := range []string{"UTC", "Asia/Seoul", "America/Los_Angeles"} {
		t.Run(zone, func(t *testing.T) {
			loc, err := time.LoadLocation(zone)
			require.NoError(t, err)

			ev := model.Event{
				ID:     "standup",
				Start:  model.CalendarDate(model.NewDate(2025, time.June, 2)),
				End:    model.CalendarDate(model.NewDate(2025, time.June, 3)),
				AllDay: true,
				RRule:  "FREQ=WEEKLY;UNTIL=20250630",
			}
			res, err := Expand([]model.Event{ev}, ExpandConfig{
				Location:   loc,
				RangeStart: time.Date(2025, time.June, 1, 0, 0, 0, 0, loc),
				RangeEnd:   time.Date(2025, time.June, 30, 23, 59, 59, 0, loc),
			})
			require.NoError(t, err)
			assert.Equal(t, []string{
				"standup_20250602",
				"standup_20250609",
				"standup_20250616",
				"standup_20250623",
				"standup_20250630",
			}, ids(res.Events))
		})
	}
}

func TestExpandCap(t *testing.T) {
	ev := model.Event{
		ID:    "daily",
		Start: model.Instant(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC), "UTC"),
		RRule: "FREQ=DAILY",
	}
	cfg := juneConfig()
	cfg.MaxOccurrencesPerEvent = 5

	res, err := Expand([]model.Event{ev}, cfg)
	require.NoError(t, err)
	assert.Len(t, res.Events, 5)
	assert.Equal(t, []string{"daily"}, res.Truncated)
}

func TestExpandBadInput(t *testing.T) {
	cfg := juneConfig()
	cfg.RangeEnd = cfg.RangeStart.Add(-time.Hour)
	_, err := Expand(nil, cfg)
	assert.Error(t, err)

	broken := model.Event{
		ID:    "broken",
		Start: model.Instant(time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC), "UTC"),
		RRule: "FREQ=SOMETIMES",
	}
	res, err := Expand([]model.Event{broken}, juneConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}
