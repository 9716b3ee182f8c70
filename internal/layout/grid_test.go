package layout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calwidget/internal/model"
)

func TestMonthGridJune2025(t *testing.T) {
	// June 1st 2025 is a Sunday; June has 30 days.
	weeks := MonthGrid(2025, 5)
	require.Len(t, weeks, 5)

	assert.Equal(t, Slot{Date: model.NewDate(2025, time.June, 1), Valid: true}, weeks[0].Slots[0])
	assert.Equal(t, model.NewDate(2025, time.June, 7), weeks[0].Slots[6].Date)

	last := weeks[4]
	assert.Equal(t, 4, last.Index)
	assert.Equal(t, model.NewDate(2025, time.June, 29), last.Slots[0].Date)
	assert.Equal(t, model.NewDate(2025, time.June, 30), last.Slots[1].Date)
	for c := 2; c < 7; c++ {
		assert.False(t, last.Slots[c].Valid)
		assert.True(t, last.Slots[c].Date.IsZero())
	}
}

func TestMonthGridPadding(t *testing.T) {
	tests := []struct {
		name     string
		year     int
		month0   int
		weeks    int
		leading  int
		trailing int
	}{
		{"february 2015 fits four rows", 2015, 1, 4, 0, 0},
		{"march 2025 needs six rows", 2025, 2, 6, 6, 5},
		{"january 2025", 2025, 0, 5, 3, 1},
		{"leap february 2024", 2024, 1, 5, 4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weeks := MonthGrid(tt.year, tt.month0)
			require.Len(t, weeks, tt.weeks)

			leading := 0
			for _, s := range weeks[0].Slots {
				if s.Valid {
					break
				}
				leading++
			}
			trailing := 0
			lastRow := weeks[len(weeks)-1].Slots
			for c := 6; c >= 0 && !lastRow[c].Valid; c-- {
				trailing++
			}
			assert.Equal(t, tt.leading, leading)
			assert.Equal(t, tt.trailing, trailing)

			count := 0
			prev := model.Date{}
			for i, w := range weeks {
				assert.Equal(t, i, w.Index)
				for c, s := range w.Slots {
					if !s.Valid {
						continue
					}
					count++
					assert.Equal(t, time.Weekday(c), s.Date.Weekday())
					if !prev.IsZero() {
						assert.Equal(t, prev.AddDays(1), s.Date)
					}
					prev = s.Date
				}
			}
			first := model.NewDate(tt.year, time.Month(tt.month0+1), 1)
			assert.Equal(t, model.DaysIn(first.Year, first.Month), count)
		})
	}
}

func TestWeekSpan(t *testing.T) {
	weeks := MonthGrid(2025, 5)
	first, last, ok := weeks[4].Span()
	require.True(t, ok)
	assert.Equal(t, model.NewDate(2025, time.June, 29), first)
	assert.Equal(t, model.NewDate(2025, time.June, 30), last)

	_, _, ok = Week{}.Span()
	assert.False(t, ok)
}

func TestWindowGridAndWeekOf(t *testing.T) {
	w := WindowGrid(model.NewDate(2025, time.June, 11))
	for i, s := range w.Slots {
		assert.True(t, s.Valid)
		assert.Equal(t, model.NewDate(2025, time.June, 11+i), s.Date)
	}

	week := WeekOf(model.NewDate(2025, time.June, 11))
	assert.Equal(t, model.NewDate(2025, time.June, 8), week.Slots[0].Date)
	assert.Equal(t, time.Sunday, week.Slots[0].Date.Weekday())
}
