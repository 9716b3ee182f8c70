package layout

import (
	"time"

	"calwidget/internal/model"
)

// Slot is one day cell of a week row. Padding slots (days outside the
// displayed month) are not Valid, carry no date and never host events.
type Slot struct {
	Date  model.Date `json:"date"`
	Valid bool       `json:"valid"`
}

// Week is a Sunday-first row of seven slots.
type Week struct {
	Index int     `json:"index"`
	Slots [7]Slot `json:"slots"`
}

// Span returns the first and last real day of the row. ok is false when the
// row has no populated slot.
func (w Week) Span() (first, last model.Date, ok bool) {
	for _, s := range w.Slots {
		if !s.Valid {
			continue
		}
		if !ok {
			first = s.Date
			ok = true
		}
		last = s.Date
	}
	return first, last, ok
}

// MonthGrid partitions a month into week rows. month0 is zero-based
// (0 = January). The first row is padded before the 1st and the last row
// after the final day so every row has exactly seven slots.
func MonthGrid(year, month0 int) []Week {
	first := model.NewDate(year, time.Month(month0+1), 1)
	days := model.DaysIn(first.Year, first.Month)
	lead := int(first.Weekday())

	weeks := make([]Week, 0, 6)
	var cur Week
	col := lead
	for d := 0; d < days; d++ {
		cur.Slots[col] = Slot{Date: first.AddDays(d), Valid: true}
		col++
		if col == 7 {
			cur.Index = len(weeks)
			weeks = append(weeks, cur)
			cur = Week{}
			col = 0
		}
	}
	if col > 0 {
		cur.Index = len(weeks)
		weeks = append(weeks, cur)
	}
	return weeks
}

// WindowGrid returns a single fully populated row of seven consecutive days
// starting at start.
func WindowGrid(start model.Date) Week {
	var w Week
	for i := range w.Slots {
		w.Slots[i] = Slot{Date: start.AddDays(i), Valid: true}
	}
	return w
}

// WeekOf returns the Sunday-first week containing day.
func WeekOf(day model.Date) Week {
	return WindowGrid(day.StartOfWeek())
}
