package layout

import (
	"sort"
	"time"

	"calwidget/internal/model"
)

// DefaultVisibleRows is how many stacked rows a week cell shows before the
// renderer switches to a "+N more" indicator.
const DefaultVisibleRows = 3

// Placement is where one event sits inside one week row.
type Placement struct {
	EventID     string `json:"eventId"`
	WeekIndex   int    `json:"weekIndex"`
	StartColumn int    `json:"startColumn"`
	ColumnSpan  int    `json:"columnSpan"`
	Row         int    `json:"row"`

	// ContinuesBefore is set when the event started before StartColumn's day,
	// ContinuesAfter when it runs past the last spanned column.
	ContinuesBefore bool `json:"continuesBefore"`
	ContinuesAfter  bool `json:"continuesAfter"`
}

// WeekLayout is a week row together with its placements.
type WeekLayout struct {
	Week       Week        `json:"week"`
	Placements []Placement `json:"placements"`
}

// Hidden counts, per column, the placements stacked at or beyond maxRows.
func (wl WeekLayout) Hidden(maxRows int) [7]int {
	var out [7]int
	for _, p := range wl.Placements {
		if p.Row < maxRows {
			continue
		}
		for c := p.StartColumn; c < p.StartColumn+p.ColumnSpan; c++ {
			out[c]++
		}
	}
	return out
}

// Rows returns the number of stacking rows in use.
func (wl WeekLayout) Rows() int {
	n := 0
	for _, p := range wl.Placements {
		if p.Row+1 > n {
			n = p.Row + 1
		}
	}
	return n
}

// MonthLayout is the layout of a whole month grid.
type MonthLayout struct {
	Year   int          `json:"year"`
	Month0 int          `json:"month"`
	Weeks  []WeekLayout `json:"weeks"`
}

// Engine computes grid placements. Instants are turned into calendar days
// in the engine's location. An Engine holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	loc *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc}
}

func (e *Engine) Location() *time.Location {
	return e.loc
}

// EffectiveEnd returns the inclusive end of ev. The DTEND of an all-day event
// names the first day it no longer occurs, so one day is subtracted. A
// missing end, or one that would land before the start, collapses to start.
func (e *Engine) EffectiveEnd(ev model.Event) model.Boundary {
	if ev.End.IsZero() {
		return ev.Start
	}
	if ev.AllDay {
		startDay := ev.Start.DayIn(e.loc)
		last := ev.End.DayIn(e.loc).AddDays(-1)
		if last.Before(startDay) {
			return ev.Start
		}
		return model.CalendarDate(last)
	}
	if ev.End.Before(ev.Start, e.loc) {
		return ev.Start
	}
	return ev.End
}

func (e *Engine) dayRange(ev model.Event) (first, last model.Date) {
	return ev.Start.DayIn(e.loc), e.EffectiveEnd(ev).DayIn(e.loc)
}

// SpansDay reports whether ev covers any part of day. Only calendar days are
// compared; the time of day is ignored.
func (e *Engine) SpansDay(ev model.Event, day model.Date) bool {
	first, last := e.dayRange(ev)
	return !day.Before(first) && !day.After(last)
}

// StartsOnDay reports whether ev begins on day.
func (e *Engine) StartsOnDay(ev model.Event, day model.Date) bool {
	return ev.Start.DayIn(e.loc).Equal(day)
}

// Visible returns the events that intersect the week's real days, in input
// order.
func (e *Engine) Visible(events []model.Event, week Week) []model.Event {
	from, to, ok := week.Span()
	if !ok {
		return nil
	}
	out := make([]model.Event, 0)
	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}
		first, last := e.dayRange(ev)
		if last.Before(from) || first.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// sortKey orders by start instant, then longer events first.
type sortKey struct {
	start    time.Time
	duration time.Duration
}

func (e *Engine) key(ev model.Event) sortKey {
	start := ev.Start.TimeIn(e.loc)
	end := e.EffectiveEnd(ev)
	var d time.Duration
	if ev.AllDay {
		first, last := e.dayRange(ev)
		d = time.Duration(first.DaysUntil(last)+1) * 24 * time.Hour
	} else {
		d = end.TimeIn(e.loc).Sub(start)
	}
	return sortKey{start: start, duration: d}
}

// PlaceWeek computes the placements of events within one week row.
//
// Events are ordered by start, ties broken by longer duration first, then
// each one takes the lowest row whose columns are all free (first fit). The
// result is deterministic; events beyond the visible row cap are still
// placed.
func (e *Engine) PlaceWeek(events []model.Event, week Week) []Placement {
	visible := e.Visible(events, week)
	placements := make([]Placement, 0, len(visible))
	if len(visible) == 0 {
		return placements
	}

	keys := make([]sortKey, len(visible))
	order := make([]int, len(visible))
	for i, ev := range visible {
		keys[i] = e.key(ev)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		if !ka.start.Equal(kb.start) {
			return ka.start.Before(kb.start)
		}
		return ka.duration > kb.duration
	})

	var occupied [][7]bool
	for _, idx := range order {
		ev := visible[idx]

		startCol := -1
		for c, s := range week.Slots {
			if s.Valid && e.SpansDay(ev, s.Date) {
				startCol = c
				break
			}
		}
		if startCol < 0 {
			continue
		}
		span := 0
		for c := startCol; c < 7; c++ {
			s := week.Slots[c]
			if !s.Valid || !e.SpansDay(ev, s.Date) {
				break
			}
			span++
		}

		row := firstFreeRow(occupied, startCol, span)
		for len(occupied) <= row {
			occupied = append(occupied, [7]bool{})
		}
		for c := startCol; c < startCol+span; c++ {
			occupied[row][c] = true
		}

		lastDay := week.Slots[startCol+span-1].Date
		placements = append(placements, Placement{
			EventID:         ev.ID,
			WeekIndex:       week.Index,
			StartColumn:     startCol,
			ColumnSpan:      span,
			Row:             row,
			ContinuesBefore: !e.StartsOnDay(ev, week.Slots[startCol].Date),
			ContinuesAfter:  e.SpansDay(ev, lastDay.AddDays(1)),
		})
	}
	return placements
}

func firstFreeRow(occupied [][7]bool, startCol, span int) int {
	for r, cells := range occupied {
		free := true
		for c := startCol; c < startCol+span; c++ {
			if cells[c] {
				free = false
				break
			}
		}
		if free {
			return r
		}
	}
	return len(occupied)
}

// LayoutMonth lays out every week of the month grid. month0 is zero-based.
func (e *Engine) LayoutMonth(year, month0 int, events []model.Event) MonthLayout {
	weeks := MonthGrid(year, month0)
	out := MonthLayout{
		Year:   year,
		Month0: month0,
		Weeks:  make([]WeekLayout, 0, len(weeks)),
	}
	for _, w := range weeks {
		out.Weeks = append(out.Weeks, WeekLayout{Week: w, Placements: e.PlaceWeek(events, w)})
	}
	return out
}

// LayoutWeek lays out the seven days starting at start.
func (e *Engine) LayoutWeek(start model.Date, events []model.Event) WeekLayout {
	w := WindowGrid(start)
	return WeekLayout{Week: w, Placements: e.PlaceWeek(events, w)}
}
