package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calwidget/internal/log"
	"calwidget/internal/model"
)

const (
	DefaultCalendarName = "Calendar"
	DefaultTimeZone     = "UTC"
)

// Property and parameter names, taken from the iCalendar vocabulary of the
// golang-ical package so the parser and the test fixtures agree on spelling.
var (
	propUID         = string(ical.ComponentPropertyUniqueId)
	propSummary     = string(ical.ComponentPropertySummary)
	propDescription = string(ical.ComponentPropertyDescription)
	propLocation    = string(ical.ComponentPropertyLocation)
	propURL         = string(ical.ComponentPropertyUrl)
	propDtStart     = string(ical.ComponentPropertyDtStart)
	propDtEnd       = string(ical.ComponentPropertyDtEnd)
	propRRule       = string(ical.ComponentPropertyRrule)
	propExDate      = string(ical.ComponentPropertyExdate)
	propCalName     = string(ical.PropertyXWRCalName)
	propCalTimezone = string(ical.PropertyXWRTimezone)

	paramValue = string(ical.ParameterValue)
	paramTZID  = string(ical.ParameterTzid)
	valueDate  = string(ical.ValueDataTypeDate)

	compEvent = string(ical.ComponentVEvent)
)

// Use raw property name to avoid constant mismatch across library versions.
const propRecurrenceID = "RECURRENCE-ID"

// Defaults are the caller-supplied fallbacks for feed-level metadata.
type Defaults struct {
	Name     string
	TimeZone string
}

// Feed is the result of parsing one calendar export.
type Feed struct {
	Name     string
	TimeZone string
	Events   []model.Event
	// Dropped counts VEVENT blocks discarded for a missing UID or DTSTART.
	Dropped int
}

// Parse converts raw iCalendar text into normalized events.
//
//   - It never fails: malformed lines are ignored and incomplete VEVENT
//     blocks (no UID, no usable DTSTART, no END:VEVENT) are dropped.
//   - X-WR-CALNAME / X-WR-TIMEZONE are looked up anywhere in the text.
//   - Floating date-times are read in TZID, else the feed zone, else the
//     default zone.
func Parse(feedText string, defaults Defaults) Feed {
	if defaults.Name == "" {
		defaults.Name = DefaultCalendarName
	}
	if defaults.TimeZone == "" {
		defaults.TimeZone = DefaultTimeZone
	}

	lines := unfold(feedText)
	name, zone := scanMetadata(lines, defaults)

	loc, err := time.LoadLocation(zone)
	if err != nil {
		appLog.Debug("ics: unknown feed timezone, using default", "zone", zone, "default", defaults.TimeZone)
		zone = defaults.TimeZone
		loc, err = time.LoadLocation(zone)
		if err != nil {
			zone, loc = DefaultTimeZone, time.UTC
		}
	}

	p := &parser{
		loc:    loc,
		zone:   zone,
		zones:  map[string]*time.Location{},
		events: make([]model.Event, 0),
	}
	for _, line := range lines {
		p.line(line)
	}
	if p.inEvent {
		// BEGIN:VEVENT without END:VEVENT.
		p.dropped++
	}

	appLog.Debug("ics parse completed", "name", name, "zone", zone, "event_count", len(p.events), "dropped", p.dropped)

	return Feed{
		Name:     name,
		TimeZone: zone,
		Events:   p.events,
		Dropped:  p.dropped,
	}
}

// unfold joins continuation lines (leading space or tab) onto the previous
// logical line.
func unfold(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if l != "" && (l[0] == ' ' || l[0] == '\t') {
			if len(out) > 0 {
				out[len(out)-1] += l[1:]
				continue
			}
			l = l[1:]
		}
		if l == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func scanMetadata(lines []string, defaults Defaults) (name, zone string) {
	for _, l := range lines {
		key, _, value, ok := splitContentLine(l)
		if !ok {
			continue
		}
		switch key {
		case propCalName:
			if name == "" {
				name = strings.TrimSpace(unescapeText(value))
			}
		case propCalTimezone:
			if zone == "" {
				zone = strings.TrimSpace(value)
			}
		}
		if name != "" && zone != "" {
			break
		}
	}
	if name == "" {
		name = defaults.Name
	}
	if zone == "" {
		zone = defaults.TimeZone
	}
	return name, zone
}

// splitContentLine splits "NAME;P1=a;P2=\"b:c\":value" on the first colon
// that is neither escaped nor inside a quoted parameter value.
func splitContentLine(line string) (key string, params map[string]string, value string, ok bool) {
	idx := -1
	quoted := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case '\\':
			i++
		case ':':
			if !quoted {
				idx = i
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx <= 0 {
		return "", nil, "", false
	}

	head := line[:idx]
	value = line[idx+1:]

	parts := strings.Split(head, ";")
	key = strings.ToUpper(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		params = make(map[string]string, len(parts)-1)
		for _, p := range parts[1:] {
			k, v, found := strings.Cut(p, "=")
			if !found {
				continue
			}
			params[strings.ToUpper(strings.TrimSpace(k))] = strings.Trim(v, `"`)
		}
	}
	return key, params, value, key != ""
}

// unescapeText reverses TEXT escaping. "\\" is handled last so that an
// escaped backslash cannot form a new escape sequence.
func unescapeText(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\N`, "\n")
	s = strings.ReplaceAll(s, `\,`, ",")
	s = strings.ReplaceAll(s, `\;`, ";")
	s = strings.ReplaceAll(s, `\\`, `\`)
	return s
}

type parser struct {
	loc   *time.Location
	zone  string
	zones map[string]*time.Location

	inEvent bool
	// depth counts nested components (VALARM, ...) inside the current VEVENT.
	depth int
	cur   model.Event

	events  []model.Event
	dropped int
}

func (p *parser) line(l string) {
	key, params, value, ok := splitContentLine(l)
	if !ok {
		return
	}

	switch key {
	case "BEGIN":
		if strings.EqualFold(strings.TrimSpace(value), compEvent) {
			if p.inEvent {
				p.dropped++
			}
			p.inEvent = true
			p.depth = 0
			p.cur = model.Event{}
			return
		}
		if p.inEvent {
			p.depth++
		}
	case "END":
		if !p.inEvent {
			return
		}
		// END:VEVENT closes the event even when a nested block was left open.
		if strings.EqualFold(strings.TrimSpace(value), compEvent) {
			p.depth = 0
			p.commit()
			return
		}
		if p.depth > 0 {
			p.depth--
		}
	default:
		if p.inEvent && p.depth == 0 {
			p.field(key, params, value)
		}
	}
}

func (p *parser) field(key string, params map[string]string, value string) {
	switch key {
	case propUID:
		p.cur.ID = strings.TrimSpace(value)
	case propSummary:
		p.cur.Title = unescapeText(value)
	case propDescription:
		p.cur.Description = unescapeText(value)
	case propLocation:
		p.cur.Location = unescapeText(value)
	case propURL:
		p.cur.ExternalLink = strings.TrimSpace(value)
	case propDtStart:
		p.cur.Start = p.boundary(value, params)
	case propDtEnd:
		p.cur.End = p.boundary(value, params)
	case propRRule:
		p.cur.RRule = strings.TrimSpace(value)
	case propExDate:
		for _, part := range strings.Split(value, ",") {
			if b := p.boundary(part, params); !b.IsZero() {
				p.cur.ExDates = append(p.cur.ExDates, b)
			}
		}
	case propRecurrenceID:
		p.cur.RecurrenceID = p.boundary(value, params)
	}
}

func (p *parser) commit() {
	ev := p.cur
	p.inEvent = false
	p.cur = model.Event{}

	if ev.ID == "" || ev.Start.IsZero() {
		p.dropped++
		appLog.Debug("ics: dropping vevent without uid or start", "uid", ev.ID)
		return
	}
	if strings.TrimSpace(ev.Title) == "" {
		ev.Title = model.DefaultTitle
	}
	ev.AllDay = ev.Start.IsDate()
	if !ev.End.IsZero() && ev.End.Before(ev.Start, p.loc) {
		ev.End = model.Boundary{}
	}
	p.events = append(p.events, ev)
}

// boundary decodes a DATE or DATE-TIME token. An unusable token yields the
// zero Boundary.
func (p *parser) boundary(value string, params map[string]string) model.Boundary {
	v := strings.TrimSpace(value)

	if strings.EqualFold(params[paramValue], valueDate) || len(v) == len("20060102") {
		d, ok := parseDateToken(v)
		if !ok {
			return model.Boundary{}
		}
		return model.CalendarDate(d)
	}

	if strings.HasSuffix(v, "Z") {
		t, ok := parseDateTimeToken(strings.TrimSuffix(v, "Z"), time.UTC)
		if !ok {
			return model.Boundary{}
		}
		return model.Instant(t, "UTC")
	}

	loc, zone := p.loc, p.zone
	if tzid := params[paramTZID]; tzid != "" {
		if l := p.location(tzid); l != nil {
			loc, zone = l, tzid
		}
	}
	t, ok := parseDateTimeToken(v, loc)
	if !ok {
		return model.Boundary{}
	}
	return model.Instant(t, zone)
}

func (p *parser) location(name string) *time.Location {
	if l, ok := p.zones[name]; ok {
		return l
	}
	l, err := time.LoadLocation(name)
	if err != nil {
		appLog.Debug("ics: unknown TZID, using feed zone", "tzid", name, "zone", p.zone)
		l = nil
	}
	p.zones[name] = l
	return l
}

// parseDateToken parses YYYYMMDD.
func parseDateToken(v string) (model.Date, bool) {
	if len(v) != 8 || !allDigits(v) {
		return model.Date{}, false
	}
	t, err := time.Parse("20060102", v)
	if err != nil {
		return model.Date{}, false
	}
	return model.DateOf(t), true
}

// parseDateTimeToken parses YYYYMMDDTHHMMSS (the T is optional) in loc.
func parseDateTimeToken(v string, loc *time.Location) (time.Time, bool) {
	v = strings.Replace(v, "T", "", 1)
	if len(v) != 14 || !allDigits(v) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102150405", v, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
