package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"calwidget/internal/ics"
	"calwidget/internal/layout"
	appLog "calwidget/internal/log"
)

// layoutOutput is what the layout command prints.
type layoutOutput struct {
	Name     string             `json:"name"`
	TimeZone string             `json:"timeZone"`
	Dropped  int                `json:"dropped"`
	Layout   layout.MonthLayout `json:"layout"`
	Hidden   map[int][7]int     `json:"hidden,omitempty"`
	Titles   map[string]string  `json:"titles"`
}

func newLayoutCmd() *cobra.Command {
	var (
		file     string
		month    string
		timezone string
		rows     int
	)

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the month layout of a local .ics file as JSON",
		Example: `  calwidget layout --file team.ics --month 2025-06
  curl -s https://example.com/basic.ics | calwidget layout --file - --tz Asia/Seoul`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readFeed(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			out, err := buildLayout(text, month, timezone, rows, time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", `Path to the .ics file ("-" reads stdin)`)
	cmd.Flags().StringVar(&month, "month", "", "Month to lay out as YYYY-MM (default: current month)")
	cmd.Flags().StringVar(&timezone, "tz", "", "Display time zone (default: the feed's X-WR-TIMEZONE)")
	cmd.Flags().IntVar(&rows, "rows", layout.DefaultVisibleRows, "Visible rows per week for overflow counts")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readFeed(stdin io.Reader, file string) (string, error) {
	if file == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func buildLayout(text, month, timezone string, rows int, now time.Time) (layoutOutput, error) {
	feed := ics.Parse(text, ics.Defaults{TimeZone: timezone})

	zone := feed.TimeZone
	if timezone != "" {
		zone = timezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return layoutOutput{}, fmt.Errorf("unknown time zone %q: %w", zone, err)
	}

	ref := now.In(loc)
	if month != "" {
		ref, err = time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			return layoutOutput{}, fmt.Errorf("invalid --month %q: %w", month, err)
		}
	}
	year, month0 := ref.Year(), int(ref.Month())-1

	weeks := layout.MonthGrid(year, month0)
	first, _, _ := weeks[0].Span()
	_, last, _ := weeks[len(weeks)-1].Span()
	expanded, err := ics.Expand(feed.Events, ics.ExpandConfig{
		Location:   loc,
		RangeStart: first.In(loc),
		RangeEnd:   last.AddDays(1).In(loc),
	})
	if err != nil {
		return layoutOutput{}, err
	}
	for _, id := range expanded.Truncated {
		appLog.Info("recurrence truncated", "event", id)
	}

	out := layoutOutput{
		Name:     feed.Name,
		TimeZone: loc.String(),
		Dropped:  feed.Dropped,
		Layout:   layout.NewEngine(loc).LayoutMonth(year, month0, expanded.Events),
		Hidden:   map[int][7]int{},
		Titles:   map[string]string{},
	}
	for _, ev := range expanded.Events {
		out.Titles[ev.ID] = ev.Title
	}
	for _, wl := range out.Layout.Weeks {
		if h := wl.Hidden(rows); h != ([7]int{}) {
			out.Hidden[wl.Week.Index] = h
		}
	}
	return out, nil
}
