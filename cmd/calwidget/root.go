package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calwidget",
		Short: "Calendar widget backend for public Google calendars",
		Long: `calwidget downloads public iCalendar feeds, parses them and lays their
events out on a Sunday-first month or week grid.

It can run as:
  - An HTTP API for the widget front end (serve)
  - A one-shot tool that prints the layout of a local .ics file (layout)`,
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(`{{printf "calwidget version %s\n" .Version}}`)

	root.AddCommand(newServeCmd())
	root.AddCommand(newLayoutCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calwidget version %s\n", version)
		},
	}
}
