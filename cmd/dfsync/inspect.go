package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dungeonfaster/dfsync/pkg/campaign"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <campaign.json>",
		Short: "Show the party and referenced files of a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := campaign.OpenFile(args[0])
			if err != nil {
				return err
			}
			doc := source.Document()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Campaign: %s\n", doc.Name)
			if doc.CurrentLocation != "" {
				fmt.Fprintf(out, "Location: %s\n", doc.CurrentLocation)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAYER\tCLASS\tRACE\tLEVEL\tPOSITION")
			for _, p := range doc.Party {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.Name, p.Class, p.Race, p.Level, p.Position.Point())
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			files := doc.Assets()
			fmt.Fprintf(out, "\nFiles (%d):\n", len(files))
			for _, f := range files {
				fmt.Fprintf(out, "  %s\n", f)
			}
			return nil
		},
	}
}
