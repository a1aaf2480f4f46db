package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dungeonfaster/dfsync/internal/config"
	"github.com/dungeonfaster/dfsync/pkg/campaign"
	"github.com/dungeonfaster/dfsync/pkg/client"
	"github.com/dungeonfaster/dfsync/pkg/discovery"
)

type joinFlags struct {
	addr         string
	user         string
	password     string
	snapshotMode string
	document     string
	downloads    string
	fetchAssets  bool
	discover     bool
	campaignName string
	retries      int
}

func joinCmd(g *globalFlags) *cobra.Command {
	var f joinFlags

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a campaign as a player",
		Long: `Join a running dfsync server.

After the campaign snapshot arrives, lines typed on stdin are sent to
the party:

  pos <x> <y>      move your character to a map position
  index <x> <y>    move your character to a grid cell
  file <path>      download a file from the server
  who              print the position table
  quit             leave

Anything else is sent as a raw message. Moves made by other players
are printed as they arrive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, func(c *config.Config) { f.apply(cmd, c) })
			if err != nil {
				return err
			}
			return runJoin(cmd.Context(), cfg, f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.addr, "addr", "a", "", "Server address (default 127.0.0.1:9191)")
	flags.StringVarP(&f.user, "user", "u", "", "Your character's name")
	flags.StringVarP(&f.password, "password", "p", "", "Password sent with the name")
	flags.StringVar(&f.snapshotMode, "snapshot-mode", "", "Snapshot framing: length-prefixed or legacy")
	flags.StringVar(&f.document, "document", "", "Save the received campaign to this file")
	flags.StringVar(&f.downloads, "downloads", "", "Directory for downloaded files")
	flags.BoolVar(&f.fetchAssets, "fetch-assets", false, "Download every file the campaign references")
	flags.BoolVar(&f.discover, "discover", false, "Find the server on the local network")
	flags.StringVar(&f.campaignName, "campaign-name", "", "With --discover, only join this campaign")
	flags.IntVar(&f.retries, "retries", 0, "Extra connection attempts")
	return cmd
}

func (f *joinFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		c.Client.Address = f.addr
	}
	if flags.Changed("user") {
		c.Client.User = f.user
	}
	if flags.Changed("password") {
		c.Client.Password = f.password
	}
	if flags.Changed("snapshot-mode") {
		c.Client.SnapshotMode = f.snapshotMode
	}
	if flags.Changed("document") {
		c.Client.Document = f.document
	}
	if flags.Changed("downloads") {
		c.Client.Downloads = f.downloads
	}
	if flags.Changed("fetch-assets") {
		c.Client.FetchAssets = f.fetchAssets
	}
	if flags.Changed("retries") {
		c.Client.DialRetries = f.retries
	}
}

func runJoin(parent context.Context, cfg *config.Config, f joinFlags, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.discover {
		browseCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.BrowseTimeout.Std())
		entry, err := discovery.Find(browseCtx, f.campaignName)
		cancel()
		if err != nil {
			return err
		}
		cfg.Client.Address = entry.Address()
		info("Found %s (%s) at %s", entry.Instance, entry.Campaign(), cfg.Client.Address)
	}

	cc, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	c, err := client.New(cc)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return err
	}
	if err := c.WaitEstablished(ctx); err != nil {
		return err
	}

	name := "campaign"
	if doc := c.Campaign(); doc != nil && doc.Name != "" {
		name = doc.Name
	}
	success("Joined %q as %s (%d bytes)", name, c.Player(), len(c.Document()))

	if cfg.Client.FetchAssets {
		fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		results, err := c.FetchAssets(fetchCtx)
		cancel()
		if err != nil {
			warn("%v", err)
		}
		printResults(out, results)
	}

	go printUpdates(out, c.Updates())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return c.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				warn("%v", err)
				continue
			}
			if cmd.kind == cmdQuit {
				return nil
			}
			if err := execute(ctx, c, cmd, out); err != nil {
				warn("%v", err)
			}
		}
	}
}

func execute(ctx context.Context, c *client.Client, cmd command, out io.Writer) error {
	switch cmd.kind {
	case cmdNone:
		return nil
	case cmdPosition:
		return c.SendPosition(c.Player(), cmd.point)
	case cmdIndex:
		return c.SendIndex(c.Player(), cmd.cell)
	case cmdFile:
		fetchCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		printResults(out, c.RequestFiles(fetchCtx, []string{cmd.arg}))
		return nil
	case cmdWho:
		printView(out, c.State())
		return nil
	default:
		return c.SendUpdate(cmd.arg)
	}
}

func printUpdates(out io.Writer, updates <-chan campaign.Update) {
	for u := range updates {
		switch u.Kind {
		case campaign.UpdatePosition:
			fmt.Fprintf(out, "  %s moved to %s\n", u.Player, u.Position)
		case campaign.UpdateIndex:
			fmt.Fprintf(out, "  %s moved to cell %s\n", u.Player, u.Index)
		}
	}
}

func printResults(out io.Writer, results []client.FileResult) {
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(out, "  ✗ %s: %v\n", r.Path, r.Err)
		case r.Cached:
			fmt.Fprintf(out, "  = %s (%d bytes, cached)\n", r.Path, r.Size)
		default:
			fmt.Fprintf(out, "  ↓ %s (%d bytes)\n", r.Path, r.Size)
		}
	}
}

func printView(out io.Writer, state *campaign.State) {
	view := state.View()
	for _, name := range state.Players() {
		line := "  " + name
		if p, ok := view.Positions[name]; ok {
			line += " at " + p.String()
		}
		if cell, ok := view.Indices[name]; ok {
			line += " cell " + cell.String()
		}
		fmt.Fprintln(out, line)
	}
}
