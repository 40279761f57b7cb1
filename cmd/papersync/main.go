// papersync connects to a peripheral bridge, pushes map tiles and routes,
// and pulls recorded trips into a local archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/user/papersync/config"
	"github.com/user/papersync/link/wslink"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/mono"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/session"
	"github.com/user/papersync/store"
	"github.com/user/papersync/transfer"
	"github.com/user/papersync/util"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:7300/link", "bridge URL")
	tilesDir := flag.String("tiles", "", "directory of z_x_y.png tiles to push")
	all := flag.Bool("all", false, "send every tile, even ones the peripheral already has")
	atkinson := flag.Bool("atkinson", false, "dither with the Atkinson kernel")
	routePath := flag.String("route", "", "GPX file to send as a route")
	download := flag.String("download", "", "comma-separated recordings to download")
	archive := flag.String("archive", "", "archive database (default <data dir>/recordings.db)")
	watch := flag.Bool("watch", false, "stay connected and print peripheral events")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	if *tilesDir == "" && *routePath == "" && *download == "" && !*watch {
		fmt.Println("Usage: papersync [--url ws://host:port/link] --tiles <dir> | --route <file.gpx> | --download <names> | --watch")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/papersync --tiles ./tiles")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := session.New(wslink.NewClient(*url, cfg.MTU), cfg)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	defer s.Close()

	if *watch {
		runWatch(ctx, s)
		return
	}

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + *url)
	if err := s.Connect(ctx); err != nil {
		spinner.Fail(err.Error())
		os.Exit(1)
	}
	spinner.Success(fmt.Sprintf("Ready (link %s)", s.ID()))

	failed := false
	if *tilesDir != "" {
		opts := mono.DefaultDitherOptions()
		if *atkinson {
			opts.Kernel = mono.Atkinson
		}
		if !pushTiles(ctx, s, *tilesDir, opts, !*all) {
			failed = true
		}
	}
	if *routePath != "" {
		if err := pushRoute(ctx, s, *routePath); err != nil {
			pterm.Error.Printfln("Route: %v", err)
			failed = true
		} else {
			pterm.Success.Printfln("Route %s stored", *routePath)
		}
	}
	if *download != "" {
		path := *archive
		if path == "" {
			path = util.GetStorePath("recordings")
		}
		if !downloadRecordings(ctx, s, strings.Split(*download, ","), path) {
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}

func pushTiles(ctx context.Context, s *session.Session, dir string, opts mono.DitherOptions, skipExisting bool) bool {
	tiles, problems := loadTiles(dir, opts)
	for _, p := range problems {
		pterm.Warning.Println(p)
	}
	if len(tiles) == 0 {
		pterm.Warning.Printfln("No tiles in %s", dir)
		return len(problems) == 0
	}
	pterm.Info.Printfln("Loaded %d tiles from %s", len(tiles), dir)

	var bar *pterm.ProgressbarPrinter
	sum, err := s.SendTiles(ctx, tiles, session.TileOptions{
		SkipExisting: skipExisting,
		Progress: func(done, total int, label string, err error) {
			if bar == nil {
				bar, _ = pterm.DefaultProgressbar.WithTotal(total).WithTitle("Tiles").Start()
			}
			bar.UpdateTitle("Tiles " + label)
			bar.Increment()
		},
	})
	if bar != nil {
		bar.Stop()
	}

	printSummary(sum)
	if err != nil {
		pterm.Error.Printfln("Tile upload stopped: %v", err)
		return false
	}
	return sum.Failed == 0
}

func printSummary(sum transfer.Summary) {
	data := pterm.TableData{
		{"Attempted", "Sent", "Failed", "Skipped", "Duration"},
		{
			fmt.Sprint(sum.Attempted),
			fmt.Sprint(sum.Succeeded),
			fmt.Sprint(sum.Failed),
			fmt.Sprint(sum.Skipped),
			sum.Duration.Round(time.Millisecond).String(),
		},
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if len(sum.Failures) == 0 {
		return
	}
	failures := pterm.TableData{{"Tile", "Error"}}
	for _, f := range sum.Failures {
		failures = append(failures, []string{f.Label, f.Err.Error()})
	}
	pterm.DefaultTable.WithHasHeader().WithData(failures).Render()
}

func pushRoute(ctx context.Context, s *session.Session, path string) error {
	gpx, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return s.SendRoute(ctx, protocol.Route{Name: name, GPX: gpx})
}

func downloadRecordings(ctx context.Context, s *session.Session, names []string, archivePath string) bool {
	db, err := store.Open(archivePath)
	if err != nil {
		pterm.Error.Println(err)
		return false
	}
	defer db.Close()

	ok := true
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		rec, err := s.DownloadRecording(ctx, name, 0)
		if err != nil {
			pterm.Error.Printfln("%s: %v", name, err)
			ok = false
			continue
		}
		entry := store.RecordingEntry{
			Name:     rec.Name,
			Meta:     rec.Meta,
			GPX:      rec.GPX,
			Complete: rec.Complete,
			Expected: rec.Expected,
			Received: rec.Received,
		}
		if err := db.SaveRecording(entry); err != nil {
			pterm.Error.Printfln("%s: %v", name, err)
			ok = false
			continue
		}
		if rec.Complete {
			pterm.Success.Printfln("%s: %d bytes archived", name, rec.Received)
		} else {
			pterm.Warning.Printfln("%s: incomplete, %d of %d bytes archived", name, rec.Received, rec.Expected)
		}
	}
	return ok
}

// runWatch keeps the link up and prints what the peripheral reports until
// interrupted.
func runWatch(ctx context.Context, s *session.Session) {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for {
		select {
		case ev := <-s.Events():
			printEvent(ev)
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				pterm.Error.Println(err)
			}
			return
		}
	}
}

func printEvent(ev session.Event) {
	switch e := ev.(type) {
	case session.StateChanged:
		if e.Reason != "" {
			pterm.Info.Printfln("%s -> %s (%s)", e.From, e.To, e.Reason)
		} else {
			pterm.Info.Printfln("%s -> %s", e.From, e.To)
		}
	case session.TripListReceived:
		pterm.Info.Printfln("Trips: %s", strings.Join(e.Names, ", "))
	case session.RecordingListReceived:
		pterm.Info.Printfln("Recordings: %s", strings.Join(e.Names, ", "))
	case session.FrameDropped:
		pterm.Warning.Printfln("Dropped frame on %s: %v", e.Channel, e.Err)
	default:
		pterm.Info.Println(logger.ToJSON(session.Describe(ev)))
	}
}
