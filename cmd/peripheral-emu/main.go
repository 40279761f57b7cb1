// peripheral-emu serves the emulated display over a WebSocket bridge so
// papersync can be exercised without hardware. Tiles and recordings live in
// a bbolt database that survives restarts.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/papersync/link/wslink"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/peripheral"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/store"
	"github.com/user/papersync/util"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7300", "listen address")
	mtu := flag.Int("mtu", 247, "largest ATT MTU to grant")
	dbPath := flag.String("db", "", "store database (default <data dir>/emulator.db)")
	trips := flag.String("trips", "Morning Loop,Lake Ride", "comma-separated trip names")
	recording := flag.String("add-recording", "", "GPX file to add as a recording before serving")
	telemetry := flag.Duration("telemetry", 0, "send telemetry at this interval (0 disables)")
	level := flag.String("log", "INFO", "log level")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(*level))

	path := *dbPath
	if path == "" {
		path = util.GetStorePath("emulator")
	}
	db, err := store.Open(path)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	defer db.Close()

	if *recording != "" {
		if err := addRecording(db, *recording); err != nil {
			pterm.Error.Println(err)
			os.Exit(1)
		}
	}

	dev := peripheral.New(peripheral.Options{
		Tiles:      db,
		Recordings: db,
		Trips:      splitNames(*trips),
	})

	keys, _ := db.TileKeys()
	names, _ := db.RecordingNames()
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Device", dev.ID()},
		{"Store", path},
		{"Tiles", pterm.Sprint(len(keys))},
		{"Recordings", strings.Join(names, ", ")},
	}).Render()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *telemetry > 0 {
		go sendTelemetry(ctx, dev, *telemetry)
	}

	srv := wslink.NewServer(dev, *mtu)
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	st := dev.State()
	pterm.Info.Printfln("Shut down: %d tiles stored this run, %d routes, %d rejected frames", st.Tiles, len(st.Routes), st.Rejected)
}

func splitNames(list string) []string {
	var out []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func addRecording(db *store.DB, path string) error {
	gpx, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	fields, err := structpb.NewStruct(map[string]interface{}{
		"source":   filepath.Base(path),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	meta, err := protojson.Marshal(fields)
	if err != nil {
		return err
	}
	return db.SaveRecording(store.RecordingEntry{
		Name:     name,
		Meta:     meta,
		GPX:      gpx,
		Complete: true,
		Expected: len(meta) + len(gpx),
		Received: len(meta) + len(gpx),
	})
}

// sendTelemetry drains a simulated battery while a central is attached.
func sendTelemetry(ctx context.Context, dev *peripheral.Device, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	battery := uint8(100)
	for {
		select {
		case <-ticker.C:
			if !dev.State().Attached {
				continue
			}
			if dev.SendTelemetry(protocol.Telemetry{Battery: battery, GPSStage: 3, Satellites: 9}) && battery > 5 {
				battery--
			}
		case <-ctx.Done():
			return
		}
	}
}
