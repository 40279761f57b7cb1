package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/papersync/link"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
	"github.com/user/papersync/transfer"
)

// TileAsset is a packed 256x256 bitmap ready to send.
type TileAsset struct {
	Key    protocol.AssetKey
	Bitmap []byte
}

// TileOptions tunes SendTiles.
type TileOptions struct {
	// SkipExisting asks the peripheral for its inventory first and only sends
	// the tiles it lacks. A failed inventory sends everything.
	SkipExisting     bool
	InventoryTimeout time.Duration

	// Progress is called after each tile with the running count.
	Progress func(done, total int, label string, err error)
}

// opContext derives a context for one send operation. It fails fast unless
// the session is Ready and is cancelled with the link's cause when the link
// ends.
func (s *Session) opContext(parent context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	st, lctx := s.state, s.linkCtx
	s.mu.Unlock()
	if st != Ready || lctx == nil {
		return nil, nil, fmt.Errorf("%w (%s)", ErrNotReady, st)
	}

	ctx, cancel := context.WithCancelCause(parent)
	stop := context.AfterFunc(lctx, func() {
		cancel(context.Cause(lctx))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}, nil
}

// opErr makes link loss visible in the error of an operation it interrupted.
func opErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause != nil && errors.Is(cause, link.ErrLinkLost) && !errors.Is(err, link.ErrLinkLost) {
		return fmt.Errorf("%w: %w", link.ErrLinkLost, err)
	}
	return err
}

func (s *Session) send(ctx context.Context, ch protocol.Channel, frame []byte) error {
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer done()
	return opErr(ctx, s.out.Send(ctx, ch, frame))
}

// SendTiles uploads tiles stop-and-wait. A failed tile is recorded in the
// summary and the batch continues; only ctx or link loss stop it early.
func (s *Session) SendTiles(ctx context.Context, tiles []TileAsset, opts TileOptions) (transfer.Summary, error) {
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return transfer.Summary{}, err
	}
	defer done()

	candidates := tiles
	if opts.SkipExisting {
		keys := make([]protocol.AssetKey, len(tiles))
		for i, t := range tiles {
			keys[i] = t.Key
		}
		inv, invErr := s.requestInventory(ctx, opts.InventoryTimeout)
		if invErr != nil {
			if ctx.Err() != nil {
				return transfer.Summary{}, opErr(ctx, invErr)
			}
			logger.Warn("session", "inventory failed, sending all %d tiles: %v", len(tiles), invErr)
		}

		missing := make(map[protocol.AssetKey]bool)
		for _, k := range transfer.FilterMissing(keys, inv, invErr) {
			missing[k] = true
		}
		candidates = make([]TileAsset, 0, len(missing))
		for _, t := range tiles {
			if missing[t.Key] {
				candidates = append(candidates, t)
			}
		}
	}

	var bad []transfer.Failure
	items := make([]transfer.Item, 0, len(candidates))
	for _, t := range candidates {
		if len(t.Bitmap) != protocol.TileBitmapBytes {
			bad = append(bad, transfer.Failure{
				Label: t.Key.String(),
				Err:   fmt.Errorf("session: tile %s bitmap is %d bytes, want %d", t.Key, len(t.Bitmap), protocol.TileBitmapBytes),
			})
			continue
		}
		items = append(items, transfer.Item{
			Label: t.Key.String(),
			Frame: protocol.EncodeTile(protocol.NewTile(t.Key, t.Bitmap)),
		})
	}

	var progress func(int, transfer.Item, error)
	if opts.Progress != nil {
		total := len(items)
		progress = func(n int, it transfer.Item, err error) {
			opts.Progress(n, total, it.Label, err)
		}
	}

	sum, err := s.out.SendBatch(ctx, protocol.ChannelTile, items, s.tileAcks, progress)
	sum.Skipped = len(tiles) - len(candidates)
	for _, f := range bad {
		sum.Attempted++
		sum.Failed++
		if sum.FirstError == nil {
			sum.FirstError = f.Err
		}
		sum.Failures = append(sum.Failures, f)
	}
	return sum, opErr(ctx, err)
}

// SendRoute uploads one route and waits for its acknowledgement.
func (s *Session) SendRoute(ctx context.Context, r protocol.Route) error {
	frame, err := protocol.EncodeRoute(r)
	if err != nil {
		return err
	}
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer done()

	item := transfer.Item{Label: r.Name, Frame: frame}
	sum, err := s.out.SendBatch(ctx, protocol.ChannelRoute, []transfer.Item{item}, s.routeAcks, nil)
	if err != nil {
		return opErr(ctx, err)
	}
	return sum.FirstError
}

func (s *Session) SendWeather(ctx context.Context, w protocol.Weather) error {
	return s.send(ctx, protocol.ChannelWeather, protocol.EncodeWeather(w))
}

func (s *Session) SendRadar(ctx context.Context, r protocol.Radar) error {
	frame, err := protocol.EncodeRadar(r)
	if err != nil {
		return err
	}
	return s.send(ctx, protocol.ChannelRadar, frame)
}

// SendNotification shows n on the display, replacing any with the same ID.
func (s *Session) SendNotification(ctx context.Context, n protocol.Notification) error {
	frame, err := protocol.EncodeNotificationAdd(n)
	if err != nil {
		return err
	}
	return s.send(ctx, protocol.ChannelNotification, frame)
}

func (s *Session) RemoveNotification(ctx context.Context, id uint32) error {
	return s.send(ctx, protocol.ChannelNotification, protocol.EncodeNotificationRemove(id))
}

func (s *Session) SendDeviceStatus(ctx context.Context, st protocol.DeviceStatus) error {
	return s.send(ctx, protocol.ChannelDeviceStatus, protocol.EncodeDeviceStatus(st))
}

// SendHomeCoords answers a navigate-home request.
func (s *Session) SendHomeCoords(ctx context.Context, lat, lon float32) error {
	return s.send(ctx, protocol.ChannelNavigateHome, protocol.EncodeHomeCoords(lat, lon))
}

// SendNavigateError tells the peripheral no route home is available.
func (s *Session) SendNavigateError(ctx context.Context, msg string) error {
	return s.send(ctx, protocol.ChannelNavigateHome, protocol.EncodeNavigateError(msg))
}

func (s *Session) StartTrip(ctx context.Context, name string) error {
	return s.send(ctx, protocol.ChannelTripControl, protocol.EncodeStartTrip(name))
}

func (s *Session) StopTrip(ctx context.Context) error {
	return s.send(ctx, protocol.ChannelTripControl, protocol.EncodeStopTrip())
}

// UpdateActiveTrip tells the peripheral which trip the phone navigates; "" clears it.
func (s *Session) UpdateActiveTrip(ctx context.Context, name string) error {
	return s.send(ctx, protocol.ChannelTripControl, protocol.EncodeActiveTrip(name))
}

// RequestRecordingList asks for the recording list; it arrives as a
// RecordingListReceived event.
func (s *Session) RequestRecordingList(ctx context.Context) error {
	return s.send(ctx, protocol.ChannelRecordingControl, protocol.EncodeRecordingListRequest())
}

// DownloadRecording requests one recorded trip and waits for it. A zero
// timeout uses the configured download timeout. A recording that ended
// early is returned with Complete false.
func (s *Session) DownloadRecording(ctx context.Context, name string, timeout time.Duration) (*transfer.Recording, error) {
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	waitC, err := s.recordings.Expect(name)
	if err != nil {
		return nil, err
	}
	if err := s.out.Send(ctx, protocol.ChannelRecordingControl, protocol.EncodeRecordingDownload(name)); err != nil {
		s.recordings.Cancel(err)
		return nil, opErr(ctx, err)
	}

	if timeout <= 0 {
		timeout = s.cfg.DownloadTimeout
	}
	rec, err := s.recordings.Wait(ctx, waitC, timeout)
	return rec, opErr(ctx, err)
}

// RequestInventory asks which tiles the peripheral holds. Only one request
// may be outstanding.
func (s *Session) RequestInventory(ctx context.Context, timeout time.Duration) (transfer.Inventory, error) {
	ctx, done, err := s.opContext(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	inv, err := s.requestInventory(ctx, timeout)
	return inv, opErr(ctx, err)
}

func (s *Session) requestInventory(ctx context.Context, timeout time.Duration) (transfer.Inventory, error) {
	waitC, err := s.inventory.Begin()
	if err != nil {
		return nil, err
	}
	if err := s.out.Send(ctx, protocol.ChannelTripControl, protocol.EncodeInventoryRequest()); err != nil {
		s.inventory.Cancel(err)
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.cfg.InventoryTimeout
	}
	return s.inventory.Wait(ctx, waitC, timeout)
}
