package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

// InventoryTimeout is the default wait for a full inventory answer.
const InventoryTimeout = 20 * time.Second

// Inventory is the set of asset keys the peripheral already holds.
type Inventory map[protocol.AssetKey]struct{}

// Has reports whether k is in the inventory.
func (inv Inventory) Has(k protocol.AssetKey) bool {
	_, ok := inv[k]
	return ok
}

// InventoryResult is delivered to the inventory waiter.
type InventoryResult struct {
	Keys Inventory
	Err  error
}

type inventoryRequest struct {
	keys     Inventory
	expected uint32
	started  bool
	resultC  chan InventoryResult
	sentAt   time.Time
}

// InventoryTracker manages the single outstanding inventory request and
// collects the start/data/end frames that answer it.
type InventoryTracker struct {
	mu      sync.Mutex
	pending *inventoryRequest
}

func NewInventoryTracker() *InventoryTracker {
	return &InventoryTracker{}
}

// Begin registers a new request. A second request while one is outstanding is
// rejected with ErrInventoryBusy.
func (t *InventoryTracker) Begin() (<-chan InventoryResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return nil, fmt.Errorf("%w (started %s ago)", ErrInventoryBusy, time.Since(t.pending.sentAt).Round(time.Millisecond))
	}
	t.pending = &inventoryRequest{
		keys:    make(Inventory),
		resultC: make(chan InventoryResult, 1),
		sentAt:  time.Now(),
	}
	return t.pending.resultC, nil
}

// HasPending returns true if a request is outstanding.
func (t *InventoryTracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

func (t *InventoryTracker) finishLocked(res InventoryResult) {
	t.pending.resultC <- res
	close(t.pending.resultC)
	t.pending = nil
}

// HandleFrame feeds an inventory frame from the TripControl channel. It
// reports whether the frame belonged to the inventory protocol.
func (t *InventoryTracker) HandleFrame(tc *protocol.TripControl) bool {
	switch tc.Op {
	case protocol.OpInventoryStart, protocol.OpInventoryData, protocol.OpInventoryEnd, protocol.OpInventoryError:
	default:
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		logger.Debug("inventory", "unsolicited %s dropped", protocol.TripOpName(tc.Op))
		return true
	}

	req := t.pending
	switch tc.Op {
	case protocol.OpInventoryStart:
		req.started = true
		req.expected = tc.Count
		clear(req.keys)
	case protocol.OpInventoryData:
		for _, k := range tc.Keys {
			req.keys[k] = struct{}{}
		}
	case protocol.OpInventoryEnd:
		if req.started && uint32(len(req.keys)) != req.expected {
			logger.Warn("inventory", "peripheral announced %d keys, received %d", req.expected, len(req.keys))
		}
		logger.Debug("inventory", "%d keys in %s", len(req.keys), time.Since(req.sentAt).Round(time.Millisecond))
		t.finishLocked(InventoryResult{Keys: req.keys})
	case protocol.OpInventoryError:
		t.finishLocked(InventoryResult{Err: &PeerError{Channel: protocol.ChannelTripControl, Message: tc.Message}})
	}
	return true
}

// Wait blocks for the answer to the request started by Begin. On timeout the
// request is failed so a new one can begin.
func (t *InventoryTracker) Wait(ctx context.Context, ch <-chan InventoryResult, timeout time.Duration) (Inventory, error) {
	if timeout <= 0 {
		timeout = InventoryTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Keys, res.Err
	case <-timer.C:
		return t.abandon(ch, fmt.Errorf("%w after %s", ErrInventoryTimeout, timeout))
	case <-ctx.Done():
		return t.abandon(ch, ctx.Err())
	}
}

// abandon fails the request behind ch if it is still pending. A request that
// already finished keeps its result, and a newer request is left alone.
func (t *InventoryTracker) abandon(ch <-chan InventoryResult, err error) (Inventory, error) {
	t.mu.Lock()
	if t.pending != nil && t.pending.resultC == ch {
		t.finishLocked(InventoryResult{Err: err})
	}
	t.mu.Unlock()

	res := <-ch
	return res.Keys, res.Err
}

// Cancel fails the pending request, if any. Used on timeout and link loss.
func (t *InventoryTracker) Cancel(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return
	}
	t.finishLocked(InventoryResult{Err: err})
}

// FilterMissing returns the candidates not present in inv, preserving order.
// When the inventory request failed (err != nil) every candidate is returned:
// sending too much beats silently skipping a tile.
func FilterMissing(candidates []protocol.AssetKey, inv Inventory, err error) []protocol.AssetKey {
	if err != nil {
		out := make([]protocol.AssetKey, len(candidates))
		copy(out, candidates)
		return out
	}

	out := make([]protocol.AssetKey, 0, len(candidates))
	for _, k := range candidates {
		if !inv.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
