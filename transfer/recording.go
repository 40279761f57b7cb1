package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/protocol"
)

// DownloadTimeout bounds a whole recording download.
const DownloadTimeout = 60 * time.Second

// maxPrealloc caps the buffer reserved up front for a declared transfer size.
const maxPrealloc = 1 << 20

// RecordingState is the inbound transfer state.
type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingStarted
	RecordingReceiving
	RecordingCompleted
	RecordingErrored
)

func (s RecordingState) String() string {
	switch s {
	case RecordingIdle:
		return "idle"
	case RecordingStarted:
		return "started"
	case RecordingReceiving:
		return "receiving"
	case RecordingCompleted:
		return "completed"
	case RecordingErrored:
		return "errored"
	}
	return fmt.Sprintf("RecordingState(%d)", int(s))
}

// Recording is an assembled recorded trip.
type Recording struct {
	Name     string
	Meta     []byte
	GPX      []byte
	Expected int
	Received int
	Complete bool // false when the transfer ended early; Meta and GPX are truncated
}

// RecordingResult is delivered to a download waiter.
type RecordingResult struct {
	Recording *Recording
	Err       error
}

// RecordingReceiver assembles RecordingTransfer frames.
type RecordingReceiver struct {
	mu sync.Mutex

	state    RecordingState
	name     string
	metaSize int
	gpxSize  int
	buf      []byte

	waiter  chan RecordingResult
	waitFor string
}

func NewRecordingReceiver() *RecordingReceiver {
	return &RecordingReceiver{}
}

// State returns the current transfer state.
func (r *RecordingReceiver) State() RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Expect registers interest in the next completed transfer of name. Only one
// download may be awaited at a time.
func (r *RecordingReceiver) Expect(name string) (<-chan RecordingResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiter != nil {
		return nil, fmt.Errorf("%w: download of %q pending", ErrTransferBusy, r.waitFor)
	}
	r.waiter = make(chan RecordingResult, 1)
	r.waitFor = name
	return r.waiter, nil
}

// Wait blocks on a channel returned by Expect.
func (r *RecordingReceiver) Wait(ctx context.Context, ch <-chan RecordingResult, timeout time.Duration) (*Recording, error) {
	if timeout <= 0 {
		timeout = DownloadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.Recording, res.Err
	case <-timer.C:
		r.Cancel(ErrCancelled)
		return nil, fmt.Errorf("transfer: recording download timed out after %s", timeout)
	case <-ctx.Done():
		r.Cancel(ctx.Err())
		return nil, ctx.Err()
	}
}

// finishLocked delivers a result to the waiter, if any.
func (r *RecordingReceiver) finishLocked(res RecordingResult) {
	if r.waiter == nil {
		return
	}
	r.waiter <- res
	close(r.waiter)
	r.waiter = nil
	r.waitFor = ""
}

func (r *RecordingReceiver) resetLocked(state RecordingState) {
	r.state = state
	r.name = ""
	r.metaSize, r.gpxSize = 0, 0
	r.buf = nil
}

// Cancel drops any partial transfer and fails the waiter. Used on link loss.
func (r *RecordingReceiver) Cancel(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(RecordingIdle)
	r.finishLocked(RecordingResult{Err: err})
}

// HandleFrame feeds one notify. It returns the recording when a transfer
// completes, or an error for malformed input and peer error frames.
func (r *RecordingReceiver) HandleFrame(f *protocol.RecordingFrame) (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch f.Op {
	case protocol.OpRecordingStart:
		if r.state == RecordingStarted || r.state == RecordingReceiving {
			logger.Warn("transfer", "recording %q restarted as %q; discarding %d bytes", r.name, f.Name, len(r.buf))
		}
		r.resetLocked(RecordingStarted)
		r.name = f.Name
		r.metaSize = int(f.MetaSize)
		r.gpxSize = int(f.GPXSize)
		r.buf = make([]byte, 0, min(r.metaSize+r.gpxSize, maxPrealloc))
		return nil, nil

	case protocol.OpRecordingData:
		if r.state != RecordingStarted && r.state != RecordingReceiving {
			return nil, &protocol.ParseError{Channel: protocol.ChannelRecordingTransfer, Reason: "data without start"}
		}
		r.state = RecordingReceiving
		room := r.metaSize + r.gpxSize - len(r.buf)
		payload := f.Payload
		if len(payload) > room {
			logger.Warn("transfer", "recording %q: dropping %d bytes beyond declared size", r.name, len(payload)-room)
			payload = payload[:max(room, 0)]
		}
		r.buf = append(r.buf, payload...)
		return nil, nil

	case protocol.OpRecordingEnd:
		if r.state != RecordingStarted && r.state != RecordingReceiving {
			return nil, &protocol.ParseError{Channel: protocol.ChannelRecordingTransfer, Reason: "end without start"}
		}
		rec := r.assembleLocked()
		if !rec.Complete {
			logger.Warn("transfer", "recording %q incomplete: %d of %d bytes", rec.Name, rec.Received, rec.Expected)
		}
		r.resetLocked(RecordingCompleted)
		if r.waitFor == "" || r.waitFor == rec.Name {
			r.finishLocked(RecordingResult{Recording: rec})
		}
		return rec, nil

	case protocol.OpRecordingError:
		// the frame carries no name; it belongs to the transfer in flight, or
		// to the awaited download when none has started
		var name string
		if r.state == RecordingStarted || r.state == RecordingReceiving {
			name = r.name
		}
		err := &PeerError{Channel: protocol.ChannelRecordingTransfer, Message: f.Message}
		r.resetLocked(RecordingErrored)
		if name == "" || r.waitFor == "" || r.waitFor == name {
			r.finishLocked(RecordingResult{Err: err})
		} else {
			logger.Warn("transfer", "recording %q failed while waiting for %q: %s", name, r.waitFor, f.Message)
		}
		return nil, err
	}
	return nil, &protocol.ParseError{Channel: protocol.ChannelRecordingTransfer, Reason: fmt.Sprintf("unknown opcode 0x%02X", f.Op)}
}

// assembleLocked splits the buffer into metadata and gpx by declared sizes,
// truncated to what arrived.
func (r *RecordingReceiver) assembleLocked() *Recording {
	n := len(r.buf)
	metaEnd := min(r.metaSize, n)
	gpxEnd := min(r.metaSize+r.gpxSize, n)

	return &Recording{
		Name:     r.name,
		Meta:     r.buf[:metaEnd],
		GPX:      r.buf[metaEnd:gpxEnd],
		Expected: r.metaSize + r.gpxSize,
		Received: n,
		Complete: n == r.metaSize+r.gpxSize,
	}
}
