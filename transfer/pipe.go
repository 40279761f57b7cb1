package transfer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/user/papersync/protocol"
)

const (
	// DefaultMTU is the BLE minimum before negotiation.
	DefaultMTU = 23
	// ATTOverhead is the opcode and handle carried by every write.
	ATTOverhead = 3
	// MinChunkSize is used when the negotiated MTU is implausibly small.
	MinChunkSize = 20
)

// Writer issues one write on a channel. Completion is reported separately
// through Pipe.WriteComplete.
type Writer interface {
	Write(ch protocol.Channel, data []byte) error
}

// Pipe writes whole frames as a sequence of MTU-sized chunks, each behind the
// write gate.
type Pipe struct {
	gate *WriteGate
	w    Writer
	mtu  atomic.Int32

	mu       sync.Mutex
	asyncErr error
}

// NewPipe wraps w. All writes share gate.
func NewPipe(w Writer, gate *WriteGate) *Pipe {
	p := &Pipe{gate: gate, w: w}
	p.mtu.Store(DefaultMTU)
	return p
}

// SetMTU updates the negotiated MTU.
func (p *Pipe) SetMTU(mtu int) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	p.mtu.Store(int32(mtu))
}

// ChunkSize is the payload carried by one write.
func (p *Pipe) ChunkSize() int {
	return ChunkSizeForMTU(int(p.mtu.Load()))
}

// ChunkSizeForMTU returns MTU-3, never below MinChunkSize.
func ChunkSizeForMTU(mtu int) int {
	return max(mtu-ATTOverhead, MinChunkSize)
}

// WriteComplete is called from the transport callback when the outstanding
// write finished.
func (p *Pipe) WriteComplete(err error) {
	if err != nil {
		p.mu.Lock()
		if p.asyncErr == nil {
			p.asyncErr = err
		}
		p.mu.Unlock()
	}
	p.gate.Release()
}

func (p *Pipe) takeAsyncErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.asyncErr
	p.asyncErr = nil
	return err
}

// Reset reopens the gate and forgets stale write errors. Called on a new link.
func (p *Pipe) Reset() {
	p.takeAsyncErr()
	p.gate.Reset()
}

// WriteFrame chunks frame and writes every chunk in order. It returns once
// the last chunk has completed, so a failed completion is reported to the
// caller that issued the frame.
func (p *Pipe) WriteFrame(ctx context.Context, ch protocol.Channel, frame []byte) error {
	return p.writeFrame(ctx, ch, frame, nil)
}

// writeFrame runs beforeFinal once the gate is held for the last chunk, when
// the peripheral cannot yet have reacted to this frame. Acks that arrive
// before the final completion stay buffered in the AckWaiter.
func (p *Pipe) writeFrame(ctx context.Context, ch protocol.Channel, frame []byte, beforeFinal func()) error {
	chunks := SplitIntoChunks(frame, p.ChunkSize())
	for i, chunk := range chunks {
		if err := p.gate.Acquire(ctx); err != nil {
			return fmt.Errorf("transfer: %s chunk %d/%d: %w", ch, i+1, len(chunks), err)
		}
		if err := p.takeAsyncErr(); err != nil {
			p.gate.Release()
			return fmt.Errorf("transfer: %s write failed before chunk %d/%d: %w", ch, i+1, len(chunks), err)
		}
		if beforeFinal != nil && i == len(chunks)-1 {
			beforeFinal()
		}
		if err := p.w.Write(ch, chunk); err != nil {
			// nothing is outstanding when the write was refused
			p.gate.Release()
			return fmt.Errorf("transfer: %s chunk %d/%d: %w", ch, i+1, len(chunks), err)
		}
	}
	return p.awaitCompletion(ctx, ch, len(chunks))
}

// awaitCompletion waits for the outstanding write and leaves the gate open.
func (p *Pipe) awaitCompletion(ctx context.Context, ch protocol.Channel, n int) error {
	if err := p.gate.Acquire(ctx); err != nil {
		return fmt.Errorf("transfer: %s chunk %d/%d completion: %w", ch, n, n, err)
	}
	err := p.takeAsyncErr()
	p.gate.Release()
	if err != nil {
		return fmt.Errorf("transfer: %s chunk %d/%d: write failed: %w", ch, n, n, err)
	}
	return nil
}

// SplitIntoChunks splits data into pieces of at most chunkSize bytes.
func SplitIntoChunks(data []byte, chunkSize int) [][]byte {
	if len(data) == 0 {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for offset := 0; offset < len(data); offset += chunkSize {
		end := min(offset+chunkSize, len(data))
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}
