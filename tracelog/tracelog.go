// Package tracelog writes JSONL traces of link traffic for offline debugging.
// The files are write-only; nothing in the sync path reads them back.
package tracelog

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/user/papersync/protocol"
	"github.com/user/papersync/util"
)

const (
	FramesFile = "frames.jsonl"
	EventsFile = "events.jsonl"
)

// Logger appends trace records under <data dir>/<session id>/debug.
type Logger struct {
	sessionID string
	dir       string
	enabled   bool
	mu        sync.Mutex
}

// New returns a trace logger for a session. A disabled logger does nothing.
func New(sessionID string, enabled bool) *Logger {
	if !enabled {
		return &Logger{}
	}
	dir := filepath.Join(util.GetDeviceCacheDir(sessionID), "debug")
	if _, err := util.EnsureDir(dir); err != nil {
		return &Logger{}
	}
	return &Logger{sessionID: sessionID, dir: dir, enabled: true}
}

// Enabled reports whether records are written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Dir is where the trace files live.
func (l *Logger) Dir() string {
	return l.dir
}

// LogFrame records one write chunk ("tx") or notification ("rx").
func (l *Logger) LogFrame(direction string, ch protocol.Channel, data []byte) {
	if !l.Enabled() {
		return
	}
	fields := map[string]interface{}{
		"direction": direction,
		"channel":   ch.String(),
		"len":       len(data),
		"hex":       hex.EncodeToString(data),
	}
	if info, ok := ch.Info(); ok {
		fields["uuid"] = info.UUID
	}
	if op, ok := frameOp(ch, data); ok {
		fields["op"] = op
	}
	l.append(FramesFile, fields)
}

// LogEvent records a session event or state change.
func (l *Logger) LogEvent(name string, fields map[string]interface{}) {
	if !l.Enabled() {
		return
	}
	rec := map[string]interface{}{"event": name}
	for k, v := range fields {
		rec[k] = v
	}
	l.append(EventsFile, rec)
}

func (l *Logger) append(filename string, fields map[string]interface{}) {
	ts, err := protojson.Marshal(timestamppb.Now())
	if err != nil {
		return
	}
	fields["timestamp"] = strings.Trim(string(ts), `"`)
	fields["session"] = l.sessionID

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return
	}
	line, err := protojson.Marshal(s)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(l.dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // best effort
	}
	defer f.Close()
	f.Write(line)
	f.Write([]byte("\n"))
}

// frameOp names the opcode of frames that start with one.
func frameOp(ch protocol.Channel, data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	switch ch {
	case protocol.ChannelTripControl:
		return protocol.TripOpName(data[0]), true
	case protocol.ChannelNotification:
		switch data[0] {
		case protocol.NotificationAdd:
			return "add", true
		case protocol.NotificationRemove:
			return "remove", true
		}
	case protocol.ChannelRecordingControl:
		switch data[0] {
		case protocol.OpRecordingList:
			return "list", true
		case protocol.OpRecordingDownload:
			return "download", true
		}
	case protocol.ChannelRecordingTransfer:
		switch data[0] {
		case protocol.OpRecordingStart:
			return "start", true
		case protocol.OpRecordingData:
			return "data", true
		case protocol.OpRecordingEnd:
			return "end", true
		case protocol.OpRecordingError:
			return "error", true
		}
	}
	return fmt.Sprintf("0x%02X", data[0]), false
}
