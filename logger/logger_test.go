package logger

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		"Info":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFilteringAndTail(t *testing.T) {
	var out bytes.Buffer
	SetOutput(&out)
	defer SetOutput(nil)

	prev := GetLevel()
	defer SetLevel(prev)

	SetLevel(WARN)
	Info("test", "hidden %d", 1)
	Warn("test", "shown %d", 2)

	if strings.Contains(out.String(), "hidden 1") {
		t.Error("Expected INFO to be filtered at WARN level")
	}
	if !strings.Contains(out.String(), "[test] shown 2") {
		t.Errorf("Expected WARN line, got %q", out.String())
	}

	var tail bytes.Buffer
	if _, err := Tail(&tail); err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if !strings.Contains(tail.String(), "shown 2") {
		t.Error("Expected tail buffer to hold recent output")
	}
}

func TestToJSON(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"channel": "tile", "bytes": 8206})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	js := ToJSON(s)
	if !strings.Contains(js, `"channel"`) || !strings.Contains(js, "8206") {
		t.Errorf("Unexpected protojson output %s", js)
	}

	js = ToJSON(struct {
		Name string `json:"name"`
	}{"ride"})
	if !strings.Contains(js, `"name": "ride"`) {
		t.Errorf("Unexpected json output %s", js)
	}
}
