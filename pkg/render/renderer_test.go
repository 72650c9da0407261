// pkg/render/renderer_test.go
package render

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

// captureSink returns a LogSink writing debug output to a buffer.
func captureSink(every uint64) (*LogSink, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogSink(logging.NewLoggerWithWriter(&buf, slog.LevelDebug), every), &buf
}

func TestLogSink_ImplementsTransformSink(t *testing.T) {
	var _ TransformSink = &LogSink{}
	var _ TransformSink = &TerminalRenderer{}
}

func TestLogSink_Publish_LogsFrame(t *testing.T) {
	tests := []struct {
		name     string
		state    *engine.FrameState
		expected []string
	}{
		{
			name:     "ValidFrame_LogsCorrectly",
			state:    frameAt(1, 2, 0),
			expected: []string{"Frame published", `"speed":3.5`, `"contacts":4`},
		},
		{
			name:     "NilFrame_HandlesGracefully",
			state:    nil,
			expected: []string{"Publish called with nil frame"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, buf := captureSink(1)

			if err := sink.Publish(tt.state); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}

			output := buf.String()
			for _, want := range tt.expected {
				if !strings.Contains(output, want) {
					t.Errorf("Expected log to contain %q, got: %s", want, output)
				}
			}
		})
	}
}

func TestLogSink_Publish_Throttles(t *testing.T) {
	sink, buf := captureSink(10)

	for frame := uint64(1); frame <= 30; frame++ {
		state := frameAt(0, 0, 0)
		state.Frame = frame
		state.Reset = frame == 15
		if err := sink.Publish(state); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	// Frames 10, 20, 30 plus the reset at 15.
	if n := strings.Count(buf.String(), "Frame published"); n != 4 {
		t.Errorf("logged %d frames, expected 4", n)
	}
}

func TestLogSink_QuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewLoggerWithWriter(&buf, slog.LevelInfo), 1)

	if err := sink.Publish(frameAt(0, 0, 0)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got: %s", buf.String())
	}
}
