// pkg/render/renderer.go
package render

import (
	"context"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

// TransformSink consumes the poses published after each frame.
type TransformSink = engine.Sink

// LogSink writes every frame to the debug log instead of drawing it.
type LogSink struct {
	logger *logging.Logger
	every  uint64
}

// NewLogSink creates a sink that logs one frame in every. Zero or one logs
// them all.
func NewLogSink(logger *logging.Logger, every uint64) *LogSink {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if every == 0 {
		every = 1
	}
	return &LogSink{logger: logger, every: every}
}

// Publish implements TransformSink.
func (d *LogSink) Publish(state *engine.FrameState) error {
	ctx := context.Background()
	if state == nil {
		d.logger.Debug(ctx, "Publish called with nil frame")
		return nil
	}
	if state.Frame%d.every != 0 && !state.Reset {
		return nil
	}
	d.logger.Debug(ctx, "Frame published",
		"frame", state.Frame,
		"step", state.Step,
		"time", state.Time,
		"position", state.Chassis.Position,
		"heading", state.Chassis.Heading(),
		"speed", state.Speed,
		"contacts", state.Contacts,
		"placeholder", state.Visual.Placeholder,
		"reset", state.Reset,
	)
	return nil
}
