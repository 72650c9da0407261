// pkg/engine/state.go
package engine

import (
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/camera"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/physics"
)

// WheelView is the published state of one wheel.
type WheelView struct {
	Name        string       `json:"name"`
	Transform   physics.Pose `json:"transform"`
	InContact   bool         `json:"inContact"`
	Compression float64      `json:"compression"`
	Sliding     bool         `json:"sliding"`
	Rotation    float64      `json:"rotation"`
	Steering    float64      `json:"steering"`
}

// VisualView describes what is drawn for the chassis.
type VisualView struct {
	Placeholder bool    `json:"placeholder"`
	Path        string  `json:"path,omitempty"`
	Scale       float64 `json:"scale"`
	Color       string  `json:"color"`
	// Size is the full box size in metres, for the placeholder.
	Size [3]float64 `json:"size"`
}

// PlaceholderVisual is the red box shown until a model is attached.
func PlaceholderVisual() VisualView {
	return VisualView{
		Placeholder: true,
		Scale:       1,
		Color:       "#ff0000",
		Size:        [3]float64{2, 1, 4},
	}
}

// FrameState is everything a renderer needs for one frame. It is published
// after integration and never aliases simulation state.
type FrameState struct {
	SessionID string                        `json:"sessionId"`
	Frame     uint64                        `json:"frame"`
	Step      uint64                        `json:"step"`
	Time      float64                       `json:"time"`
	Alpha     float64                       `json:"alpha"`
	Chassis   physics.Pose                  `json:"chassis"`
	Speed     float64                       `json:"speed"`
	Contacts  int                           `json:"contacts"`
	Wheels    [physics.WheelCount]WheelView `json:"wheels"`
	Camera    camera.State                  `json:"camera"`
	Keys      []string                      `json:"keys"`
	Visual    VisualView                    `json:"visual"`
	Reset     bool                          `json:"reset"`
}

// Sink receives every published frame on the loop goroutine.
type Sink interface {
	Publish(state *FrameState) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(state *FrameState) error

// Publish calls f.
func (f SinkFunc) Publish(state *FrameState) error { return f(state) }

// Status reports whether a session is stepping.
type Status int

const (
	StatusWaiting Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
