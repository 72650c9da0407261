// pkg/telemetry/recorder.go
package telemetry

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
)

const (
	eventsFile   = "events.jsonl.sz"
	framesFile   = "frames.bin.zst"
	manifestFile = "manifest.json"
)

// ErrRecorderClosed is returned by writes after Close.
var ErrRecorderClosed = errors.New("recorder closed")

var sessionCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Manifest describes a trace directory.
type Manifest struct {
	Version    int    `json:"version"`
	SessionID  string `json:"session_id"`
	CreatedAt  string `json:"created_at"`
	FrameEvery int    `json:"frame_every"`
	EventsPath string `json:"events_path"`
	FramesPath string `json:"frames_path"`
}

// EventRecord is one line of the event log.
type EventRecord struct {
	Step       uint64      `json:"step"`
	CapturedAt string      `json:"captured_at"`
	Type       string      `json:"type"`
	Key        string      `json:"key,omitempty"`
	Down       bool        `json:"down,omitempty"`
	Position   *[3]float64 `json:"position,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// FrameRecord is the fixed-size binary form of one published frame.
type FrameRecord struct {
	Frame       uint64
	Step        uint64
	Time        float64
	Position    [3]float64
	Orientation [4]float64 // w, x, y, z
	Speed       float64
	Contacts    uint8
	Reset       bool
}

// Recorder writes a write-only trace of a session: raw input and notable
// events as snappy-compressed JSON lines, and sampled frames as zstd-
// compressed binary records. Nothing ever reads it back into a session.
type Recorder struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	every       uint64
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	closed      bool

	lastStep atomic.Uint64
	subs     []*event.Subscription
}

// NewRecorder creates root/<session>-<timestamp>/ with a manifest and opens
// the compressed streams. One frame in every is recorded.
func NewRecorder(root, sessionID string, every int, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("trace root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if every < 1 {
		every = 1
	}

	cleaned := sessionCleaner.ReplaceAllString(sessionID, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, fmt.Errorf("failed to create trace directory: %w", err)
	}

	manifest := Manifest{
		Version:    1,
		SessionID:  sessionID,
		CreatedAt:  created.Format(time.RFC3339Nano),
		FrameEvery: every,
		EventsPath: eventsFile,
		FramesPath: framesFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, manifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	eventFile, err := os.Create(filepath.Join(path, eventsFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	return &Recorder{
		dir:         path,
		now:         clock,
		every:       uint64(every),
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
	}, manifest, nil
}

// Directory returns the trace directory.
func (r *Recorder) Directory() string {
	return r.dir
}

// RecordEvent appends one line to the event log. A zero Step is filled with
// the last published step.
func (r *Recorder) RecordEvent(rec EventRecord) error {
	if rec.Step == 0 {
		rec.Step = r.lastStep.Load()
	}
	rec.CapturedAt = r.now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if _, err := r.eventStream.Write(line); err != nil {
		return err
	}
	return r.eventStream.Flush()
}

// Publish implements engine.Sink, recording sampled frames. Reset frames are
// always kept.
func (r *Recorder) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	r.lastStep.Store(state.Step)
	if state.Frame%r.every != 0 && !state.Reset {
		return nil
	}

	q := state.Chassis.Orientation
	rec := FrameRecord{
		Frame:       state.Frame,
		Step:        state.Step,
		Time:        state.Time,
		Position:    [3]float64(state.Chassis.Position),
		Orientation: [4]float64{q.W, q.V.X(), q.V.Y(), q.V.Z()},
		Speed:       state.Speed,
		Contacts:    uint8(state.Contacts),
		Reset:       state.Reset,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	return binary.Write(r.frameStream, binary.LittleEndian, &rec)
}

// Subscribe records key transitions, resets, clamps and asset outcomes.
func (r *Recorder) Subscribe(bus *event.Bus) {
	record := func(rec EventRecord) {
		// Errors after Close are expected while the bus drains.
		_ = r.RecordEvent(rec)
	}

	subs := []*event.Subscription{
		bus.Subscribe(event.KeyChanged, func(e event.Event) {
			if ke, ok := e.(*event.KeyEvent); ok {
				record(EventRecord{Type: "key", Key: ke.Key, Down: ke.Down})
			}
		}),
		bus.Subscribe(event.VehicleReset, func(e event.Event) {
			if re, ok := e.(*event.ResetEvent); ok {
				pos := re.Position
				record(EventRecord{Type: "reset", Step: re.Step, Position: &pos})
			}
		}),
		bus.Subscribe(event.DivergenceClamped, func(e event.Event) {
			if de, ok := e.(*event.DivergenceEvent); ok {
				record(EventRecord{
					Type:   "clamp",
					Step:   de.Step,
					Detail: fmt.Sprintf("linear=%.2f angular=%.2f", de.LinearSpeed, de.AngularSpeed),
				})
			}
		}),
		bus.Subscribe(event.AssetAttached, func(e event.Event) {
			if ae, ok := e.(*event.AssetEvent); ok {
				record(EventRecord{Type: "asset_attached", Detail: ae.Path})
			}
		}),
		bus.Subscribe(event.AssetLoadFailed, func(e event.Event) {
			if ae, ok := e.(*event.AssetEvent); ok {
				record(EventRecord{Type: "asset_failed", Detail: fmt.Sprintf("%s: %v", ae.Path, ae.Err)})
			}
		}),
	}

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()
}

// Close flushes both streams and closes the files, returning the first error.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(r.eventStream.Close())
	keep(r.eventFile.Close())
	keep(r.frameStream.Close())
	keep(r.frameFile.Close())
	return firstErr
}

// ReadEvents decodes an event log written by a Recorder.
func ReadEvents(src io.Reader) ([]EventRecord, error) {
	var out []EventRecord
	scanner := bufio.NewScanner(snappy.NewReader(src))
	for scanner.Scan() {
		var rec EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return out, fmt.Errorf("event %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// ReadFrames decodes a frame stream written by a Recorder.
func ReadFrames(src io.Reader) ([]FrameRecord, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []FrameRecord
	for {
		var rec FrameRecord
		err := binary.Read(dec, binary.LittleEndian, &rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("frame %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}
