// Package input keeps the table of held control keys. Platform adapters
// (engo keyboard, websocket clients, scripted drivers) write into it; the
// simulation reads one snapshot per fixed step.
package input

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key is a control identifier.
type Key string

// Recognised control keys. Any other identifier is stored but has no effect.
const (
	Forward Key = "forward"
	Back    Key = "back"
	Left    Key = "left"
	Right   Key = "right"
	Brake   Key = "brake"
	Reset   Key = "reset"
)

// Known lists the recognised keys in a stable order.
var Known = []Key{Forward, Back, Left, Right, Brake, Reset}

// IsKnown reports whether k is one of the recognised keys.
func IsKnown(k Key) bool {
	for _, known := range Known {
		if k == known {
			return true
		}
	}
	return false
}

// Snapshot is an immutable copy of the held keys at one instant.
type Snapshot struct {
	held map[Key]bool
}

// Held reports whether k was down when the snapshot was taken.
func (s Snapshot) Held(k Key) bool {
	return s.held[k]
}

// Keys returns the held keys in sorted order.
func (s Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s.held))
	for k, down := range s.held {
		if down {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// String renders the held keys, for logs.
func (s Snapshot) String() string {
	keys := s.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// NewSnapshot builds a snapshot with the given keys held, for scripted input
// and tests.
func NewSnapshot(held ...Key) Snapshot {
	m := make(map[Key]bool, len(held))
	for _, k := range held {
		m[k] = true
	}
	return Snapshot{held: m}
}

// State is the live key table. It is safe for concurrent use.
type State struct {
	mu      sync.Mutex
	held    map[Key]bool
	version uint64
}

// NewState returns an empty key table.
func NewState() *State {
	return &State{held: make(map[Key]bool)}
}

// KeyDown marks k held. It reports whether the state changed.
func (s *State) KeyDown(k Key) bool {
	return s.set(k, true)
}

// KeyUp marks k released. It reports whether the state changed.
func (s *State) KeyUp(k Key) bool {
	return s.set(k, false)
}

func (s *State) set(k Key, down bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[k] == down {
		return false
	}
	if down {
		s.held[k] = true
	} else {
		delete(s.held, k)
	}
	s.version++
	return true
}

// Clear releases every key. Sessions call it on start.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.held) > 0 {
		s.version++
	}
	s.held = make(map[Key]bool)
}

// Snapshot copies the current table.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[Key]bool, len(s.held))
	for k, v := range s.held {
		m[k] = v
	}
	return Snapshot{held: m}
}

// Version increments on every change; callers use it to skip redundant work.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Bindings maps raw platform key names to control keys.
type Bindings map[string]Key

// DefaultBindings returns WASD plus arrow keys, space to brake and r to
// reset.
func DefaultBindings() Bindings {
	return Bindings{
		"w":          Forward,
		"arrowup":    Forward,
		"s":          Back,
		"arrowdown":  Back,
		"a":          Left,
		"arrowleft":  Left,
		"d":          Right,
		"arrowright": Right,
		"space":      Brake,
		"r":          Reset,
	}
}

// Resolve maps a raw key name to a control key. A literal space is looked up
// as "space". Unbound names pass through lower-cased so they are still
// stored.
func (b Bindings) Resolve(raw string) Key {
	name := strings.ToLower(raw)
	if name == " " {
		name = "space"
	}
	name = strings.TrimSpace(name)
	if k, ok := b[name]; ok {
		return k
	}
	return Key(name)
}

// ParseBindings builds bindings from a raw-name to key-name table, as found
// in configuration files. Targets must be recognised keys.
func ParseBindings(raw map[string]string) (Bindings, error) {
	b := make(Bindings, len(raw))
	for name, target := range raw {
		k := Key(strings.ToLower(strings.TrimSpace(target)))
		if !IsKnown(k) {
			return nil, fmt.Errorf("binding %q: unknown control %q", name, target)
		}
		b[strings.ToLower(name)] = k
	}
	return b, nil
}
