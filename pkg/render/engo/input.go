// pkg/render/engo/input.go
package engo

import (
	"sort"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
)

// View buttons that are not driving controls.
const (
	buttonZoomIn    = "zoomIn"
	buttonZoomOut   = "zoomOut"
	buttonResetZoom = "resetZoom"
	buttonQuit      = "quit"
)

// keyCodes maps raw key names, as used in bindings, to engo keys.
var keyCodes = map[string]engo.Key{
	"a": engo.KeyA, "b": engo.KeyB, "c": engo.KeyC, "d": engo.KeyD,
	"e": engo.KeyE, "f": engo.KeyF, "g": engo.KeyG, "h": engo.KeyH,
	"i": engo.KeyI, "j": engo.KeyJ, "k": engo.KeyK, "l": engo.KeyL,
	"m": engo.KeyM, "n": engo.KeyN, "o": engo.KeyO, "p": engo.KeyP,
	"q": engo.KeyQ, "r": engo.KeyR, "s": engo.KeyS, "t": engo.KeyT,
	"u": engo.KeyU, "v": engo.KeyV, "w": engo.KeyW, "x": engo.KeyX,
	"y": engo.KeyY, "z": engo.KeyZ,

	"arrowup":    engo.KeyArrowUp,
	"arrowdown":  engo.KeyArrowDown,
	"arrowleft":  engo.KeyArrowLeft,
	"arrowright": engo.KeyArrowRight,
	"space":      engo.KeySpace,
	"enter":      engo.KeyEnter,
	"shift":      engo.KeyLeftShift,
	"backspace":  engo.KeyBackspace,
}

// keyTarget receives raw key transitions.
type keyTarget interface {
	KeyDown(raw string) bool
	KeyUp(raw string) bool
}

// InputSystem polls the registered keys each frame and forwards changes to
// the session as raw key names.
type InputSystem struct {
	target keyTarget
	keys   []string
	held   map[string]bool

	pressed func(name string) bool
	quit    func()
}

// NewInputSystem creates an input system watching keys.
func NewInputSystem(target keyTarget, keys []string) *InputSystem {
	return &InputSystem{
		target:  target,
		keys:    keys,
		held:    make(map[string]bool, len(keys)),
		pressed: engoPressed,
		quit:    engo.Exit,
	}
}

func engoPressed(name string) bool {
	return engo.Input.Button(name).Down()
}

// Priority polls input before the session steps.
func (is *InputSystem) Priority() int { return inputSystemPriority }

// Remove satisfies the ecs.System interface
func (is *InputSystem) Remove(basic ecs.BasicEntity) {}

// Update forwards key presses and releases.
func (is *InputSystem) Update(dt float32) {
	for _, k := range is.keys {
		down := is.pressed(k)
		if down == is.held[k] {
			continue
		}
		is.held[k] = down
		if down {
			is.target.KeyDown(k)
		} else {
			is.target.KeyUp(k)
		}
	}

	if is.pressed(buttonQuit) && is.quit != nil {
		is.quit()
	}
}

// Release lifts every key still held.
func (is *InputSystem) Release() {
	for _, k := range is.keys {
		if is.held[k] {
			is.held[k] = false
			is.target.KeyUp(k)
		}
	}
}

// Held reports whether the system last saw k down.
func (is *InputSystem) Held(k string) bool {
	return is.held[k]
}

// SetupInputBindings registers one engo button per bound key, named after the
// key, plus the view buttons. It returns the registered key names and those
// with no engo key.
func SetupInputBindings(bindings input.Bindings) (registered, unknown []string) {
	registered, unknown = boundKeys(bindings)
	for _, name := range registered {
		engo.Input.RegisterButton(name, keyCodes[name])
	}

	engo.Input.RegisterButton(buttonZoomIn, engo.KeyE)
	engo.Input.RegisterButton(buttonZoomOut, engo.KeyQ)
	engo.Input.RegisterButton(buttonResetZoom, engo.KeyZ)
	engo.Input.RegisterButton(buttonQuit, engo.KeyEscape)
	return registered, unknown
}

// boundKeys splits the bound key names into those engo can read and the rest.
func boundKeys(bindings input.Bindings) (known, unknown []string) {
	for name := range bindings {
		if _, ok := keyCodes[name]; ok {
			known = append(known, name)
		} else {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(known)
	sort.Strings(unknown)
	return known, unknown
}
