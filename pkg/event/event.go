// pkg/event/event.go
package event

import (
	"sync"
)

// Type represents the type of event
type Type string

// Simulation event types
const (
	SessionStarted    Type = "session_started"
	SessionEnded      Type = "session_ended"
	VehicleReset      Type = "vehicle_reset"
	DivergenceClamped Type = "divergence_clamped"
	CatchUpOverflow   Type = "catch_up_overflow"
	WheelContact      Type = "wheel_contact"
	KeyChanged        Type = "key_changed"
	AssetAttached     Type = "asset_attached"
	AssetLoadFailed   Type = "asset_load_failed"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription identifies a registered handler. Cancel removes it.
type Subscription struct {
	ID     uint64
	Type   Type
	Cancel func()
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching
type Bus struct {
	handlers map[Type][]subscriber
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscriber),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: id, handler: handler})

	return &Subscription{
		ID:     id,
		Type:   eventType,
		Cancel: func() { b.unsubscribe(eventType, id) },
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			kept := make([]subscriber, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			b.handlers[eventType] = append(kept, subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Publish sends an event to all subscribed handlers. Handlers run on the
// publishing goroutine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.handlers[event.GetType()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// Specific event implementations

// SessionEvent marks the start or end of a driving session.
type SessionEvent struct {
	BaseEvent
	SessionID string
}

// NewSessionEvent creates a session event
func NewSessionEvent(eventType Type, source interface{}, sessionID string) *SessionEvent {
	return &SessionEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		SessionID: sessionID,
	}
}

// ResetEvent reports a hard reset of the vehicle to its spawn pose.
type ResetEvent struct {
	BaseEvent
	Step     uint64
	Position [3]float64
}

// NewResetEvent creates a vehicle reset event
func NewResetEvent(source interface{}, step uint64, position [3]float64) *ResetEvent {
	return &ResetEvent{
		BaseEvent: BaseEvent{EventType: VehicleReset, Source: source},
		Step:      step,
		Position:  position,
	}
}

// DivergenceEvent reports that the integrator clamped a velocity.
type DivergenceEvent struct {
	BaseEvent
	Step           uint64
	LinearSpeed    float64
	AngularSpeed   float64
	LinearClamped  bool
	AngularClamped bool
}

// NewDivergenceEvent creates a divergence event
func NewDivergenceEvent(source interface{}, step uint64, linearSpeed, angularSpeed float64, linearClamped, angularClamped bool) *DivergenceEvent {
	return &DivergenceEvent{
		BaseEvent:      BaseEvent{EventType: DivergenceClamped, Source: source},
		Step:           step,
		LinearSpeed:    linearSpeed,
		AngularSpeed:   angularSpeed,
		LinearClamped:  linearClamped,
		AngularClamped: angularClamped,
	}
}

// CatchUpEvent reports simulated time dropped by the sub-step cap.
type CatchUpEvent struct {
	BaseEvent
	Steps   int
	Dropped float64
}

// NewCatchUpEvent creates a catch-up overflow event
func NewCatchUpEvent(source interface{}, steps int, dropped float64) *CatchUpEvent {
	return &CatchUpEvent{
		BaseEvent: BaseEvent{EventType: CatchUpOverflow, Source: source},
		Steps:     steps,
		Dropped:   dropped,
	}
}

// ContactEvent reports a wheel touching down or leaving the ground.
type ContactEvent struct {
	BaseEvent
	Step      uint64
	Wheel     int
	InContact bool
}

// NewContactEvent creates a wheel contact event
func NewContactEvent(source interface{}, step uint64, wheel int, inContact bool) *ContactEvent {
	return &ContactEvent{
		BaseEvent: BaseEvent{EventType: WheelContact, Source: source},
		Step:      step,
		Wheel:     wheel,
		InContact: inContact,
	}
}

// KeyEvent reports a raw key transition from a platform input source.
type KeyEvent struct {
	BaseEvent
	Key  string
	Down bool
}

// NewKeyEvent creates a key change event
func NewKeyEvent(source interface{}, key string, down bool) *KeyEvent {
	return &KeyEvent{
		BaseEvent: BaseEvent{EventType: KeyChanged, Source: source},
		Key:       key,
		Down:      down,
	}
}

// AssetEvent reports the outcome of an asynchronous vehicle asset load.
type AssetEvent struct {
	BaseEvent
	Path  string
	Scale float64
	Err   error
}

// NewAssetEvent creates an asset event. A nil err yields AssetAttached.
func NewAssetEvent(source interface{}, path string, scale float64, err error) *AssetEvent {
	eventType := AssetAttached
	if err != nil {
		eventType = AssetLoadFailed
	}
	return &AssetEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		Path:      path,
		Scale:     scale,
		Err:       err,
	}
}
