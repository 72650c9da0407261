package network

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
)

func newSessionServer(t *testing.T) (*engine.Session, *DriveServer, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.MessagesPerSecond = 1000
	cfg.Server.MessageBurst = 100

	session, err := engine.NewSession(cfg, engine.WithLogger(logging.Discard()), engine.WithSessionID("remote-test"))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s := NewDriveServer(session, cfg.Server, logging.Discard())
	ts := httptest.NewServer(s.Mux())
	t.Cleanup(ts.Close)
	return session, s, "ws" + strings.TrimPrefix(ts.URL, "http") + WebSocketPath
}

type eventLog struct {
	mu     sync.Mutex
	events []*ClientEvent
}

func (l *eventLog) handle(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e.(*ClientEvent))
}

func (l *eventLog) types() []event.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.GetType()
	}
	return out
}

func TestDriveClient_DrivesSession(t *testing.T) {
	session, server, url := newSessionServer(t)

	bus := event.NewEventBus()
	log := &eventLog{}
	for _, typ := range []event.Type{ClientConnected, ClientDisconnected, ServerRejected} {
		bus.Subscribe(typ, log.handle)
	}

	client := NewDriveClient(bus, logging.Discard(), testBreakerSettings())
	if err := client.Connect(context.Background(), url, "tester"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.SessionID() != "remote-test" || client.ClientID() == "" || !client.Connected() {
		t.Fatalf("client state: session %q id %q", client.SessionID(), client.ClientID())
	}

	if err := client.SendKey("w", true); err != nil {
		t.Fatalf("SendKey() error = %v", err)
	}
	eventually(t, "forward held", func() bool {
		return session.Input().Snapshot().Held(input.Forward)
	})

	state := session.Frame(1.0 / 60)
	if err := server.Publish(&state); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case frame := <-client.Frames():
		if frame.Frame != state.Frame || frame.SessionID != "remote-test" {
			t.Errorf("received frame %d of %q, expected %d", frame.Frame, frame.SessionID, state.Frame)
		}
		if len(frame.Keys) != 1 || frame.Keys[0] != "forward" {
			t.Errorf("frame keys = %v, expected [forward]", frame.Keys)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}

	if err := client.SendKey("bad key!", true); err != nil {
		t.Fatalf("SendKey() error = %v", err)
	}
	eventually(t, "rejection event", func() bool {
		for _, typ := range log.types() {
			if typ == ServerRejected {
				return true
			}
		}
		return false
	})

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	<-client.Done()
	if client.Connected() {
		t.Error("client should be disconnected after Close")
	}
	eventually(t, "key release on disconnect", func() bool {
		return !session.Input().Snapshot().Held(input.Forward)
	})
	if err := client.SendKey("w", true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendKey after Close = %v, expected ErrNotConnected", err)
	}

	types := log.types()
	if len(types) != 3 || types[0] != ClientConnected || types[2] != ClientDisconnected {
		t.Errorf("client events = %v", types)
	}
}

func TestDriveClient_Reset(t *testing.T) {
	session, _, url := newSessionServer(t)
	client := NewDriveClient(nil, logging.Discard(), testBreakerSettings())
	if err := client.Connect(context.Background(), url, ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	for i := 0; i < 30; i++ {
		session.Frame(1.0 / 60)
	}
	if err := client.SendReset(); err != nil {
		t.Fatalf("SendReset() error = %v", err)
	}

	eventually(t, "reset applied", func() bool {
		return session.Frame(1.0 / 60).Reset
	})
}

func TestDriveClient_ConnectFailures(t *testing.T) {
	settings := testBreakerSettings()
	settings.MaxRetries = 2

	tests := []struct {
		name string
		url  string
	}{
		{"bad url", "://nowhere"},
		{"nothing listening", "ws://127.0.0.1:1/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewDriveClient(nil, logging.Discard(), settings)
			if err := client.Connect(context.Background(), tt.url, ""); err == nil {
				t.Fatal("expected Connect to fail")
			}
			if client.Connected() {
				t.Error("failed client must not report connected")
			}
			if err := client.SendReset(); !errors.Is(err, ErrNotConnected) {
				t.Errorf("SendReset() = %v, expected ErrNotConnected", err)
			}
			if err := client.Close(); err != nil {
				t.Errorf("Close() on unconnected client = %v", err)
			}
		})
	}
}
