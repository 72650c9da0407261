package validation

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantErr     bool
		errContains string
	}{
		{name: "letter", input: "w", want: "w"},
		{name: "upper case", input: "W", want: "w"},
		{name: "arrow", input: "ArrowUp", want: "arrowup"},
		{name: "raw space", input: " ", want: "space"},
		{name: "padded", input: " r ", want: "r"},
		{name: "digit", input: "1", want: "1"},
		{name: "empty", input: "", wantErr: true, errContains: "cannot be empty"},
		{name: "too long", input: strings.Repeat("a", MaxKeyLen+1), wantErr: true, errContains: "too long"},
		{name: "punctuation", input: "w;drop", wantErr: true, errContains: "invalid characters"},
		{name: "markup", input: "<b>", wantErr: true, errContains: "invalid characters"},
		{name: "control", input: "w\x00", wantErr: true, errContains: "invalid characters"},
		{name: "bad utf8", input: "\xff", wantErr: true, errContains: "UTF-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q should contain %q", err, tt.errContains)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ValidateKey(%q) = %q, expected %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateClientName(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantErr     bool
		errContains string
	}{
		{name: "simple", input: "Driver1", want: "Driver1"},
		{name: "spaces", input: "  Test Driver ", want: "Test Driver"},
		{name: "punctuation", input: "d.river_one-2", want: "d.river_one-2"},
		{name: "empty", input: "", wantErr: true, errContains: "cannot be empty"},
		{name: "whitespace", input: "   ", wantErr: true, errContains: "only whitespace"},
		{name: "too long", input: strings.Repeat("a", MaxClientNameLen+1), wantErr: true, errContains: "too long"},
		{name: "control", input: "a\x07b", wantErr: true, errContains: "control characters"},
		{name: "markup", input: "<script>", wantErr: true, errContains: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateClientName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateClientName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q should contain %q", err, tt.errContains)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ValidateClientName(%q) = %q, expected %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMessageValidator_ParseMessage(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		want        ClientMessage
		wantErr     bool
		errContains string
	}{
		{name: "key down", data: `{"type":"key","key":"W","down":true}`, want: ClientMessage{Type: "key", Key: "w", Down: true}},
		{name: "key up", data: `{"type":"key","key":"arrowleft"}`, want: ClientMessage{Type: "key", Key: "arrowleft"}},
		{name: "space", data: `{"type":"key","key":" ","down":true}`, want: ClientMessage{Type: "key", Key: "space", Down: true}},
		{name: "reset drops key", data: `{"type":"reset","key":"w","down":true}`, want: ClientMessage{Type: "reset"}},
		{name: "not json", data: `type=key`, wantErr: true, errContains: "invalid JSON"},
		{name: "wrong shape", data: `["key"]`, wantErr: true, errContains: "invalid message"},
		{name: "unknown type", data: `{"type":"chat"}`, wantErr: true, errContains: "unknown message type"},
		{name: "bad key", data: `{"type":"key","key":"a b"}`, wantErr: true, errContains: "invalid characters"},
		{
			name:        "too large",
			data:        `{"type":"key","key":"` + strings.Repeat("w", MaxMessageSize) + `"}`,
			wantErr:     true,
			errContains: "too large",
		},
	}

	v := NewMessageValidator(1000, 100)
	defer v.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ParseMessage([]byte(tt.data), "client-"+tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q should contain %q", err, tt.errContains)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseMessage() = %+v, expected %+v", got, tt.want)
			}
		})
	}
}

func TestMessageValidator_RateLimit(t *testing.T) {
	v := NewMessageValidator(1, 3)
	defer v.Close()

	msg := []byte(`{"type":"key","key":"w","down":true}`)
	for i := 0; i < 3; i++ {
		if err := v.ValidateMessage(msg, "a"); err != nil {
			t.Fatalf("message %d rejected: %v", i+1, err)
		}
	}
	err := v.ValidateMessage(msg, "a")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("fourth message error = %v, expected rate limit", err)
	}
	if err := v.ValidateMessage(msg, "b"); err != nil {
		t.Errorf("other clients must not be limited: %v", err)
	}

	v.Forget("a")
	if err := v.ValidateMessage(msg, "a"); err != nil {
		t.Errorf("forgotten client should start with a full bucket: %v", err)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiter_Refill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rl := newRateLimiter(4, 4, clock.Now)
	defer rl.Close()

	for i := 0; i < 4; i++ {
		if !rl.Allow("c") {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if rl.Allow("c") {
		t.Fatal("empty bucket should deny")
	}

	clock.Advance(250 * time.Millisecond)
	if !rl.Allow("c") {
		t.Error("a quarter second at 4/s should refill one token")
	}
	if rl.Allow("c") {
		t.Error("only one token should have been refilled")
	}

	clock.Advance(10 * time.Second)
	for i := 0; i < 4; i++ {
		if !rl.Allow("c") {
			t.Fatalf("refill should cap at the bucket size, request %d denied", i+1)
		}
	}
	if rl.Allow("c") {
		t.Error("refill must not exceed the bucket size")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	rl := newRateLimiter(2, 1, clock.Now)
	defer rl.Close()

	// Refilling one token at 2/s takes half a second, so a client idle
	// for one second is forgotten.
	rl.Allow("idle")
	clock.Advance(700 * time.Millisecond)
	rl.Allow("active")
	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, expected 2", rl.Len())
	}

	clock.Advance(500 * time.Millisecond)
	rl.removeInactiveClients()
	if rl.Len() != 1 {
		t.Errorf("Len() after cleanup = %d, expected 1", rl.Len())
	}

	rl.Remove("active")
	if rl.Len() != 0 {
		t.Errorf("Len() after Remove = %d, expected 0", rl.Len())
	}
	rl.Close()
}

func TestRateLimiter_SustainedRate(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     int
		every     time.Duration
		duration  time.Duration
		min, max  int
	}{
		// 30 up front plus 60/s over the 9.99 s between the first and last key.
		{"held keys at 100 Hz", 60, 30, 10 * time.Millisecond, 10 * time.Second, 625, 631},
		// Each key earns 0.6 of a token; the fractions must carry over.
		{"fractional refill", 60, 1, 10 * time.Millisecond, 10 * time.Second, 598, 601},
		{"under the limit", 60, 30, 20 * time.Millisecond, 5 * time.Second, 250, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1000, 0)}
			rl := newRateLimiter(tt.perSecond, tt.burst, clock.Now)
			defer rl.Close()

			allowed := 0
			for elapsed := time.Duration(0); elapsed < tt.duration; elapsed += tt.every {
				if rl.Allow("driver") {
					allowed++
				}
				clock.Advance(tt.every)
			}
			if allowed < tt.min || allowed > tt.max {
				t.Errorf("allowed %d, expected between %d and %d", allowed, tt.min, tt.max)
			}
		})
	}
}
