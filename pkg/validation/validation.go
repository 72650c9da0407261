// Package validation checks and sanitizes messages from remote drivers.
package validation

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message size and content limits
const (
	MaxMessageSize   = 4 * 1024
	MaxKeyLen        = 16
	MaxClientNameLen = 32
)

// Message types accepted from clients
const (
	MessageKey   = "key"
	MessageReset = "reset"
)

var (
	// Key identifiers are lower-case browser-style names: "w", "arrowup", "space".
	validKeyChars = regexp.MustCompile(`^[a-z0-9]+$`)
	// Client names allow alphanumerics, spaces, hyphens, underscores and dots.
	validClientNameChars = regexp.MustCompile(`^[a-zA-Z0-9\s\-_.]+$`)
)

// ClientMessage is an inbound message after validation.
type ClientMessage struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
	Down bool   `json:"down,omitempty"`
}

// MessageValidator validates raw client messages and rate limits them per
// client.
type MessageValidator struct {
	rateLimiter *RateLimiter
	perSecond   float64
}

// NewMessageValidator allows each client perSecond messages on average with
// bursts of up to burst.
func NewMessageValidator(perSecond float64, burst int) *MessageValidator {
	if !(perSecond > 0) {
		perSecond = 60
	}
	if burst < 1 {
		burst = 1
	}
	return &MessageValidator{
		rateLimiter: NewRateLimiter(perSecond, burst),
		perSecond:   perSecond,
	}
}

// Close releases resources used by the message validator
func (v *MessageValidator) Close() {
	if v.rateLimiter != nil {
		v.rateLimiter.Close()
	}
}

// Forget drops the rate limiting state of a disconnected client.
func (v *MessageValidator) Forget(clientID string) {
	v.rateLimiter.Remove(clientID)
}

// ValidateMessage validates a raw message against size and format constraints
func (v *MessageValidator) ValidateMessage(data []byte, clientID string) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}

	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON format")
	}

	if !v.rateLimiter.Allow(clientID) {
		return fmt.Errorf("rate limit exceeded: max %.0f messages per second", v.perSecond)
	}

	return nil
}

// ParseMessage validates data and decodes it into a ClientMessage with a
// normalized key.
func (v *MessageValidator) ParseMessage(data []byte, clientID string) (ClientMessage, error) {
	if err := v.ValidateMessage(data, clientID); err != nil {
		return ClientMessage{}, err
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case MessageKey:
		key, err := ValidateKey(msg.Key)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Key = key
	case MessageReset:
		msg.Key, msg.Down = "", false
	default:
		return ClientMessage{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// ValidateKey normalizes a raw key identifier. A single space becomes
// "space".
func ValidateKey(key string) (string, error) {
	if key == " " {
		return "space", nil
	}
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}
	if len(key) > MaxKeyLen {
		return "", fmt.Errorf("key too long: %d characters (max %d)", len(key), MaxKeyLen)
	}
	if !utf8.ValidString(key) {
		return "", fmt.Errorf("key contains invalid UTF-8 characters")
	}

	normalized := strings.ToLower(strings.TrimSpace(key))
	if !validKeyChars.MatchString(normalized) {
		return "", fmt.Errorf("key %q contains invalid characters", key)
	}
	return normalized, nil
}

// ValidateClientName validates and sanitizes the display name a client
// connects with.
func ValidateClientName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("client name cannot be empty")
	}

	if len(name) > MaxClientNameLen {
		return "", fmt.Errorf("client name too long: %d characters (max %d)", len(name), MaxClientNameLen)
	}

	if !utf8.ValidString(name) {
		return "", fmt.Errorf("client name contains invalid UTF-8 characters")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("client name cannot be only whitespace")
	}

	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("client name contains control characters")
		}
	}

	if !validClientNameChars.MatchString(trimmed) {
		return "", fmt.Errorf("client name contains invalid characters (only alphanumeric, spaces, hyphens, underscores and dots allowed)")
	}

	return html.EscapeString(trimmed), nil
}
