// Package pulse builds and size-checks message bodies before they ever
// touch the wire. This is SPEC_FULL.md §4.1 / spec.md §4.1.
//
// The engine downstream of this package never inspects a body again; it
// only stores, forwards, and counts bytes (spec.md §3, "MessageBody").
package pulse

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Build when the serialized body exceeds the
// caller-supplied size cap.
var ErrTooLarge = fmt.Errorf("pulse: body exceeds max_message_size")

// Body is an opaque byte sequence. The broker never parses it.
type Body []byte

// Pulse is the reference structured shape described in spec.md §3. It is
// recommended, not enforced: any byte sequence within the size cap is a
// valid Body regardless of whether it was built through this type.
type Pulse struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PulseType string    `json:"pulse_type"`
	Channel   string    `json:"channel"`
	Data      any       `json:"data"`
	Metadata  any       `json:"metadata,omitempty"`
}

// Build serializes a Pulse into a Body using JSON — the sanctioned
// substitute for the reference TOON-style encoding (spec.md §4.1; no TOON
// codec exists anywhere in the retrieval pack, see DESIGN.md) — and
// rejects it if the result exceeds maxSize.
func Build(pulseType, channel string, data, metadata any, maxSize int) (Body, error) {
	p := Pulse{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		PulseType: pulseType,
		Channel:   channel,
		Data:      data,
		Metadata:  metadata,
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("pulse: marshal: %w", err)
	}

	if maxSize > 0 && len(encoded) > maxSize {
		return nil, ErrTooLarge
	}

	return Body(encoded), nil
}

// CheckSize validates an already-built body against the size cap. Used by
// the daemon to re-check raw bytes a client sends directly, bypassing
// Build.
func CheckSize(body Body, maxSize int) error {
	if maxSize > 0 && len(body) > maxSize {
		return ErrTooLarge
	}
	return nil
}

// Base64Wrap lossless-wraps a body for embedding in a line-delimited JSON
// command (spec.md §4.1).
func Base64Wrap(body Body) string {
	return base64.StdEncoding.EncodeToString(body)
}

// Base64Unwrap reverses Base64Wrap.
func Base64Unwrap(s string) (Body, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pulse: bad base64 encoding: %w", err)
	}
	return Body(decoded), nil
}
