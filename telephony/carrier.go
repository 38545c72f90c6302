// Package telephony defines the carrier port and a websocket media
// stream adapter speaking a JSON framing of call events and PCM audio.
package telephony

import (
	"context"
	"time"

	"github.com/callpilot-ai/callpilot/audio"
)

// EventType enumerates carrier call events.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventDTMF         EventType = "dtmf"
)

// Event is one carrier signal.
type Event struct {
	Type      EventType
	CallID    string
	Digit     string
	Reason    string
	Timestamp time.Time
}

// Carrier is the telephony port one session owns. It extends the raw
// frame transport with call events and call control.
type Carrier interface {
	audio.CarrierIO

	// Events delivers connect/disconnect/DTMF signals in arrival
	// order. The channel closes when the carrier goes away.
	Events() <-chan Event

	// Hangup ends the call from our side.
	Hangup(ctx context.Context) error

	// Transfer asks the carrier to hand the call to another endpoint,
	// e.g. a human operator. The session ends from our side once the
	// carrier acknowledges with a disconnect.
	Transfer(ctx context.Context, target string) error
}
