package main

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// Event names
const (
	EventSpikeDetected = "spike-detected"
	EventHighThreat    = "high-threat"
)

// Event is published for notable validations. It identifies the
// transaction by a hash fragment only, never by its payload.
type Event struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	HashFragment string `json:"hashFragment"`
	Severity     string `json:"severity"`
	Timestamp    int64  `json:"timestamp"`
}

// hashFragment is the first 8 bytes of SHA-256(txHash), hex encoded
func hashFragment(txHash string) string {
	sum := sha256.Sum256([]byte(txHash))
	return hex.EncodeToString(sum[:8])
}

func newEvent(eventType, txHash, severity string, timestampMs int64) Event {
	return Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		HashFragment: hashFragment(txHash),
		Severity:     severity,
		Timestamp:    timestampMs,
	}
}

// EventBus is a buffered outbound channel. Publishing never blocks;
// when the buffer is full the oldest event is dropped.
type EventBus struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewEventBus creates a bus buffering up to size events
func NewEventBus(size int) *EventBus {
	if size < 1 {
		size = DefaultEventBufferSize
	}
	return &EventBus{ch: make(chan Event, size)}
}

// Publish enqueues e without blocking
func (b *EventBus) Publish(e Event) {
	for {
		select {
		case b.ch <- e:
			eventsPublishedTotal.WithLabelValues(e.Type).Inc()
			return
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Events returns the receive side for asynchronous consumers
func (b *EventBus) Events() <-chan Event {
	return b.ch
}

// Drain returns every buffered event without blocking
func (b *EventBus) Drain() []Event {
	out := []Event{}
	for {
		select {
		case e := <-b.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
