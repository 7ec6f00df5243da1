// Package ingest implements the LDIF, Master List, and Deviation List
// ingesters: the per-entry pipeline that decodes, classifies,
// deduplicates, persists, mirrors to the directory, and reports progress
// for each certificate or CRL an upload contributes.
package ingest

import (
	"sync"

	"github.com/gin-contrib/sse"

	"github.com/icao-pkd/localpkd-core/core"
)

const ringBufferSize = 200

// Broker implements core.EventPublisher: single-writer (the ingesting
// task for one upload), multi-reader (SSE subscribers), bounded to the
// last ~200 events per upload (spec §5 Per-upload event broker).
type Broker struct {
	mu   sync.Mutex
	subs map[string][]chan core.Event
	ring map[string][]core.Event
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs: map[string][]chan core.Event{},
		ring: map[string][]core.Event{},
	}
}

// Publish appends evt to its upload's ring buffer and fans it out to every
// current subscriber. When a slow subscriber's channel is full, the event
// is dropped for that subscriber (which stays subscribed) rather than
// blocking the ingesting task: the ring buffer is the durable record, the
// channel is a best-effort live feed.
func (b *Broker) Publish(evt core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := append(b.ring[evt.UploadID], evt)
	if len(ring) > ringBufferSize {
		ring = ring[len(ring)-ringBufferSize:]
	}
	b.ring[evt.UploadID] = ring

	for _, ch := range b.subs[evt.UploadID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel that receives events published for uploadID
// from this point forward, and an unsubscribe func that closes it.
func (b *Broker) Subscribe(uploadID string) (<-chan core.Event, func()) {
	ch := make(chan core.Event, ringBufferSize)
	b.mu.Lock()
	b.subs[uploadID] = append(b.subs[uploadID], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[uploadID]
		for i, s := range subs {
			if s == ch {
				b.subs[uploadID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// ToSSE renders evt as a gin-contrib/sse Event for the HTTP transport
// layer (out of scope for this core; retained as the shaping boundary a
// future HTTP handler writes through).
func ToSSE(evt core.Event) sse.Event {
	return sse.Event{
		Event: evt.EventName,
		Id:    evt.ID,
		Data: map[string]interface{}{
			"uploadId":  evt.UploadID,
			"timestamp": evt.Timestamp,
			"detail":    evt.Detail,
			"status":    evt.Status,
		},
	}
}
