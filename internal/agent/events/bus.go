// Package events implements the status fan-out: a process-wide
// publish/subscribe channel that lets list and summary views observe record
// status changes without polling the store. Delivery is synchronous and in
// registration order; Publish returns only after every listener has run.
package events

import (
	"sync"

	"github.com/asemenov-dev/inspectsync/internal/agent/models"
)

// StatusChange is the notification broadcast on every status transition.
type StatusChange struct {
	RecordID string
	Status   models.UploadStatus
	Record   models.Inspection
}

// Listener receives status-change notifications.
type Listener func(StatusChange)

type subscriber struct {
	id int
	fn Listener
}

// Bus is the fan-out channel. The zero value is not usable, call NewBus.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners are invoked in registration order.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the change to every currently-registered listener before
// returning. The subscriber set is snapshotted first, so a listener that
// unsubscribes another mid-delivery does not affect this broadcast.
func (b *Bus) Publish(change StatusChange) {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(change)
	}
}
