package bus

import (
	"sync"
	"time"

	"roomchat-service/internal/observability"
)

// Fabric is the broadcast transport connecting sessions of a room group.
// Broadcast reaches every joined subscription, including the sender's own.
type Fabric interface {
	Join(group string) *Subscription
	Leave(group string, sub *Subscription)
	Broadcast(group string, payload []byte)
}

// GroupForRoom derives the broadcast group identifier from a room name.
func GroupForRoom(roomName string) string {
	return "chat_" + roomName
}

// Delivery is a queued broadcast payload. Deliveries older than the
// fabric's expiry window are dropped by the consumer.
type Delivery struct {
	Payload   []byte
	ExpiresAt time.Time
}

// Expired reports whether the delivery outlived its expiry window.
func (d Delivery) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// Subscription is one subscriber's bounded delivery queue. When the
// queue is full the oldest pending delivery is dropped so a slow
// consumer can never block the publisher.
type Subscription struct {
	ch chan Delivery
}

// Deliveries exposes the queue for the subscriber's write loop.
func (s *Subscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *Subscription) offer(d Delivery) {
	for {
		select {
		case s.ch <- d:
			return
		default:
		}
		select {
		case <-s.ch:
			observability.IncBusDropped("queue_full")
		default:
		}
	}
}

// Options tunes the fabric's per-subscriber queues.
type Options struct {
	QueueSize     int
	MessageExpiry time.Duration
}

const (
	defaultQueueSize     = 64
	defaultMessageExpiry = 30 * time.Second
)

// LocalFabric is the in-process fabric. Its membership table doubles as
// the room registry: a group's subscriptions are exactly the sessions
// currently between connect and disconnect for that room.
type LocalFabric struct {
	opts   Options
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
}

// NewLocalFabric creates an empty fabric.
func NewLocalFabric(opts Options) *LocalFabric {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MessageExpiry <= 0 {
		opts.MessageExpiry = defaultMessageExpiry
	}
	return &LocalFabric{
		opts:   opts,
		groups: make(map[string]map[*Subscription]struct{}),
	}
}

// Join registers a new subscription with the group.
func (f *LocalFabric) Join(group string) *Subscription {
	sub := &Subscription{ch: make(chan Delivery, f.opts.QueueSize)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[group]; !ok {
		f.groups[group] = make(map[*Subscription]struct{})
	}
	f.groups[group][sub] = struct{}{}
	return sub
}

// Leave removes a subscription from the group. Leaving twice is a no-op.
func (f *LocalFabric) Leave(group string, sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs, ok := f.groups[group]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.groups, group)
		}
	}
}

// Broadcast delivers the payload to every subscription of the group,
// fire-and-forget per subscriber.
func (f *LocalFabric) Broadcast(group string, payload []byte) {
	f.mu.RLock()
	subs := make([]*Subscription, 0, len(f.groups[group]))
	for sub := range f.groups[group] {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	d := Delivery{Payload: payload, ExpiresAt: time.Now().Add(f.opts.MessageExpiry)}
	for _, sub := range subs {
		sub.offer(d)
	}
}

// GroupSize reports current membership of a group.
func (f *LocalFabric) GroupSize(group string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.groups[group])
}
