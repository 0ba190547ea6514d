package broadcast

import (
	"context"
	"sync"
)

// Bus is the in-process BroadcastChannel analog: every tab opens its own
// Channel on the shared bus, a published message reaches every other open
// channel asynchronously, and each subscriber sees messages in publish
// order. The publishing channel never hears its own message.
type Bus struct {
	mu       sync.Mutex
	channels map[int]*busChannel
	nextID   int
}

func NewBus() *Bus {
	return &Bus{channels: map[int]*busChannel{}}
}

func (b *Bus) Channel() Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ch := &busChannel{bus: b, id: b.nextID, subs: map[int]*busSubscriber{}}
	b.channels[ch.id] = ch
	return ch
}

type busChannel struct {
	bus     *Bus
	id      int
	mu      sync.Mutex
	subs    map[int]*busSubscriber
	nextSub int
	closed  bool
}

type busSubscriber struct {
	queue chan Message
	done  chan struct{}
}

func (c *busChannel) Publish(_ context.Context, msg Message) error {
	c.bus.mu.Lock()
	peers := make([]*busChannel, 0, len(c.bus.channels))
	for id, peer := range c.bus.channels {
		if id == c.id {
			continue
		}
		peers = append(peers, peer)
	}
	c.bus.mu.Unlock()

	for _, peer := range peers {
		peer.deliver(msg)
	}
	return nil
}

func (c *busChannel) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, sub := range c.subs {
		select {
		case sub.queue <- msg:
		case <-sub.done:
		}
	}
}

func (c *busChannel) Subscribe(fn func(Message)) func() {
	sub := &busSubscriber{
		queue: make(chan Message, 64),
		done:  make(chan struct{}),
	}
	go func() {
		for {
			select {
			case msg := <-sub.queue:
				fn(msg)
			case <-sub.done:
				return
			}
		}
	}()

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(sub.done)
		})
	}
}

func (c *busChannel) Close() error {
	c.bus.mu.Lock()
	delete(c.bus.channels, c.id)
	c.bus.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, sub := range c.subs {
		close(sub.done)
		delete(c.subs, id)
	}
	return nil
}
