// Package broadcast carries snapshot-change events between tabs. The in
// process Bus mirrors the browser BroadcastChannel; the redis channel lets
// tabs span processes. Receivers always hand the message to the version
// reconciler; the channel itself never decides whether a message applies.
package broadcast

import (
	"context"
	"encoding/json"
)

const TypeCartUpdated = "CART_UPDATED"

// Message is the cross-tab wire format. Cart stays opaque here so the
// channel does not depend on the cart line layout.
type Message struct {
	Type      string          `json:"type"`
	Cart      json.RawMessage `json:"cart"`
	Version   int64           `json:"version"`
	Timestamp int64           `json:"timestamp"`
}

type Channel interface {
	Publish(c context.Context, msg Message) error
	// Subscribe registers fn for incoming messages and returns its
	// unsubscribe func. Delivery is asynchronous and ordered per
	// subscriber.
	Subscribe(fn func(Message)) (stop func())
	Close() error
}

// Unavailable stands in when no broadcast primitive exists; tabs then rely
// on the storage-change signal alone.
type Unavailable struct{}

func (Unavailable) Publish(context.Context, Message) error { return nil }
func (Unavailable) Subscribe(func(Message)) func()         { return func() {} }
func (Unavailable) Close() error                           { return nil }
