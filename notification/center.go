package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cardhaus/cartsync/internal/log"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        uuid.UUID `json:"id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Center queues short-lived user-facing messages. Entries expire after the
// configured TTL; expired entries are pruned lazily on read and by a janitor
// tick so the queue never grows unbounded between reads.
type Center struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []Notification
	subs    map[int]func(Notification)
	nextSub int
	done    chan struct{}
	once    sync.Once
}

const DefaultTTL = 5 * time.Second

func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	center := &Center{
		ttl:  ttl,
		subs: map[int]func(Notification){},
		done: make(chan struct{}),
	}
	go center.janitor()
	return center
}

func (n *Center) Notify(c context.Context, severity Severity, message string) Notification {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Center Notify").
		Str(log.KEY_NOTIFICATION, string(severity)).
		Logger()

	now := time.Now()
	entry := Notification{
		ID:        uuid.New(),
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(n.ttl),
	}

	n.mu.Lock()
	n.prune(now)
	n.entries = append(n.entries, entry)
	subs := make([]func(Notification), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	logger.Debug().Msg(message)
	for _, fn := range subs {
		fn(entry)
	}
	return entry
}

// Active returns the not-yet-expired notifications in creation order.
func (n *Center) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prune(time.Now())
	active := make([]Notification, len(n.entries))
	copy(active, n.entries)
	return active
}

// Subscribe registers a handler for every future notification and returns
// its unsubscribe func.
func (n *Center) Subscribe(fn func(Notification)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *Center) Close() {
	n.once.Do(func() { close(n.done) })
}

func (n *Center) prune(now time.Time) {
	kept := n.entries[:0]
	for _, entry := range n.entries {
		if entry.ExpiresAt.After(now) {
			kept = append(kept, entry)
		}
	}
	n.entries = kept
}

func (n *Center) janitor() {
	ticker := time.NewTicker(n.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case now := <-ticker.C:
			n.mu.Lock()
			n.prune(now)
			n.mu.Unlock()
		}
	}
}
