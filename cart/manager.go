// Package cart keeps a client-local shopping cart consistent across multiple
// open tabs of the same storefront. Tabs coordinate optimistically through a
// shared snapshot store and a broadcast channel: every write mints a strictly
// increasing version, every tab applies only versions above its own, and
// stale writes are dropped and resynced instead of merged.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cardhaus/cartsync/cart/broadcast"
	"github.com/cardhaus/cartsync/cart/storage"
	inErrors "github.com/cardhaus/cartsync/internal/errors"
	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
	"github.com/cardhaus/cartsync/internal/validate"
	"github.com/cardhaus/cartsync/notification"
)

const (
	DefaultStorageKey     = "cardhaus-cart"
	DefaultSweepInterval  = 5 * time.Minute
	DefaultExpiryWindow   = 7 * 24 * time.Hour
	DefaultDriftThreshold = 0.05
)

// CatalogClient is the read-only price/stock collaborator used by
// revalidation.
type CatalogClient interface {
	CurrentPrice(c context.Context, cardID string) (decimal.Decimal, error)
	Stock(c context.Context, cardID string) (int, error)
}

type Config struct {
	// TabID identifies this tab in logs; defaults to a fresh uuid.
	TabID      string
	StorageKey string

	// Backend is the profile-shared persisted store. Required.
	Backend storage.Backend
	// Channel carries snapshot-change events to the other tabs. Nil means
	// the broadcast primitive is unavailable; the storage-change signal is
	// then the sole cross-tab channel.
	Channel broadcast.Channel
	// Catalog serves current prices and stock for revalidation. Nil
	// disables the price and stock passes; expiry still runs.
	Catalog CatalogClient
	// Notifications receives one entry per state-changing outcome.
	Notifications *notification.Center

	SweepInterval  time.Duration
	ExpiryWindow   time.Duration
	DriftThreshold float64
}

// Manager is one tab's cart: the only writer of intent for that tab. All
// public operations resolve into state plus notifications; none of them
// return an error to the caller.
type Manager struct {
	tabID         string
	store         *snapshotStore
	backend       storage.Backend
	channel       broadcast.Channel
	catalog       CatalogClient
	notifications *notification.Center
	// ownsNotifications marks a fallback center created by New; Stop closes
	// it, a caller-supplied center stays open.
	ownsNotifications bool
	validate          *validator.Validate

	sweepInterval time.Duration
	expiryWindow  time.Duration
	drift         decimal.Decimal

	mu       sync.Mutex
	snapshot Snapshot

	lifecycle sync.Mutex
	started   bool
	stopFns   []func()
	done      chan struct{}
}

func New(cfg Config) *Manager {
	if cfg.TabID == "" {
		cfg.TabID = uuid.NewString()
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.Channel == nil {
		cfg.Channel = broadcast.Unavailable{}
	}
	ownsNotifications := false
	if cfg.Notifications == nil {
		cfg.Notifications = notification.NewCenter(notification.DefaultTTL)
		ownsNotifications = true
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultExpiryWindow
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}

	return &Manager{
		tabID:             cfg.TabID,
		backend:           cfg.Backend,
		channel:           cfg.Channel,
		catalog:           cfg.Catalog,
		notifications:     cfg.Notifications,
		ownsNotifications: ownsNotifications,
		validate:          validate.New(),
		sweepInterval:     cfg.SweepInterval,
		expiryWindow:      cfg.ExpiryWindow,
		drift:             decimal.NewFromFloat(cfg.DriftThreshold),
		store: newSnapshotStore(
			cfg.Backend,
			cfg.Channel,
			cfg.Notifications,
			cfg.StorageKey,
			cfg.ExpiryWindow,
		),
	}
}

// Start loads the persisted snapshot, subscribes to the broadcast channel
// and the storage-change signal, and starts the revalidation sweeper.
// Idempotent.
func (m *Manager) Start(c context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.started {
		return
	}

	c = zerolog.Ctx(c).
		With().
		Str(log.KEY_TAB_ID, m.tabID).
		Logger().
		WithContext(context.WithoutCancel(c))

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager Start").
		Logger()

	logger = logger.With().Str(log.KEY_PROCESS, "loading persisted snapshot").Logger()
	logger.Info().Msg("loading persisted snapshot")
	snap, err := m.store.Load(c)
	if err == nil {
		m.mu.Lock()
		m.snapshot = snap
		m.mu.Unlock()
	}
	logger.Info().Int64(log.KEY_VERSION, snap.Version).Msg("loaded persisted snapshot")

	logger = logger.With().Str(log.KEY_PROCESS, "subscribing to cross-tab signals").Logger()
	logger.Info().Msg("subscribing to cross-tab signals")
	stopBroadcast := m.channel.Subscribe(func(msg broadcast.Message) {
		m.handleBroadcast(c, msg)
	})
	stopWatch := m.backend.Watch(m.store.key, func(value []byte) {
		m.handleStorageChange(c, value)
	})
	m.stopFns = append(m.stopFns, stopBroadcast, stopWatch)
	logger.Info().Msg("subscribed to cross-tab signals")

	m.done = make(chan struct{})
	go m.sweepLoop(c)

	m.started = true
}

// Stop removes the cross-tab listeners, closes the channel and stops the
// sweeper. Idempotent; the manager keeps its in-memory snapshot.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.started {
		return
	}
	for _, stop := range m.stopFns {
		stop()
	}
	m.stopFns = nil
	_ = m.channel.Close()
	close(m.done)
	if m.ownsNotifications {
		m.notifications.Close()
	}
	m.started = false
}

// Lines returns the current cart lines in insertion order.
func (m *Manager) Lines() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]Line, len(m.snapshot.Lines))
	copy(lines, m.snapshot.Lines)
	return lines
}

// Version is the highest snapshot version this tab has observed.
func (m *Manager) Version() int64 {
	return m.store.Version()
}

// AddToCart validates the card, clamps the requested quantity to the stock
// known at add time and commits the new snapshot. A concurrent write from
// another tab drops the add and resyncs instead; the shopper is asked to
// retry.
func (m *Manager) AddToCart(c context.Context, card Card, requestedQty int) {
	c, span := otel.Tracer.Start(c, "Manager AddToCart")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager AddToCart").
		Str(log.KEY_CARD_ID, card.ID).
		Str(log.KEY_CONDITION, card.Condition).
		Int(log.KEY_QUANTITY, requestedQty).
		Logger()
	c = logger.WithContext(c)

	if requestedQty < 1 {
		requestedQty = 1
	}

	if err := m.validate.StructCtx(c, card); err != nil {
		err = fmt.Errorf("failed validating card with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		m.notifications.Notify(c, notification.SeverityError,
			"this card cannot be added to your cart")
		return
	}
	if card.KnownStock <= 0 {
		err := fmt.Errorf("failed adding cardId=%s with error=%w", card.ID, inErrors.ErrOutOfStock)
		otel.RecordError(err, span)
		logger.Error().Err(err).Int(log.KEY_KNOWN_STOCK, card.KnownStock).Msg(err.Error())
		m.notifications.Notify(c, notification.SeverityError,
			fmt.Sprintf("%s (%s) is out of stock", card.ID, card.Condition))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolveConflict(c) {
		return
	}

	snap := m.snapshot.clone()
	now := time.Now()
	idx := snap.find(card.ID, card.Condition)
	clipped := false

	if idx >= 0 {
		line := &snap.Lines[idx]
		quantity := line.Quantity + requestedQty
		if quantity > line.KnownStock {
			quantity = line.KnownStock
			clipped = true
		}
		if quantity == line.Quantity {
			logger.Warn().Int(log.KEY_KNOWN_STOCK, line.KnownStock).Msg("quantity already at known stock")
			m.notifications.Notify(c, notification.SeverityWarning,
				fmt.Sprintf("only %d of %s (%s) in stock", line.KnownStock, card.ID, card.Condition))
			return
		}
		line.Quantity = quantity
		m.stamp(line, now)
	} else {
		quantity := requestedQty
		if quantity > card.KnownStock {
			quantity = card.KnownStock
			clipped = true
		}
		line := Line{
			CardID:     card.ID,
			Condition:  card.Condition,
			Quantity:   quantity,
			UnitPrice:  card.Price,
			KnownStock: card.KnownStock,
			AddedAt:    now,
		}
		m.stamp(&line, now)
		snap.Lines = append(snap.Lines, line)
	}

	m.snapshot = m.store.Save(c, snap, 0)
	logger.Info().Int64(log.KEY_VERSION, m.snapshot.Version).Msg("added card to cart")

	if clipped {
		m.notifications.Notify(c, notification.SeverityWarning,
			fmt.Sprintf("only %d of %s (%s) in stock", card.KnownStock, card.ID, card.Condition))
		return
	}
	m.notifications.Notify(c, notification.SeverityInfo,
		fmt.Sprintf("added %s (%s) to your cart", card.ID, card.Condition))
}

// UpdateQuantity sets the quantity of an existing line, clamped to the stock
// known at add time. A quantity of zero or less removes the line.
func (m *Manager) UpdateQuantity(c context.Context, cardID, condition string, quantity int) {
	c, span := otel.Tracer.Start(c, "Manager UpdateQuantity")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager UpdateQuantity").
		Str(log.KEY_CARD_ID, cardID).
		Str(log.KEY_CONDITION, condition).
		Int(log.KEY_QUANTITY, quantity).
		Logger()
	c = logger.WithContext(c)

	if quantity <= 0 {
		m.RemoveItem(c, cardID, condition)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolveConflict(c) {
		return
	}

	snap := m.snapshot.clone()
	idx := snap.find(cardID, condition)
	if idx < 0 {
		logger.Debug().Msg("card is not in the cart")
		return
	}

	line := &snap.Lines[idx]
	clipped := false
	if quantity > line.KnownStock {
		quantity = line.KnownStock
		clipped = true
	}
	if quantity == line.Quantity {
		if clipped {
			m.notifications.Notify(c, notification.SeverityWarning,
				fmt.Sprintf("only %d of %s (%s) in stock", line.KnownStock, cardID, condition))
		}
		return
	}
	line.Quantity = quantity
	m.stamp(line, time.Now())

	m.snapshot = m.store.Save(c, snap, 0)
	logger.Info().Int64(log.KEY_VERSION, m.snapshot.Version).Msg("updated cart quantity")

	if clipped {
		m.notifications.Notify(c, notification.SeverityWarning,
			fmt.Sprintf("only %d of %s (%s) in stock", line.KnownStock, cardID, condition))
		return
	}
	m.notifications.Notify(c, notification.SeverityInfo,
		fmt.Sprintf("set %s (%s) to %d", cardID, condition, quantity))
}

// RemoveItem removes a line unconditionally. Removal is idempotent and safe
// against a stale base, so there is no conflict pre-check; removing an
// absent key is a silent no-op.
func (m *Manager) RemoveItem(c context.Context, cardID, condition string) {
	c, span := otel.Tracer.Start(c, "Manager RemoveItem")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager RemoveItem").
		Str(log.KEY_CARD_ID, cardID).
		Str(log.KEY_CONDITION, condition).
		Logger()
	c = logger.WithContext(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot.clone()
	idx := snap.find(cardID, condition)
	if idx < 0 {
		logger.Debug().Msg("card is not in the cart")
		return
	}
	snap.Lines = append(snap.Lines[:idx], snap.Lines[idx+1:]...)

	m.snapshot = m.store.Save(c, snap, 0)
	logger.Info().Int64(log.KEY_VERSION, m.snapshot.Version).Msg("removed card from cart")

	m.notifications.Notify(c, notification.SeverityInfo,
		fmt.Sprintf("removed %s (%s) from your cart", cardID, condition))
}

// ClearCart resets the cart to empty and clears the persisted record. The
// version still advances so the reset wins over concurrent stale writes.
func (m *Manager) ClearCart(c context.Context) {
	c, span := otel.Tracer.Start(c, "Manager ClearCart")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager ClearCart").
		Logger()
	c = logger.WithContext(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = m.store.Clear(c)
	logger.Info().Int64(log.KEY_VERSION, m.snapshot.Version).Msg("cleared cart")

	m.notifications.Notify(c, notification.SeverityInfo, "your cart was cleared")
}

// stamp marks a mutated line with the version the enclosing save will mint.
// Callers hold m.mu, so no other mint can interleave.
func (m *Manager) stamp(line *Line, now time.Time) {
	line.LastModifiedAt = now
	line.Version = m.store.nextVersion()
}

// resolveConflict implements the optimistic write check: when another tab
// has persisted a version above this tab's counter, the pending mutation is
// dropped, the persisted snapshot is pulled in and the shopper is asked to
// re-issue the gesture. Callers hold m.mu.
func (m *Manager) resolveConflict(c context.Context) bool {
	persisted := m.store.persistedVersion(c)
	local := m.store.Version()
	if persisted <= local {
		return false
	}

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager resolveConflict").
		Int64(log.KEY_LOCAL_VER, local).
		Int64(log.KEY_REMOTE_VER, persisted).
		Logger()
	logger.Warn().Err(inErrors.ErrStaleVersion).Msg("local version is stale, dropping mutation and resyncing")

	snap, err := m.store.Load(c)
	if err == nil {
		// Load already adopted the persisted version into the counter, so
		// the snapshot installs directly; the conflict warning below is the
		// single notification for this outcome
		m.snapshot = snap
		logger.Debug().Int(log.KEY_LINE_COUNT, len(snap.Lines)).Msg("resynced from persisted snapshot")
	}
	m.notifications.Notify(c, notification.SeverityWarning,
		"your cart changed in another tab; please try again")
	return true
}

// Reconcile feeds an incoming snapshot through the version check and applies
// it iff its version is above everything this tab has observed. This is the
// single enforcement point of version monotonicity: last-highest-version
// wins, there is no merge.
func (m *Manager) Reconcile(c context.Context, version int64, snap Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager Reconcile").
		Int64(log.KEY_REMOTE_VER, version).
		Int64(log.KEY_LOCAL_VER, m.store.Version()).
		Logger()

	if version <= m.store.Version() {
		// the common case for a tab's own echoed writes; not an error
		logger.Trace().Msg("ignoring stale or echoed snapshot")
		return false
	}

	m.store.adoptVersion(version)
	snap.Version = version
	m.snapshot = snap
	logger.Debug().Int(log.KEY_LINE_COUNT, len(snap.Lines)).Msg("applied snapshot from another tab")

	m.notifications.Notify(c, notification.SeverityInfo, "cart synced from another tab")
	return true
}

func (m *Manager) handleBroadcast(c context.Context, msg broadcast.Message) {
	if msg.Type != broadcast.TypeCartUpdated {
		return
	}
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager handleBroadcast").
		Int64(log.KEY_REMOTE_VER, msg.Version).
		Logger()

	lines := []Line{}
	if len(msg.Cart) > 0 {
		if err := json.Unmarshal(msg.Cart, &lines); err != nil {
			err = fmt.Errorf("failed unmarshaling broadcast cart with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
			return
		}
	}
	m.Reconcile(c, msg.Version, Snapshot{
		Lines:     lines,
		Version:   msg.Version,
		Timestamp: msg.Timestamp,
	})
}

func (m *Manager) handleStorageChange(c context.Context, value []byte) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager handleStorageChange").
		Logger()

	rec := record{}
	if err := json.Unmarshal(value, &rec); err != nil {
		err = fmt.Errorf("failed unmarshaling storage change with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	m.Reconcile(c, rec.Version, Snapshot{
		Lines:     rec.Cart,
		Version:   rec.Version,
		Timestamp: rec.Timestamp,
	})
}
