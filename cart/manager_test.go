package cart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardhaus/cartsync/cart/broadcast"
	"github.com/cardhaus/cartsync/cart/storage"
	"github.com/cardhaus/cartsync/notification"
)

type tab struct {
	manager       *Manager
	notifications *notification.Center
}

// newTab opens one simulated browser tab on a shared profile store and, when
// bus is not nil, on the shared broadcast bus.
func newTab(t *testing.T, profile *storage.Store, bus *broadcast.Bus) tab {
	t.Helper()
	notifications := notification.NewCenter(time.Minute)
	t.Cleanup(notifications.Close)

	var channel broadcast.Channel
	if bus != nil {
		channel = bus.Channel()
	}
	manager := New(Config{
		Backend:       profile.Session(),
		Channel:       channel,
		Notifications: notifications,
	})
	return tab{manager: manager, notifications: notifications}
}

func messages(center *notification.Center, severity notification.Severity) []string {
	msgs := []string{}
	for _, n := range center.Active() {
		if n.Severity == severity {
			msgs = append(msgs, n.Message)
		}
	}
	return msgs
}

func snivy(stock int) Card {
	return Card{
		ID:         "sv-black-bolt-001",
		Condition:  "NM",
		Price:      decimal.NewFromFloat(3.50),
		KnownStock: stock,
	}
}

func TestAddToCartAccumulatesAndClamps(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	for n := 0; n < 3; n++ {
		tb.manager.AddToCart(c, snivy(3), 1)
	}

	lines := tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.EqualValues(t, 3, tb.manager.Version())
	assert.Empty(t, messages(tb.notifications, notification.SeverityWarning))

	// a fourth add is fully clamped: quantity and version stay put
	tb.manager.AddToCart(c, snivy(3), 1)

	lines = tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.EqualValues(t, 3, tb.manager.Version())
	assert.Len(t, messages(tb.notifications, notification.SeverityWarning), 1)
}

func TestAddToCartClipsOversizedRequest(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(c, snivy(3), 10)

	lines := tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Len(t, messages(tb.notifications, notification.SeverityWarning), 1)
}

func TestAddToCartRejectsInvalidCard(t *testing.T) {
	tests := []struct {
		name string
		card Card
	}{
		{
			name: "missing identity fields",
			card: Card{Price: decimal.NewFromInt(1), KnownStock: 3},
		},
		{
			name: "non-positive price",
			card: Card{ID: "x", Condition: "NM", Price: decimal.Zero, KnownStock: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTab(t, storage.NewStore(), nil)

			tb.manager.AddToCart(context.Background(), tt.card, 1)

			assert.Empty(t, tb.manager.Lines())
			assert.EqualValues(t, 0, tb.manager.Version())
			assert.Len(t, messages(tb.notifications, notification.SeverityError), 1)
		})
	}
}

func TestAddToCartRejectsOutOfStockCard(t *testing.T) {
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(context.Background(), snivy(0), 1)

	assert.Empty(t, tb.manager.Lines())
	assert.Len(t, messages(tb.notifications, notification.SeverityError), 1)
}

func TestIdentityUniqueness(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	nm := snivy(10)
	lp := snivy(10)
	lp.Condition = "LP"

	tb.manager.AddToCart(c, nm, 1)
	tb.manager.AddToCart(c, lp, 2)
	tb.manager.AddToCart(c, nm, 1)
	tb.manager.UpdateQuantity(c, nm.ID, "NM", 4)

	seen := map[string]bool{}
	for _, line := range tb.manager.Lines() {
		key := line.CardID + "|" + line.Condition
		assert.False(t, seen[key], "duplicate identity key %s", key)
		seen[key] = true
	}
	assert.Len(t, tb.manager.Lines(), 2)
}

func TestUpdateQuantityZeroRemoves(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(c, snivy(5), 2)
	tb.manager.UpdateQuantity(c, "sv-black-bolt-001", "NM", 0)

	assert.Empty(t, tb.manager.Lines())
	assert.EqualValues(t, 2, tb.manager.Version())
}

func TestUpdateQuantityClampsToKnownStock(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(c, snivy(4), 1)
	tb.manager.UpdateQuantity(c, "sv-black-bolt-001", "NM", 9)

	lines := tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Quantity)
	assert.Len(t, messages(tb.notifications, notification.SeverityWarning), 1)
}

func TestRemoveItemIsIdempotent(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(c, snivy(3), 1)
	before := tb.manager.Version()
	notificationsBefore := len(tb.notifications.Active())

	tb.manager.RemoveItem(c, "no-such-card", "NM")

	assert.Equal(t, before, tb.manager.Version())
	assert.Len(t, tb.manager.Lines(), 1)
	assert.Len(t, tb.notifications.Active(), notificationsBefore)
}

func TestClearCartAdvancesVersionAndClearsRecord(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	tb := newTab(t, profile, nil)

	tb.manager.AddToCart(c, snivy(3), 2)
	before := tb.manager.Version()

	tb.manager.ClearCart(c)

	assert.Empty(t, tb.manager.Lines())
	assert.Greater(t, tb.manager.Version(), before)
	_, err := profile.Session().Get(c, DefaultStorageKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestConflictDropsMutationAndResyncs(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	tabA := newTab(t, profile, nil)
	tabB := newTab(t, profile, nil)

	// A wins the race: version 1 is persisted before B hears about it
	tabA.manager.AddToCart(c, snivy(3), 1)
	require.EqualValues(t, 1, tabA.manager.Version())
	require.EqualValues(t, 0, tabB.manager.Version())

	other := Card{ID: "sv-black-bolt-025", Condition: "NM", Price: decimal.NewFromInt(18), KnownStock: 2}
	tabB.manager.AddToCart(c, other, 1)

	// B's add is dropped, the resync pulls in A's card
	lines := tabB.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "sv-black-bolt-001", lines[0].CardID)
	assert.EqualValues(t, 1, tabB.manager.Version())
	assert.Len(t, messages(tabB.notifications, notification.SeverityWarning), 1)

	// re-issuing the gesture succeeds on top of the synced base, keeping
	// A's card alongside B's
	tabB.manager.AddToCart(c, other, 1)
	ids := []string{}
	for _, line := range tabB.manager.Lines() {
		ids = append(ids, line.CardID)
	}
	assert.ElementsMatch(t, []string{"sv-black-bolt-001", "sv-black-bolt-025"}, ids)
	assert.EqualValues(t, 2, tabB.manager.Version())

	// the persisted record holds both lines too; A's write was not erased
	value, err := profile.Session().Get(c, DefaultStorageKey)
	require.NoError(t, err)
	rec := record{}
	require.NoError(t, json.Unmarshal(value, &rec))
	assert.Len(t, rec.Cart, 2)
	assert.EqualValues(t, 2, rec.Version)
}

func TestVersionMonotonicityAcrossTabs(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	bus := broadcast.NewBus()
	tabA := newTab(t, profile, bus)
	tabB := newTab(t, profile, bus)

	tabA.manager.Start(c)
	t.Cleanup(tabA.manager.Stop)
	tabB.manager.Start(c)
	t.Cleanup(tabB.manager.Stop)

	lowA, lowB := tabA.manager.Version(), tabB.manager.Version()
	for i := 0; i < 5; i++ {
		tabA.manager.AddToCart(c, snivy(100), 1)
		require.Eventually(t, func() bool {
			return tabB.manager.Version() == tabA.manager.Version()
		}, time.Second, 5*time.Millisecond, "tab B never observed version %d", i+1)

		assert.GreaterOrEqual(t, tabA.manager.Version(), lowA)
		assert.GreaterOrEqual(t, tabB.manager.Version(), lowB)
		lowA, lowB = tabA.manager.Version(), tabB.manager.Version()
	}

	tabB.manager.UpdateQuantity(c, "sv-black-bolt-001", "NM", 2)
	require.Eventually(t, func() bool {
		return tabA.manager.Version() == tabB.manager.Version()
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, tabA.manager.Version(), lowA)

	lines := tabA.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestReconcileAppliesOnlyHigherVersions(t *testing.T) {
	c := context.Background()
	tb := newTab(t, storage.NewStore(), nil)

	tb.manager.AddToCart(c, snivy(3), 1)
	require.EqualValues(t, 1, tb.manager.Version())

	stale := Snapshot{Lines: []Line{}, Version: 1}
	assert.False(t, tb.manager.Reconcile(c, 1, stale))
	assert.Len(t, tb.manager.Lines(), 1)

	newer := Snapshot{Lines: []Line{}, Version: 5}
	assert.True(t, tb.manager.Reconcile(c, 5, newer))
	assert.Empty(t, tb.manager.Lines())
	assert.EqualValues(t, 5, tb.manager.Version())
	assert.Contains(t, messages(tb.notifications, notification.SeverityInfo), "cart synced from another tab")
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}

func (failingBackend) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func (failingBackend) Delete(context.Context, string) error { return nil }

func (failingBackend) Watch(string, func(value []byte)) func() { return func() {} }

func TestPersistenceFailureKeepsSessionState(t *testing.T) {
	c := context.Background()
	notifications := notification.NewCenter(time.Minute)
	t.Cleanup(notifications.Close)
	manager := New(Config{Backend: failingBackend{}, Notifications: notifications})

	manager.AddToCart(c, snivy(3), 1)

	// the write failed but the in-memory snapshot stays authoritative
	require.Len(t, manager.Lines(), 1)
	assert.EqualValues(t, 1, manager.Version())
	assert.NotEmpty(t, messages(notifications, notification.SeverityError))
}

func TestStopClosesOnlyOwnedNotificationCenter(t *testing.T) {
	c := context.Background()

	owned := New(Config{Backend: storage.NewStore().Session()})
	require.True(t, owned.ownsNotifications)
	owned.Start(c)
	owned.Stop()

	supplied := notification.NewCenter(time.Minute)
	t.Cleanup(supplied.Close)
	manager := New(Config{Backend: storage.NewStore().Session(), Notifications: supplied})
	require.False(t, manager.ownsNotifications)
	manager.Start(c)
	manager.Stop()

	// the caller's center keeps working after the manager is gone
	supplied.Notify(c, notification.SeverityInfo, "still open")
	assert.Len(t, supplied.Active(), 1)
}

func seedRecord(t *testing.T, profile *storage.Store, rec record) {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, profile.Session().Set(context.Background(), DefaultStorageKey, payload))
}

func TestStartLoadsPersistedSnapshot(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	now := time.Now()
	seedRecord(t, profile, record{
		Cart: []Line{{
			CardID:    "sv-black-bolt-001",
			Condition: "NM",
			Quantity:  2,
			UnitPrice: decimal.NewFromFloat(3.50),
			AddedAt:   now.Add(-time.Hour),
			Version:   4,
		}},
		Timestamp: now.Add(-time.Hour).UnixMilli(),
		Version:   4,
	})

	tb := newTab(t, profile, nil)
	tb.manager.Start(c)
	t.Cleanup(tb.manager.Stop)

	require.Len(t, tb.manager.Lines(), 1)
	assert.EqualValues(t, 4, tb.manager.Version())
}

func TestStartDiscardsExpiredSnapshot(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	stale := time.Now().Add(-8 * 24 * time.Hour)
	seedRecord(t, profile, record{
		Cart:      []Line{{CardID: "sv-black-bolt-001", Condition: "NM", Quantity: 1, AddedAt: stale}},
		Timestamp: stale.UnixMilli(),
		Version:   9,
	})

	tb := newTab(t, profile, nil)
	tb.manager.Start(c)
	t.Cleanup(tb.manager.Stop)

	assert.Empty(t, tb.manager.Lines())
	_, err := profile.Session().Get(c, DefaultStorageKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStorageWatchSyncsSiblingTabWithoutBroadcast(t *testing.T) {
	c := context.Background()
	profile := storage.NewStore()
	tabA := newTab(t, profile, nil)
	tabB := newTab(t, profile, nil)

	tabA.manager.Start(c)
	t.Cleanup(tabA.manager.Stop)
	tabB.manager.Start(c)
	t.Cleanup(tabB.manager.Stop)

	tabA.manager.AddToCart(c, snivy(3), 2)

	require.Eventually(t, func() bool {
		return len(tabB.manager.Lines()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, tabA.manager.Version(), tabB.manager.Version())
}
