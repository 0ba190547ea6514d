package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardhaus/cartsync/cart/storage"
	"github.com/cardhaus/cartsync/notification"
)

type fakeCatalog struct {
	prices map[string]decimal.Decimal
	stocks map[string]int
	broken map[string]error
}

func (f *fakeCatalog) CurrentPrice(_ context.Context, cardID string) (decimal.Decimal, error) {
	if err, ok := f.broken[cardID]; ok {
		return decimal.Zero, err
	}
	price, ok := f.prices[cardID]
	if !ok {
		return decimal.Zero, errors.New("unknown card")
	}
	return price, nil
}

func (f *fakeCatalog) Stock(_ context.Context, cardID string) (int, error) {
	if err, ok := f.broken[cardID]; ok {
		return 0, err
	}
	stock, ok := f.stocks[cardID]
	if !ok {
		return 0, errors.New("unknown card")
	}
	return stock, nil
}

func newSweeperTab(t *testing.T, catalog *fakeCatalog) tab {
	t.Helper()
	notifications := notification.NewCenter(time.Minute)
	t.Cleanup(notifications.Close)
	manager := New(Config{
		Backend:       storage.NewStore().Session(),
		Catalog:       catalog,
		Notifications: notifications,
	})
	return tab{manager: manager, notifications: notifications}
}

func TestSweepAnnotatesPriceDrift(t *testing.T) {
	c := context.Background()
	catalog := &fakeCatalog{
		prices: map[string]decimal.Decimal{
			"drifted": decimal.NewFromFloat(11.00),
			"steady":  decimal.NewFromFloat(10.10),
		},
		stocks: map[string]int{"drifted": 99, "steady": 99},
	}
	tb := newSweeperTab(t, catalog)

	ten := decimal.NewFromFloat(10.00)
	tb.manager.AddToCart(c, Card{ID: "drifted", Condition: "NM", Price: ten, KnownStock: 9}, 1)
	tb.manager.AddToCart(c, Card{ID: "steady", Condition: "NM", Price: ten, KnownStock: 9}, 1)
	before := tb.manager.Version()

	tb.manager.sweep(c)

	lines := tb.manager.Lines()
	require.Len(t, lines, 2)
	for _, line := range lines {
		switch line.CardID {
		case "drifted":
			assert.True(t, line.PriceChanged)
			require.NotNil(t, line.OriginalPrice)
			require.NotNil(t, line.CurrentPrice)
			assert.True(t, line.OriginalPrice.Equal(ten))
			assert.True(t, line.CurrentPrice.Equal(decimal.NewFromFloat(11.00)))
			// the price the shopper committed to is left alone
			assert.True(t, line.UnitPrice.Equal(ten))
		case "steady":
			// 1% drift stays below the default 5% threshold
			assert.False(t, line.PriceChanged)
			assert.Nil(t, line.CurrentPrice)
		}
	}
	assert.Greater(t, tb.manager.Version(), before)
	warnings := messages(tb.notifications, notification.SeverityWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "prices changed for 1 item(s)")
}

func TestSweepFlagsStockShortfall(t *testing.T) {
	c := context.Background()
	catalog := &fakeCatalog{
		prices: map[string]decimal.Decimal{"scarce": decimal.NewFromInt(4)},
		stocks: map[string]int{"scarce": 1},
	}
	tb := newSweeperTab(t, catalog)

	tb.manager.AddToCart(c, Card{ID: "scarce", Condition: "NM", Price: decimal.NewFromInt(4), KnownStock: 3}, 3)

	tb.manager.sweep(c)

	lines := tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.True(t, lines[0].OutOfStock)
	require.NotNil(t, lines[0].CurrentStock)
	assert.Equal(t, 1, *lines[0].CurrentStock)
	// the quantity itself is never auto-reduced
	assert.Equal(t, 3, lines[0].Quantity)
	require.Len(t, messages(tb.notifications, notification.SeverityError), 1)
}

func TestSweepEvictsExpiredLines(t *testing.T) {
	c := context.Background()
	catalog := &fakeCatalog{
		prices: map[string]decimal.Decimal{"old": decimal.NewFromInt(2), "fresh": decimal.NewFromInt(2)},
		stocks: map[string]int{"old": 99, "fresh": 99},
	}
	tb := newSweeperTab(t, catalog)

	tb.manager.AddToCart(c, Card{ID: "old", Condition: "NM", Price: decimal.NewFromInt(2), KnownStock: 9}, 1)
	tb.manager.AddToCart(c, Card{ID: "fresh", Condition: "NM", Price: decimal.NewFromInt(2), KnownStock: 9}, 1)

	tb.manager.mu.Lock()
	for i := range tb.manager.snapshot.Lines {
		if tb.manager.snapshot.Lines[i].CardID == "old" {
			tb.manager.snapshot.Lines[i].AddedAt = time.Now().Add(-8 * 24 * time.Hour)
		} else {
			tb.manager.snapshot.Lines[i].AddedAt = time.Now().Add(-6 * 24 * time.Hour)
		}
	}
	tb.manager.mu.Unlock()
	before := tb.manager.Version()

	tb.manager.sweep(c)

	lines := tb.manager.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "fresh", lines[0].CardID)
	assert.Greater(t, tb.manager.Version(), before)
	infos := messages(tb.notifications, notification.SeverityInfo)
	require.NotEmpty(t, infos)
	assert.Contains(t, infos[len(infos)-1], "removed 1 expired item(s)")
}

func TestSweepToleratesFetchFailures(t *testing.T) {
	c := context.Background()
	catalog := &fakeCatalog{
		prices: map[string]decimal.Decimal{"healthy": decimal.NewFromFloat(22.00)},
		stocks: map[string]int{"healthy": 99},
		broken: map[string]error{"flaky": errors.New("upstream timeout")},
	}
	tb := newSweeperTab(t, catalog)

	twenty := decimal.NewFromFloat(20.00)
	tb.manager.AddToCart(c, Card{ID: "flaky", Condition: "NM", Price: twenty, KnownStock: 9}, 1)
	tb.manager.AddToCart(c, Card{ID: "healthy", Condition: "NM", Price: twenty, KnownStock: 9}, 1)

	tb.manager.sweep(c)

	lines := tb.manager.Lines()
	require.Len(t, lines, 2)
	for _, line := range lines {
		switch line.CardID {
		case "healthy":
			assert.True(t, line.PriceChanged)
		case "flaky":
			// the failed fetch skips this line and never aborts the pass
			assert.False(t, line.PriceChanged)
			assert.False(t, line.OutOfStock)
		}
	}
	require.Len(t, messages(tb.notifications, notification.SeverityWarning), 1)
}
