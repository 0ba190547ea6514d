package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
	"github.com/cardhaus/cartsync/notification"
)

func (m *Manager) sweepLoop(c context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(c)
		}
	}
}

// sweep runs the three revalidation passes. Each pass commits its own
// corrective write through the snapshot store so the result is versioned and
// broadcast like any other mutation.
func (m *Manager) sweep(c context.Context) {
	c, span := otel.Tracer.Start(c, "Manager sweep")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager sweep").
		Logger()
	c = logger.WithContext(c)

	if m.catalog != nil {
		m.revalidatePrices(c)
		m.revalidateStock(c)
	}
	m.expireLines(c)
}

// revalidatePrices re-prices every line against the catalog and annotates
// drift beyond the threshold. UnitPrice is never adjusted. A failed fetch
// leaves that line unannotated and never aborts the others.
func (m *Manager) revalidatePrices(c context.Context) {
	c, span := otel.Tracer.Start(c, "Manager revalidatePrices")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager revalidatePrices").
		Str(log.KEY_SWEEP_PASS, "price").
		Logger()

	current := map[string]decimal.Decimal{}
	for _, line := range m.Lines() {
		price, err := m.catalog.CurrentPrice(c, line.CardID)
		if err != nil {
			err = fmt.Errorf("failed fetching current price with error=%w", err)
			logger.Warn().Err(err).Str(log.KEY_CARD_ID, line.CardID).Msg(err.Error())
			continue
		}
		current[line.CardID] = price
	}

	m.mu.Lock()
	snap := m.snapshot.clone()
	now := time.Now()
	drifted := 0
	for i := range snap.Lines {
		line := &snap.Lines[i]
		price, ok := current[line.CardID]
		if !ok || line.UnitPrice.IsZero() {
			continue
		}
		ratio := price.Sub(line.UnitPrice).Abs().Div(line.UnitPrice)
		if !ratio.GreaterThan(m.drift) {
			continue
		}
		original := line.UnitPrice
		line.PriceChanged = true
		line.OriginalPrice = &original
		line.CurrentPrice = &price
		m.stamp(line, now)
		drifted++
	}
	if drifted > 0 {
		m.snapshot = m.store.Save(c, snap, 0)
	}
	m.mu.Unlock()

	if drifted > 0 {
		logger.Warn().Int(log.KEY_LINE_COUNT, drifted).Msg("detected price drift")
		m.notifications.Notify(c, notification.SeverityWarning,
			fmt.Sprintf("prices changed for %d item(s) in your cart", drifted))
	}
}

// revalidateStock re-checks stock and flags lines whose quantity can no
// longer be fulfilled. Quantities are never auto-reduced.
func (m *Manager) revalidateStock(c context.Context) {
	c, span := otel.Tracer.Start(c, "Manager revalidateStock")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager revalidateStock").
		Str(log.KEY_SWEEP_PASS, "stock").
		Logger()

	current := map[string]int{}
	for _, line := range m.Lines() {
		stock, err := m.catalog.Stock(c, line.CardID)
		if err != nil {
			err = fmt.Errorf("failed fetching current stock with error=%w", err)
			logger.Warn().Err(err).Str(log.KEY_CARD_ID, line.CardID).Msg(err.Error())
			continue
		}
		current[line.CardID] = stock
	}

	m.mu.Lock()
	snap := m.snapshot.clone()
	now := time.Now()
	short := 0
	for i := range snap.Lines {
		line := &snap.Lines[i]
		stock, ok := current[line.CardID]
		if !ok || stock >= line.Quantity {
			continue
		}
		remaining := stock
		line.OutOfStock = true
		line.CurrentStock = &remaining
		m.stamp(line, now)
		short++
	}
	if short > 0 {
		m.snapshot = m.store.Save(c, snap, 0)
	}
	m.mu.Unlock()

	if short > 0 {
		logger.Error().Int(log.KEY_LINE_COUNT, short).Msg("detected stock shortfall")
		m.notifications.Notify(c, notification.SeverityError,
			fmt.Sprintf("%d item(s) in your cart are no longer fully in stock", short))
	}
}

// expireLines evicts lines older than the expiry window. Removal is itself a
// versioned mutation.
func (m *Manager) expireLines(c context.Context) {
	c, span := otel.Tracer.Start(c, "Manager expireLines")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "Manager expireLines").
		Str(log.KEY_SWEEP_PASS, "expiry").
		Logger()

	m.mu.Lock()
	snap := m.snapshot.clone()
	cutoff := time.Now().Add(-m.expiryWindow)
	kept := snap.Lines[:0]
	removed := 0
	for _, line := range snap.Lines {
		if line.AddedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	snap.Lines = kept
	if removed > 0 {
		m.snapshot = m.store.Save(c, snap, 0)
	}
	m.mu.Unlock()

	if removed > 0 {
		logger.Info().Int(log.KEY_LINE_COUNT, removed).Msg("evicted expired cart lines")
		m.notifications.Notify(c, notification.SeverityInfo,
			fmt.Sprintf("removed %d expired item(s) from your cart", removed))
	}
}
