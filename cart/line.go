package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card is the shopper's add-to-cart intent: one listing of a card in one
// condition, with the price and stock the storefront displayed at that
// moment.
type Card struct {
	ID         string          `json:"id"         validate:"required"`
	Condition  string          `json:"condition"  validate:"required"`
	Price      decimal.Decimal `json:"price"      validate:"positive_price"`
	KnownStock int             `json:"knownStock"`
}

// Line is one distinct purchasable unit in the cart. (CardID, Condition) is
// the identity key; at most one line exists per pair. UnitPrice and
// KnownStock are captured at add time; KnownStock only bounds optimistic
// quantity increases and is not refreshed by revalidation.
type Line struct {
	CardID         string          `json:"cardId"`
	Condition      string          `json:"condition"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	KnownStock     int             `json:"knownStock"`
	AddedAt        time.Time       `json:"addedAt"`
	LastModifiedAt time.Time       `json:"lastModifiedAt"`
	Version        int64           `json:"version"`

	// advisory drift annotations, set by revalidation only
	PriceChanged  bool             `json:"priceChanged,omitempty"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	CurrentPrice  *decimal.Decimal `json:"currentPrice,omitempty"`
	OutOfStock    bool             `json:"outOfStock,omitempty"`
	CurrentStock  *int             `json:"currentStock,omitempty"`
}

// Snapshot is the unit of storage and synchronization: the full cart plus
// its version and the wall-clock time of the write that produced it.
// Version strictly increases per browser profile and is the sole tie-breaker
// across tabs.
type Snapshot struct {
	Lines     []Line `json:"lines"`
	Version   int64  `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// record is the persisted key-value layout shared with every tab.
type record struct {
	Cart      []Line `json:"cart"`
	Timestamp int64  `json:"timestamp"`
	Version   int64  `json:"version"`
}

func (s Snapshot) clone() Snapshot {
	copied := s
	copied.Lines = make([]Line, len(s.Lines))
	copy(copied.Lines, s.Lines)
	return copied
}

// find returns the index of the line with the given identity key, or -1.
// Insertion order of Lines is preserved for display.
func (s Snapshot) find(cardID, condition string) int {
	for i, line := range s.Lines {
		if line.CardID == cardID && line.Condition == condition {
			return i
		}
	}
	return -1
}
