// Package catalog is the server-authoritative price/stock collaborator. The
// cart core only ever reads it; the stub service exists so the sweeper has
// something real to revalidate against in demos and tests.
package catalog

import (
	"sync"

	"github.com/shopspring/decimal"
)

type CardEntry struct {
	CardID string          `json:"cardId"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
}

// CardStore is the stub's in-memory card table.
type CardStore struct {
	mu    sync.RWMutex
	cards map[string]CardEntry
}

func NewCardStore() *CardStore {
	return &CardStore{cards: map[string]CardEntry{}}
}

func (s *CardStore) Upsert(entry CardEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[entry.CardID] = entry
}

func (s *CardStore) Find(cardID string) (CardEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cards[cardID]
	return entry, ok
}
