package service

import (
	"sort"

	"economybot/internal/storage"
)

// Shop provides CRUD over the purchasable item catalog plus the
// purchase flow. It layers on the ledger's document cycle and shares
// its mutex, so catalog changes are linearized with balance changes.
type Shop struct {
	ledger *Ledger
}

// NewShop creates a shop service bound to the ledger
func NewShop(ledger *Ledger) *Shop {
	return &Shop{ledger: ledger}
}

// Listing is a catalog entry together with its identifier
type Listing struct {
	ID string `json:"id"`
	storage.ShopItem
}

// ItemUpdate carries the fields of a partial catalog update; nil fields
// are left unchanged
type ItemUpdate struct {
	Name        *string
	Description *string
	Price       *int64
	Category    *string
	Stock       *int64
	IsActive    *bool
}

// ListItems returns active catalog entries, optionally filtered by
// category, sorted by price then id
func (s *Shop) ListItems(category string) ([]Listing, error) {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(doc.ShopItems))
	for id, item := range doc.ShopItems {
		if !item.IsActive {
			continue
		}
		if category != "" && item.Category != category {
			continue
		}
		listings = append(listings, Listing{ID: id, ShopItem: *item})
	}

	sort.Slice(listings, func(i, j int) bool {
		if listings[i].Price != listings[j].Price {
			return listings[i].Price < listings[j].Price
		}
		return listings[i].ID < listings[j].ID
	})
	return listings, nil
}

// GetItem returns a single catalog entry
func (s *Shop) GetItem(itemID string) (*Listing, error) {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}
	item, ok := doc.ShopItems[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &Listing{ID: itemID, ShopItem: *item}, nil
}

// CreateItem adds a new catalog entry. stock of -1 means unlimited.
func (s *Shop) CreateItem(itemID, name string, price int64, description, category string, stock int64) error {
	if !ValidItemID(itemID) {
		return ErrInvalidItemID
	}
	if !ValidAmount(price) {
		return ErrInvalidAmount
	}

	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}
	if _, ok := doc.ShopItems[itemID]; ok {
		return ErrItemExists
	}

	doc.ShopItems[itemID] = &storage.ShopItem{
		Name:        name,
		Description: description,
		Price:       price,
		Category:    category,
		Stock:       stock,
		IsActive:    true,
	}
	return l.store.Save(doc, true)
}

// UpdateItem applies a partial update to a catalog entry, re-validating
// the price when it changes
func (s *Shop) UpdateItem(itemID string, upd ItemUpdate) error {
	if upd.Price != nil && !ValidAmount(*upd.Price) {
		return ErrInvalidAmount
	}

	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}
	item, ok := doc.ShopItems[itemID]
	if !ok {
		return ErrItemNotFound
	}

	if upd.Name != nil {
		item.Name = *upd.Name
	}
	if upd.Description != nil {
		item.Description = *upd.Description
	}
	if upd.Price != nil {
		item.Price = *upd.Price
	}
	if upd.Category != nil {
		item.Category = *upd.Category
	}
	if upd.Stock != nil {
		item.Stock = *upd.Stock
	}
	if upd.IsActive != nil {
		item.IsActive = *upd.IsActive
	}
	return l.store.Save(doc, true)
}

// RemoveItem deletes a catalog entry. Items already held in
// inventories stay there.
func (s *Shop) RemoveItem(itemID string) error {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}
	if _, ok := doc.ShopItems[itemID]; !ok {
		return ErrItemNotFound
	}
	delete(doc.ShopItems, itemID)
	return l.store.Save(doc, true)
}

// Purchase debits the buyer, decrements stock and delivers the item in
// one document cycle. The boolean result is false for the expected
// failure modes (insufficient funds, out of stock); the reason string
// explains which.
func (s *Shop) Purchase(userID, itemID string, qty int64) (bool, string, error) {
	if !ValidUserID(userID) {
		return false, "", ErrInvalidUserID
	}
	if !ValidItemID(itemID) {
		return false, "", ErrInvalidItemID
	}
	if qty <= 0 || !ValidAmount(qty) {
		return false, "", ErrInvalidAmount
	}

	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return false, "", err
	}

	item, ok := doc.ShopItems[itemID]
	if !ok || !item.IsActive {
		return false, "", ErrItemNotFound
	}
	if item.Stock != -1 && item.Stock < qty {
		return false, "out of stock", nil
	}

	total := item.Price * qty
	if !ValidAmount(total) {
		return false, "", ErrInvalidAmount
	}

	user, ok := doc.Users[userID]
	if !ok || user.Balance < total {
		return false, "insufficient funds", nil
	}

	before := user.Balance
	debitUser(doc, user, total)
	if item.Stock != -1 {
		item.Stock -= qty
	}
	addInventory(doc, userID, itemID, qty, l.now().UTC())
	user.Stats.Purchases++

	if err := l.store.Save(doc, true); err != nil {
		return false, "", err
	}

	l.logTx(userID, storage.TxSpend, -total, before, user.Balance, itemID, "shop purchase: "+item.Name)
	return true, "", nil
}
