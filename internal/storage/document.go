package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentVersion is the current on-disk schema version
const DocumentVersion = 1

// UserRecord holds a single user's balance and lifetime counters
type UserRecord struct {
	Balance     int64        `json:"balance"`
	TotalEarned int64        `json:"total_earned"`
	TotalSpent  int64        `json:"total_spent"`
	LastDaily   *time.Time   `json:"last_daily,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Stats       UserActivity `json:"stats"`
}

// UserActivity holds per-user activity counters
type UserActivity struct {
	Purchases       int `json:"purchases"`
	TradesCompleted int `json:"trades_completed"`
	DailyStreak     int `json:"daily_streak"`
}

// InventoryEntry is one stack of an item in a user's inventory
type InventoryEntry struct {
	Quantity   int64     `json:"quantity"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ShopItem is a purchasable item definition
type ShopItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
	Stock       int64  `json:"stock"` // -1 = unlimited
	IsActive    bool   `json:"is_active"`
}

// Metadata holds document-level bookkeeping
type Metadata struct {
	Version          int       `json:"version"`
	LastBackup       time.Time `json:"last_backup,omitempty"`
	TotalCirculation int64     `json:"total_currency_in_circulation"`
}

// Document is the authoritative ledger state: every balance, every
// inventory, every shop item. Exactly one document exists per store.
type Document struct {
	Users     map[string]*UserRecord                `json:"users"`
	Inventory map[string]map[string]*InventoryEntry `json:"inventory"`
	ShopItems map[string]*ShopItem                  `json:"shop_items"`
	Metadata  Metadata                              `json:"metadata"`
}

// NewDocument returns an empty, valid ledger document
func NewDocument() *Document {
	return &Document{
		Users:     make(map[string]*UserRecord),
		Inventory: make(map[string]map[string]*InventoryEntry),
		ShopItems: make(map[string]*ShopItem),
		Metadata:  Metadata{Version: DocumentVersion},
	}
}

// Validate checks the structural invariants of the document:
// non-nil sections, no negative balances, an inventory bucket for every
// user, no zero-quantity inventory rows, and circulation matching the
// sum of all balances.
func (d *Document) Validate() error {
	if d.Users == nil || d.Inventory == nil || d.ShopItems == nil {
		return fmt.Errorf("document is missing a required section")
	}

	var sum int64
	for id, user := range d.Users {
		if user == nil {
			return fmt.Errorf("user %s: nil record", id)
		}
		if user.Balance < 0 {
			return fmt.Errorf("user %s: negative balance %d", id, user.Balance)
		}
		if _, ok := d.Inventory[id]; !ok {
			return fmt.Errorf("user %s: missing inventory bucket", id)
		}
		sum += user.Balance
	}

	for userID, items := range d.Inventory {
		for itemID, entry := range items {
			if entry == nil || entry.Quantity <= 0 {
				return fmt.Errorf("inventory %s/%s: non-positive quantity", userID, itemID)
			}
		}
	}

	for itemID, item := range d.ShopItems {
		if item == nil {
			return fmt.Errorf("shop item %s: nil definition", itemID)
		}
		if item.Price < 0 {
			return fmt.Errorf("shop item %s: negative price %d", itemID, item.Price)
		}
	}

	if d.Metadata.TotalCirculation != sum {
		return fmt.Errorf("circulation mismatch: metadata says %d, balances sum to %d",
			d.Metadata.TotalCirculation, sum)
	}

	return nil
}

// ParseDocument decodes and validates a persisted document
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode ledger document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("ledger document failed validation: %w", err)
	}
	return &doc, nil
}

// marshal encodes the document for persistence. Indented so operators
// can inspect the file directly.
func (d *Document) marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// rawDocument is used during repair to salvage sections independently
type rawDocument struct {
	Users     json.RawMessage `json:"users"`
	Inventory json.RawMessage `json:"inventory"`
	ShopItems json.RawMessage `json:"shop_items"`
	Metadata  json.RawMessage `json:"metadata"`
}

// RepairDocument salvages whatever well-typed sections survive in a
// structurally damaged document and rebuilds the rest. Returns nil if
// the data is not even a JSON object.
func RepairDocument(data []byte) *Document {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	doc := NewDocument()

	if raw.Users != nil {
		var users map[string]*UserRecord
		if err := json.Unmarshal(raw.Users, &users); err == nil && users != nil {
			doc.Users = users
		}
	}
	if raw.Inventory != nil {
		var inv map[string]map[string]*InventoryEntry
		if err := json.Unmarshal(raw.Inventory, &inv); err == nil && inv != nil {
			doc.Inventory = inv
		}
	}
	if raw.ShopItems != nil {
		var items map[string]*ShopItem
		if err := json.Unmarshal(raw.ShopItems, &items); err == nil && items != nil {
			doc.ShopItems = items
		}
	}
	if raw.Metadata != nil {
		var meta Metadata
		if err := json.Unmarshal(raw.Metadata, &meta); err == nil {
			doc.Metadata = meta
		}
	}

	doc.normalize()
	return doc
}

// normalize drops invalid entries and reconciles derived fields so the
// repaired document passes Validate
func (d *Document) normalize() {
	for id, user := range d.Users {
		if user == nil || user.Balance < 0 {
			delete(d.Users, id)
			continue
		}
		if _, ok := d.Inventory[id]; !ok {
			d.Inventory[id] = make(map[string]*InventoryEntry)
		}
	}

	for userID, items := range d.Inventory {
		if items == nil {
			d.Inventory[userID] = make(map[string]*InventoryEntry)
			continue
		}
		for itemID, entry := range items {
			if entry == nil || entry.Quantity <= 0 {
				delete(items, itemID)
			}
		}
	}

	for itemID, item := range d.ShopItems {
		if item == nil || item.Price < 0 {
			delete(d.ShopItems, itemID)
		}
	}

	var sum int64
	for _, user := range d.Users {
		sum += user.Balance
	}
	d.Metadata.TotalCirculation = sum
	if d.Metadata.Version == 0 {
		d.Metadata.Version = DocumentVersion
	}
}
