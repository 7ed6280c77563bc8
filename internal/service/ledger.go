package service

import (
	"sync"
	"time"

	"economybot/internal/logger"
	"economybot/internal/storage"

	"github.com/google/uuid"
)

// DailyReward configures the daily claim amounts
type DailyReward struct {
	Base         int64
	StreakStep   int64
	StepCap      int64
	Cooldown     time.Duration
	StreakWindow time.Duration
}

// DefaultDailyReward mirrors the bot's stock economy settings
func DefaultDailyReward() DailyReward {
	return DailyReward{
		Base:         100,
		StreakStep:   10,
		StepCap:      200,
		Cooldown:     22 * time.Hour,
		StreakWindow: 48 * time.Hour,
	}
}

// Ledger owns every balance and inventory. Each mutating operation runs
// a full load-mutate-validate-save cycle against the durable store
// under one mutex, so operations are linearized and either apply
// completely or leave the document untouched.
type Ledger struct {
	mu    sync.Mutex
	store *storage.Store
	txlog *storage.TxLog
	now   func() time.Time

	Daily DailyReward
}

// NewLedger creates a ledger service on top of the durable store and
// transaction log
func NewLedger(store *storage.Store, txlog *storage.TxLog) *Ledger {
	return &Ledger{
		store: store,
		txlog: txlog,
		now:   time.Now,
		Daily: DefaultDailyReward(),
	}
}

// InitializeUser creates a zero-balance record and an empty inventory
// bucket for the user. Calling it again for an existing user is a no-op.
func (l *Ledger) InitializeUser(userID string) error {
	if !ValidUserID(userID) {
		return ErrInvalidUserID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}
	if _, ok := doc.Users[userID]; ok {
		return nil
	}

	l.ensureUser(doc, userID)
	return l.store.Save(doc, true)
}

// GetBalance returns the user's balance, or 0 for unknown users without
// creating them
func (l *Ledger) GetBalance(userID string) (int64, error) {
	if !ValidUserID(userID) {
		return 0, ErrInvalidUserID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return 0, err
	}
	user, ok := doc.Users[userID]
	if !ok {
		return 0, nil
	}
	return user.Balance, nil
}

// Credit adds amount to the user's balance, auto-initializing the user
// if needed. Circulation and total_earned are reconciled in the same
// document cycle.
func (l *Ledger) Credit(userID string, amount int64, reason string) error {
	if !ValidUserID(userID) {
		return ErrInvalidUserID
	}
	if amount <= 0 || !ValidAmount(amount) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}

	user := l.ensureUser(doc, userID)
	before := user.Balance
	creditUser(doc, user, amount)

	if err := l.store.Save(doc, true); err != nil {
		return err
	}

	l.logTx(userID, storage.TxEarn, amount, before, user.Balance, "", reason)
	return nil
}

// Debit removes amount from the user's balance. It returns false, with
// no mutation and no log entry, when the user is unknown or the balance
// is insufficient; a debit never drives a balance negative.
func (l *Ledger) Debit(userID string, amount int64, reason string) (bool, error) {
	if !ValidUserID(userID) {
		return false, ErrInvalidUserID
	}
	if amount <= 0 || !ValidAmount(amount) {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return false, err
	}

	user, ok := doc.Users[userID]
	if !ok || user.Balance < amount {
		return false, nil
	}

	before := user.Balance
	debitUser(doc, user, amount)

	if err := l.store.Save(doc, true); err != nil {
		return false, err
	}

	l.logTx(userID, storage.TxSpend, -amount, before, user.Balance, "", reason)
	return true, nil
}

// Transfer moves amount from one user to another in a single document
// cycle. Returns false when the sender cannot cover the amount. The two
// legs are logged as one spend/earn pair.
func (l *Ledger) Transfer(fromID, toID string, amount int64, reason string) (bool, error) {
	if !ValidUserID(fromID) || !ValidUserID(toID) {
		return false, ErrInvalidUserID
	}
	if amount <= 0 || !ValidAmount(amount) {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return false, err
	}

	from, ok := doc.Users[fromID]
	if !ok || from.Balance < amount {
		return false, nil
	}
	to := l.ensureUser(doc, toID)

	fromBefore := from.Balance
	toBefore := to.Balance
	debitUser(doc, from, amount)
	creditUser(doc, to, amount)

	if err := l.store.Save(doc, true); err != nil {
		return false, err
	}

	l.logTx(fromID, storage.TxSpend, -amount, fromBefore, from.Balance, "", reason)
	l.logTx(toID, storage.TxEarn, amount, toBefore, to.Balance, "", reason)
	return true, nil
}

// AddItem puts qty of an item into the user's inventory,
// auto-initializing the user if needed
func (l *Ledger) AddItem(userID, itemID string, qty int64) error {
	if !ValidUserID(userID) {
		return ErrInvalidUserID
	}
	if !ValidItemID(itemID) {
		return ErrInvalidItemID
	}
	if qty <= 0 || !ValidAmount(qty) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}

	l.ensureUser(doc, userID)
	addInventory(doc, userID, itemID, qty, l.now().UTC())
	return l.store.Save(doc, true)
}

// RemoveItem takes qty of an item out of the user's inventory. Returns
// false, with no mutation, when the user holds less than qty.
func (l *Ledger) RemoveItem(userID, itemID string, qty int64) (bool, error) {
	if !ValidUserID(userID) {
		return false, ErrInvalidUserID
	}
	if !ValidItemID(itemID) {
		return false, ErrInvalidItemID
	}
	if qty <= 0 || !ValidAmount(qty) {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return false, err
	}

	if !removeInventory(doc, userID, itemID, qty) {
		return false, nil
	}
	if err := l.store.Save(doc, true); err != nil {
		return false, err
	}
	return true, nil
}

// GetInventory returns a copy of the user's inventory. Unknown users
// get an empty map without being created.
func (l *Ledger) GetInventory(userID string) (map[string]storage.InventoryEntry, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidUserID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return nil, err
	}

	result := make(map[string]storage.InventoryEntry)
	for itemID, entry := range doc.Inventory[userID] {
		result[itemID] = *entry
	}
	return result, nil
}

// ClearInventory empties the user's inventory bucket
func (l *Ledger) ClearInventory(userID string) error {
	if !ValidUserID(userID) {
		return ErrInvalidUserID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return err
	}
	if _, ok := doc.Users[userID]; !ok {
		return nil
	}

	doc.Inventory[userID] = make(map[string]*storage.InventoryEntry)
	return l.store.Save(doc, true)
}

// DailyResult reports the outcome of a daily claim
type DailyResult struct {
	Claimed bool
	Amount  int64
	Streak  int
	NextIn  time.Duration
}

// ClaimDaily grants the user their daily reward. The claim is refused
// while the cooldown is running; the streak continues when the previous
// claim was within the streak window and resets otherwise.
func (l *Ledger) ClaimDaily(userID string) (DailyResult, error) {
	if !ValidUserID(userID) {
		return DailyResult{}, ErrInvalidUserID
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return DailyResult{}, err
	}

	user := l.ensureUser(doc, userID)
	now := l.now().UTC()

	if user.LastDaily != nil {
		since := now.Sub(*user.LastDaily)
		if since < l.Daily.Cooldown {
			return DailyResult{
				Claimed: false,
				Streak:  user.Stats.DailyStreak,
				NextIn:  l.Daily.Cooldown - since,
			}, nil
		}
	}

	streak := 1
	if user.LastDaily != nil && now.Sub(*user.LastDaily) <= l.Daily.StreakWindow {
		streak = user.Stats.DailyStreak + 1
	}

	bonus := l.Daily.StreakStep * int64(streak-1)
	if bonus > l.Daily.StepCap {
		bonus = l.Daily.StepCap
	}
	amount := l.Daily.Base + bonus

	before := user.Balance
	creditUser(doc, user, amount)
	user.LastDaily = &now
	user.Stats.DailyStreak = streak

	if err := l.store.Save(doc, true); err != nil {
		return DailyResult{}, err
	}

	l.logTx(userID, storage.TxEarn, amount, before, user.Balance, "", "daily")
	return DailyResult{Claimed: true, Amount: amount, Streak: streak}, nil
}

// ensureUser returns the user record, creating it (and its inventory
// bucket) if absent. Caller must hold l.mu.
func (l *Ledger) ensureUser(doc *storage.Document, userID string) *storage.UserRecord {
	if user, ok := doc.Users[userID]; ok {
		if _, ok := doc.Inventory[userID]; !ok {
			doc.Inventory[userID] = make(map[string]*storage.InventoryEntry)
		}
		return user
	}

	user := &storage.UserRecord{CreatedAt: l.now().UTC()}
	doc.Users[userID] = user
	doc.Inventory[userID] = make(map[string]*storage.InventoryEntry)
	return user
}

// creditUser applies a credit to an in-memory document, reconciling
// circulation alongside the balance
func creditUser(doc *storage.Document, user *storage.UserRecord, amount int64) {
	user.Balance += amount
	user.TotalEarned += amount
	doc.Metadata.TotalCirculation += amount
}

// debitUser applies a debit to an in-memory document. Caller has
// already checked sufficiency.
func debitUser(doc *storage.Document, user *storage.UserRecord, amount int64) {
	user.Balance -= amount
	user.TotalSpent += amount
	doc.Metadata.TotalCirculation -= amount
}

func addInventory(doc *storage.Document, userID, itemID string, qty int64, at time.Time) {
	items := doc.Inventory[userID]
	if items == nil {
		items = make(map[string]*storage.InventoryEntry)
		doc.Inventory[userID] = items
	}
	if entry, ok := items[itemID]; ok {
		entry.Quantity += qty
		return
	}
	items[itemID] = &storage.InventoryEntry{Quantity: qty, AcquiredAt: at}
}

// removeInventory takes qty out of the user's stack, deleting the row
// when it hits zero. Returns false when the stack is too small.
func removeInventory(doc *storage.Document, userID, itemID string, qty int64) bool {
	entry, ok := doc.Inventory[userID][itemID]
	if !ok || entry.Quantity < qty {
		return false
	}
	entry.Quantity -= qty
	if entry.Quantity == 0 {
		delete(doc.Inventory[userID], itemID)
	}
	return true
}

// logTx appends to the audit trail. The trail is advisory history, so a
// logging failure is reported but never fails the operation that
// already committed.
func (l *Ledger) logTx(userID string, typ storage.TxType, amount, before, after int64, itemID, description string) {
	if l.txlog == nil {
		return
	}
	err := l.txlog.Append(&storage.Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ItemID:        itemID,
		Description:   description,
		CreatedAt:     l.now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to append transaction log entry",
			"user_id", userID, "type", string(typ), "error", err)
	}
}

// SetClock overrides the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}
