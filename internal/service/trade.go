package service

import (
	"fmt"
	"sync"
	"time"

	"economybot/internal/storage"

	"github.com/google/uuid"
)

// DefaultTradeTTL is how long a trade session stays open
const DefaultTradeTTL = 5 * time.Minute

// TradeStatus is the lifecycle state of a trade session
type TradeStatus string

const (
	TradeActive    TradeStatus = "active"
	TradeCompleted TradeStatus = "completed"
	TradeCancelled TradeStatus = "cancelled"
	TradeExpired   TradeStatus = "expired"
)

// Offer is what one party has staged: money plus item quantities
type Offer struct {
	Money int64            `json:"money"`
	Items map[string]int64 `json:"items"`
}

func newOffer() Offer {
	return Offer{Items: make(map[string]int64)}
}

func (o Offer) clone() Offer {
	c := Offer{Money: o.Money, Items: make(map[string]int64, len(o.Items))}
	for id, qty := range o.Items {
		c.Items[id] = qty
	}
	return c
}

// TradeSession is an ephemeral two-party negotiation. Nothing in it is
// persisted; only the effects of a successful execution are durable.
type TradeSession struct {
	ID           string      `json:"id"`
	UserA        string      `json:"user_a"`
	UserB        string      `json:"user_b"`
	OfferA       Offer       `json:"offer_a"`
	OfferB       Offer       `json:"offer_b"`
	ConfirmedA   bool        `json:"confirmed_a"`
	ConfirmedB   bool        `json:"confirmed_b"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Status       TradeStatus `json:"status"`
	CancelReason string      `json:"cancel_reason,omitempty"`
}

func (s *TradeSession) snapshot() *TradeSession {
	c := *s
	c.OfferA = s.OfferA.clone()
	c.OfferB = s.OfferB.clone()
	return &c
}

// TradeManager runs the escrow state machine. Sessions live in memory,
// keyed by id, with an active-session index per user. Every operation
// is serialized under the manager mutex, which also orders concurrent
// modifications of the same session by its two parties.
type TradeManager struct {
	mu       sync.Mutex
	sessions map[string]*TradeSession
	byUser   map[string]string // user id -> active session id
	ledger   *Ledger
	ttl      time.Duration
	now      func() time.Time
}

// NewTradeManager creates a trade manager bound to the ledger
func NewTradeManager(ledger *Ledger, ttl time.Duration) *TradeManager {
	if ttl <= 0 {
		ttl = DefaultTradeTTL
	}
	return &TradeManager{
		sessions: make(map[string]*TradeSession),
		byUser:   make(map[string]string),
		ledger:   ledger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateTrade opens a session between two distinct users, neither of
// whom may already be in an active trade
func (m *TradeManager) CreateTrade(userA, userB string) (string, error) {
	if !ValidUserID(userA) || !ValidUserID(userB) {
		return "", ErrInvalidUserID
	}
	if userA == userB {
		return "", ErrSelfTrade
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeSessionLocked(userA) != nil || m.activeSessionLocked(userB) != nil {
		return "", ErrAlreadyTrading
	}

	now := m.now().UTC()
	sess := &TradeSession{
		ID:        uuid.NewString(),
		UserA:     userA,
		UserB:     userB,
		OfferA:    newOffer(),
		OfferB:    newOffer(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Status:    TradeActive,
	}
	m.sessions[sess.ID] = sess
	m.byUser[userA] = sess.ID
	m.byUser[userB] = sess.ID
	return sess.ID, nil
}

// OfferMoney adds amount to the calling party's staged money. Any offer
// change clears both confirmations.
func (m *TradeManager) OfferMoney(sessionID, userID string, amount int64) error {
	if amount <= 0 || !ValidAmount(amount) {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, offer, err := m.activeOfferLocked(sessionID, userID)
	if err != nil {
		return err
	}
	if !ValidAmount(offer.Money + amount) {
		return ErrInvalidAmount
	}
	offer.Money += amount
	resetConfirmations(sess)
	return nil
}

// WithdrawMoney removes amount from the calling party's staged money
func (m *TradeManager) WithdrawMoney(sessionID, userID string, amount int64) error {
	if amount <= 0 || !ValidAmount(amount) {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, offer, err := m.activeOfferLocked(sessionID, userID)
	if err != nil {
		return err
	}
	if offer.Money < amount {
		return ErrInvalidAmount
	}
	offer.Money -= amount
	resetConfirmations(sess)
	return nil
}

// OfferItem stages qty of an item. The offering party's inventory is
// checked at stage time as a courtesy; final truth is re-verified at
// execution. Returns false when the party does not hold enough.
func (m *TradeManager) OfferItem(sessionID, userID, itemID string, qty int64) (bool, error) {
	if !ValidItemID(itemID) {
		return false, ErrInvalidItemID
	}
	if qty <= 0 || !ValidAmount(qty) {
		return false, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, offer, err := m.activeOfferLocked(sessionID, userID)
	if err != nil {
		return false, err
	}

	inv, err := m.ledger.GetInventory(userID)
	if err != nil {
		return false, err
	}
	if inv[itemID].Quantity < offer.Items[itemID]+qty {
		return false, nil
	}

	offer.Items[itemID] += qty
	resetConfirmations(sess)
	return true, nil
}

// WithdrawItem removes qty of an item from the calling party's staged
// offer. Returns false when less than qty is staged.
func (m *TradeManager) WithdrawItem(sessionID, userID, itemID string, qty int64) (bool, error) {
	if !ValidItemID(itemID) {
		return false, ErrInvalidItemID
	}
	if qty <= 0 || !ValidAmount(qty) {
		return false, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, offer, err := m.activeOfferLocked(sessionID, userID)
	if err != nil {
		return false, err
	}
	if offer.Items[itemID] < qty {
		return false, nil
	}
	offer.Items[itemID] -= qty
	if offer.Items[itemID] == 0 {
		delete(offer.Items, itemID)
	}
	resetConfirmations(sess)
	return true, nil
}

// Confirm marks the calling party's confirmation. It never triggers
// execution by itself.
func (m *TradeManager) Confirm(sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeSessionByIDLocked(sessionID)
	if err != nil {
		return err
	}
	switch userID {
	case sess.UserA:
		sess.ConfirmedA = true
	case sess.UserB:
		sess.ConfirmedB = true
	default:
		return ErrNotParticipant
	}
	return nil
}

// Execute settles a fully confirmed trade. Both parties' balances and
// inventories are re-verified against the live ledger before anything
// moves; on any insufficiency the trade aborts with a reason and no
// partial mutation. On success both money legs and all items move
// together and the session completes.
func (m *TradeManager) Execute(sessionID string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return false, "", ErrSessionNotFound
	}
	if sess.Status == TradeActive && m.now().UTC().After(sess.ExpiresAt) {
		m.expireLocked(sess)
	}
	if sess.Status == TradeExpired {
		return false, "trade has expired", nil
	}
	if sess.Status != TradeActive {
		return false, "", ErrTradeNotActive
	}
	if !sess.ConfirmedA || !sess.ConfirmedB {
		return false, "", ErrTradeNotConfirmed
	}

	ok, reason, err := m.ledger.settleTrade(sess)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, reason, nil
	}

	sess.Status = TradeCompleted
	m.evictLocked(sess)
	return true, "", nil
}

// Cancel aborts an active session. Nothing was ever moved during
// negotiation, so there are no balance effects.
func (m *TradeManager) Cancel(sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.activeSessionByIDLocked(sessionID)
	if err != nil {
		return err
	}
	sess.Status = TradeCancelled
	sess.CancelReason = reason
	m.evictLocked(sess)
	return nil
}

// GetActiveTradeFor returns a snapshot of the user's active session, or
// nil when there is none
func (m *TradeManager) GetActiveTradeFor(userID string) *TradeSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.activeSessionLocked(userID)
	if sess == nil {
		return nil
	}
	return sess.snapshot()
}

// Sweep expires overdue active sessions and drops terminal ones from
// the session table. Returns how many sessions were newly expired.
func (m *TradeManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	expired := 0
	for id, sess := range m.sessions {
		if sess.Status == TradeActive && now.After(sess.ExpiresAt) {
			m.expireLocked(sess)
			expired++
		}
		if sess.Status != TradeActive && now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
	return expired
}

// activeSessionLocked returns the user's active session, lazily
// expiring it if overdue. Caller must hold m.mu.
func (m *TradeManager) activeSessionLocked(userID string) *TradeSession {
	id, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	sess := m.sessions[id]
	if sess == nil {
		delete(m.byUser, userID)
		return nil
	}
	if m.now().UTC().After(sess.ExpiresAt) {
		m.expireLocked(sess)
		return nil
	}
	return sess
}

// activeSessionByIDLocked fetches a session by id and requires it to
// still be active, lazily expiring it if overdue
func (m *TradeManager) activeSessionByIDLocked(sessionID string) (*TradeSession, error) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Status == TradeActive && m.now().UTC().After(sess.ExpiresAt) {
		m.expireLocked(sess)
	}
	switch sess.Status {
	case TradeActive:
		return sess, nil
	case TradeExpired:
		return nil, ErrTradeExpired
	default:
		return nil, ErrTradeNotActive
	}
}

// activeOfferLocked resolves the calling party's offer inside an active
// session
func (m *TradeManager) activeOfferLocked(sessionID, userID string) (*TradeSession, *Offer, error) {
	sess, err := m.activeSessionByIDLocked(sessionID)
	if err != nil {
		return nil, nil, err
	}
	switch userID {
	case sess.UserA:
		return sess, &sess.OfferA, nil
	case sess.UserB:
		return sess, &sess.OfferB, nil
	default:
		return nil, nil, ErrNotParticipant
	}
}

// A confirmation only applies to the exact offer pair it was given for
func resetConfirmations(sess *TradeSession) {
	sess.ConfirmedA = false
	sess.ConfirmedB = false
}

func (m *TradeManager) expireLocked(sess *TradeSession) {
	sess.Status = TradeExpired
	m.evictLocked(sess)
}

func (m *TradeManager) evictLocked(sess *TradeSession) {
	if m.byUser[sess.UserA] == sess.ID {
		delete(m.byUser, sess.UserA)
	}
	if m.byUser[sess.UserB] == sess.ID {
		delete(m.byUser, sess.UserB)
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *TradeManager) SetClock(now func() time.Time) {
	m.now = now
}

// settleTrade applies a confirmed trade to the ledger document in one
// load-mutate-validate-save cycle. All sufficiency checks happen before
// the first mutation, so a failed settlement leaves the document
// untouched.
func (l *Ledger) settleTrade(sess *TradeSession) (bool, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.store.Load()
	if err != nil {
		return false, "", err
	}

	if reason := coverageShortfall(doc, sess.UserA, sess.OfferA); reason != "" {
		return false, reason, nil
	}
	if reason := coverageShortfall(doc, sess.UserB, sess.OfferB); reason != "" {
		return false, reason, nil
	}

	userA := l.ensureUser(doc, sess.UserA)
	userB := l.ensureUser(doc, sess.UserB)
	now := l.now().UTC()

	balABefore := userA.Balance
	balBBefore := userB.Balance

	// Money legs: debit both sides first, then credit across
	if sess.OfferA.Money > 0 {
		debitUser(doc, userA, sess.OfferA.Money)
	}
	if sess.OfferB.Money > 0 {
		debitUser(doc, userB, sess.OfferB.Money)
	}
	if sess.OfferA.Money > 0 {
		creditUser(doc, userB, sess.OfferA.Money)
	}
	if sess.OfferB.Money > 0 {
		creditUser(doc, userA, sess.OfferB.Money)
	}

	// Item legs, symmetric
	for itemID, qty := range sess.OfferA.Items {
		removeInventory(doc, sess.UserA, itemID, qty)
		addInventory(doc, sess.UserB, itemID, qty, now)
	}
	for itemID, qty := range sess.OfferB.Items {
		removeInventory(doc, sess.UserB, itemID, qty)
		addInventory(doc, sess.UserA, itemID, qty, now)
	}

	userA.Stats.TradesCompleted++
	userB.Stats.TradesCompleted++

	if err := l.store.Save(doc, true); err != nil {
		return false, "", err
	}

	// The money movement is logged as one net pair, not a leg per
	// credit and debit
	netA := sess.OfferB.Money - sess.OfferA.Money
	if netA > 0 {
		l.logTx(sess.UserA, storage.TxEarn, netA, balABefore, userA.Balance, "", tradeReason(sess.UserB))
		l.logTx(sess.UserB, storage.TxSpend, -netA, balBBefore, userB.Balance, "", tradeReason(sess.UserA))
	} else if netA < 0 {
		l.logTx(sess.UserA, storage.TxSpend, netA, balABefore, userA.Balance, "", tradeReason(sess.UserB))
		l.logTx(sess.UserB, storage.TxEarn, -netA, balBBefore, userB.Balance, "", tradeReason(sess.UserA))
	}
	return true, "", nil
}

func tradeReason(otherParty string) string {
	return fmt.Sprintf("trade with %s", otherParty)
}

// coverageShortfall reports why a party cannot cover their offer, or ""
// when they can
func coverageShortfall(doc *storage.Document, userID string, offer Offer) string {
	user, ok := doc.Users[userID]
	if offer.Money > 0 {
		if !ok || user.Balance < offer.Money {
			return fmt.Sprintf("%s no longer has %d to trade", userID, offer.Money)
		}
	}
	for itemID, qty := range offer.Items {
		entry := doc.Inventory[userID][itemID]
		if entry == nil || entry.Quantity < qty {
			return fmt.Sprintf("%s no longer has %dx %s to trade", userID, qty, itemID)
		}
	}
	return ""
}
