package service

import (
	"errors"
	"testing"
	"time"
)

func setupTrade(t *testing.T) (*Ledger, *TradeManager, *time.Time) {
	l := setupLedger(t)
	m := NewTradeManager(l, DefaultTradeTTL)

	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	l.SetClock(clock)
	m.SetClock(clock)
	return l, m, &current
}

func TestTradeMoneyForItem(t *testing.T) {
	l, m, _ := setupTrade(t)

	if err := l.Credit(alice, 200, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := l.AddItem(bob, "cookie", 1); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}

	if err := m.OfferMoney(sessionID, alice, 100); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}
	ok, err := m.OfferItem(sessionID, bob, "cookie", 1)
	if err != nil {
		t.Fatalf("OfferItem failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected item offer to be accepted")
	}

	if err := m.Confirm(sessionID, alice); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := m.Confirm(sessionID, bob); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	ok, reason, err := m.Execute(sessionID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !ok {
		t.Fatalf("Expected trade to complete, got reason: %s", reason)
	}

	aliceBal, _ := l.GetBalance(alice)
	bobBal, _ := l.GetBalance(bob)
	if aliceBal != 100 {
		t.Errorf("Expected alice balance 100, got %d", aliceBal)
	}
	if bobBal != 100 {
		t.Errorf("Expected bob balance 100, got %d", bobBal)
	}

	aliceInv, _ := l.GetInventory(alice)
	bobInv, _ := l.GetInventory(bob)
	if aliceInv["cookie"].Quantity != 1 {
		t.Errorf("Expected alice to hold the cookie, got %d", aliceInv["cookie"].Quantity)
	}
	if _, held := bobInv["cookie"]; held {
		t.Error("Expected bob to no longer hold the cookie")
	}

	doc, _ := l.store.Load()
	if doc.Users[alice].Stats.TradesCompleted != 1 || doc.Users[bob].Stats.TradesCompleted != 1 {
		t.Errorf("Expected trades_completed 1 for both, got %d/%d",
			doc.Users[alice].Stats.TradesCompleted, doc.Users[bob].Stats.TradesCompleted)
	}
	if m.GetActiveTradeFor(alice) != nil {
		t.Error("Expected no active trade after completion")
	}
	checkConservation(t, l)
}

func TestTradeExpiryRefusesExecution(t *testing.T) {
	l, m, current := setupTrade(t)

	if err := l.Credit(alice, 200, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if err := m.OfferMoney(sessionID, alice, 100); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}
	if err := m.Confirm(sessionID, alice); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := m.Confirm(sessionID, bob); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// 6 minutes pass, past the 5-minute expiry
	*current = current.Add(6 * time.Minute)

	ok, reason, err := m.Execute(sessionID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if ok {
		t.Fatal("Expected execution of an expired trade to be refused")
	}
	if reason == "" {
		t.Error("Expected an expiry reason")
	}

	aliceBal, _ := l.GetBalance(alice)
	if aliceBal != 200 {
		t.Errorf("Expected balance unchanged at 200, got %d", aliceBal)
	}
	if m.GetActiveTradeFor(alice) != nil {
		t.Error("Expected expired session out of the active index")
	}
}

func TestOfferChangeResetsConfirmations(t *testing.T) {
	l, m, _ := setupTrade(t)

	if err := l.Credit(alice, 200, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if err := m.OfferMoney(sessionID, alice, 50); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}
	if err := m.Confirm(sessionID, alice); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := m.Confirm(sessionID, bob); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// A later offer change invalidates both confirmations
	if err := m.OfferMoney(sessionID, alice, 50); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}

	sess := m.GetActiveTradeFor(alice)
	if sess == nil {
		t.Fatal("Expected active session")
	}
	if sess.ConfirmedA || sess.ConfirmedB {
		t.Error("Expected both confirmations cleared after offer change")
	}

	if _, _, err := m.Execute(sessionID); !errors.Is(err, ErrTradeNotConfirmed) {
		t.Errorf("Expected ErrTradeNotConfirmed, got %v", err)
	}
}

func TestExecuteRevalidatesAgainstLiveLedger(t *testing.T) {
	l, m, _ := setupTrade(t)

	if err := l.Credit(alice, 200, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := l.AddItem(bob, "cookie", 1); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if err := m.OfferMoney(sessionID, alice, 100); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}
	if ok, _ := m.OfferItem(sessionID, bob, "cookie", 1); !ok {
		t.Fatal("Expected item offer to be accepted")
	}
	if err := m.Confirm(sessionID, alice); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := m.Confirm(sessionID, bob); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// The cookie disappears between confirmation and execution
	if ok, _ := l.RemoveItem(bob, "cookie", 1); !ok {
		t.Fatal("Expected removal to succeed")
	}

	ok, reason, err := m.Execute(sessionID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if ok {
		t.Fatal("Expected execution to abort on missing item")
	}
	if reason == "" {
		t.Error("Expected a descriptive reason")
	}

	// No partial mutation: alice keeps her money, nobody got anything
	aliceBal, _ := l.GetBalance(alice)
	bobBal, _ := l.GetBalance(bob)
	if aliceBal != 200 || bobBal != 0 {
		t.Errorf("Expected balances 200/0, got %d/%d", aliceBal, bobBal)
	}
	aliceInv, _ := l.GetInventory(alice)
	if len(aliceInv) != 0 {
		t.Error("Expected alice's inventory untouched")
	}
	checkConservation(t, l)
}

func TestCreateTradeRejections(t *testing.T) {
	_, m, _ := setupTrade(t)

	if _, err := m.CreateTrade(alice, alice); !errors.Is(err, ErrSelfTrade) {
		t.Errorf("Expected ErrSelfTrade, got %v", err)
	}
	if _, err := m.CreateTrade("12345", bob); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}

	if _, err := m.CreateTrade(alice, bob); err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	charlie := "100000000000000003"
	if _, err := m.CreateTrade(alice, charlie); !errors.Is(err, ErrAlreadyTrading) {
		t.Errorf("Expected ErrAlreadyTrading for alice, got %v", err)
	}
	if _, err := m.CreateTrade(charlie, bob); !errors.Is(err, ErrAlreadyTrading) {
		t.Errorf("Expected ErrAlreadyTrading for bob, got %v", err)
	}
}

func TestCancelTrade(t *testing.T) {
	_, m, _ := setupTrade(t)

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if err := m.Cancel(sessionID, "changed my mind"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if m.GetActiveTradeFor(alice) != nil || m.GetActiveTradeFor(bob) != nil {
		t.Error("Expected both parties freed after cancel")
	}

	// Terminal states admit no further transitions
	if err := m.Confirm(sessionID, alice); !errors.Is(err, ErrTradeNotActive) {
		t.Errorf("Expected ErrTradeNotActive, got %v", err)
	}
	if _, _, err := m.Execute(sessionID); !errors.Is(err, ErrTradeNotActive) {
		t.Errorf("Expected ErrTradeNotActive, got %v", err)
	}

	// Both parties can trade again
	if _, err := m.CreateTrade(alice, bob); err != nil {
		t.Fatalf("CreateTrade after cancel failed: %v", err)
	}
}

func TestOfferItemSoftChecksInventory(t *testing.T) {
	_, m, _ := setupTrade(t)

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}

	// Bob holds nothing, so staging is refused
	ok, err := m.OfferItem(sessionID, bob, "cookie", 1)
	if err != nil {
		t.Fatalf("OfferItem failed: %v", err)
	}
	if ok {
		t.Error("Expected item offer to be refused for an empty inventory")
	}
}

func TestWithdrawOffer(t *testing.T) {
	l, m, _ := setupTrade(t)

	if err := l.Credit(alice, 200, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	if err := m.OfferMoney(sessionID, alice, 150); err != nil {
		t.Fatalf("OfferMoney failed: %v", err)
	}
	if err := m.WithdrawMoney(sessionID, alice, 50); err != nil {
		t.Fatalf("WithdrawMoney failed: %v", err)
	}
	if err := m.WithdrawMoney(sessionID, alice, 500); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount withdrawing more than staged, got %v", err)
	}

	sess := m.GetActiveTradeFor(alice)
	if sess.OfferA.Money != 100 {
		t.Errorf("Expected staged money 100, got %d", sess.OfferA.Money)
	}
}

func TestSweepExpiresOverdueSessions(t *testing.T) {
	_, m, current := setupTrade(t)

	if _, err := m.CreateTrade(alice, bob); err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}

	if n := m.Sweep(); n != 0 {
		t.Errorf("Expected nothing to sweep yet, got %d", n)
	}

	*current = current.Add(10 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Expected 1 session swept, got %d", n)
	}
	if m.GetActiveTradeFor(alice) != nil {
		t.Error("Expected no active trade after sweep")
	}

	// Swept sessions are eventually dropped from the table entirely
	*current = current.Add(10 * time.Minute)
	m.Sweep()
	m.mu.Lock()
	remaining := len(m.sessions)
	m.mu.Unlock()
	if remaining != 0 {
		t.Errorf("Expected session table emptied, got %d", remaining)
	}
}

func TestNotParticipant(t *testing.T) {
	_, m, _ := setupTrade(t)

	sessionID, err := m.CreateTrade(alice, bob)
	if err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}
	charlie := "100000000000000003"
	if err := m.OfferMoney(sessionID, charlie, 10); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant, got %v", err)
	}
	if err := m.Confirm(sessionID, charlie); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Expected ErrNotParticipant, got %v", err)
	}
}
