package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"economybot/internal/storage"
)

const (
	alice = "100000000000000001"
	bob   = "100000000000000002"
)

func setupLedger(t *testing.T) *Ledger {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "ledger.json"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	txlog, err := storage.OpenTxLog(":memory:")
	if err != nil {
		t.Fatalf("Failed to open transaction log: %v", err)
	}
	t.Cleanup(func() { txlog.Close() })
	return NewLedger(store, txlog)
}

// checkConservation verifies that circulation matches the sum of all
// balances in the persisted document
func checkConservation(t *testing.T, l *Ledger) {
	t.Helper()
	doc, err := l.store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("Persisted document failed validation: %v", err)
	}
}

func TestCreditThenInsufficientDebit(t *testing.T) {
	l := setupLedger(t)

	if err := l.Credit(alice, 500, "daily"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	balance, err := l.GetBalance(alice)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 500 {
		t.Errorf("Expected balance 500, got %d", balance)
	}

	doc, _ := l.store.Load()
	if doc.Users[alice].TotalEarned != 500 {
		t.Errorf("Expected total_earned 500, got %d", doc.Users[alice].TotalEarned)
	}

	history, err := l.txlog.History(alice, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(history))
	}
	if history[0].Type != storage.TxEarn || history[0].Amount != 500 {
		t.Errorf("Expected earn entry of 500, got %s %d", history[0].Type, history[0].Amount)
	}

	// A debit beyond the balance must fail cleanly with no mutation
	// and no log entry
	ok, err := l.Debit(alice, 600, "shop")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if ok {
		t.Fatal("Expected debit of 600 against balance 500 to be refused")
	}

	balance, _ = l.GetBalance(alice)
	if balance != 500 {
		t.Errorf("Expected balance unchanged at 500, got %d", balance)
	}
	history, _ = l.txlog.History(alice, 10)
	if len(history) != 1 {
		t.Errorf("Expected still 1 log entry, got %d", len(history))
	}
	checkConservation(t, l)
}

func TestCreditValidation(t *testing.T) {
	l := setupLedger(t)

	if err := l.Credit(alice, 0, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for 0, got %v", err)
	}
	if err := l.Credit(alice, -5, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for -5, got %v", err)
	}
	if err := l.Credit(alice, MaxAmount+1, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount above cap, got %v", err)
	}
	if err := l.Credit("12345", 10, "x"); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID for short id, got %v", err)
	}
	if err := l.Credit("1234567890123456789012", 10, "x"); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID for long id, got %v", err)
	}
	if err := l.Credit("10000000000000000x", 10, "x"); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID for non-numeric id, got %v", err)
	}
}

func TestDebitUnknownUser(t *testing.T) {
	l := setupLedger(t)

	ok, err := l.Debit(alice, 10, "x")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if ok {
		t.Error("Expected debit of unknown user to be refused")
	}
}

func TestGetBalanceUnknownUserDoesNotCreate(t *testing.T) {
	l := setupLedger(t)

	balance, err := l.GetBalance(alice)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("Expected 0, got %d", balance)
	}

	doc, _ := l.store.Load()
	if _, ok := doc.Users[alice]; ok {
		t.Error("GetBalance must not create the user")
	}
}

func TestInitializeUserIdempotent(t *testing.T) {
	l := setupLedger(t)

	if err := l.InitializeUser(alice); err != nil {
		t.Fatalf("InitializeUser failed: %v", err)
	}
	if err := l.Credit(alice, 100, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := l.InitializeUser(alice); err != nil {
		t.Fatalf("Second InitializeUser failed: %v", err)
	}

	doc, _ := l.store.Load()
	if len(doc.Users) != 1 {
		t.Errorf("Expected 1 user, got %d", len(doc.Users))
	}
	if doc.Users[alice].Balance != 100 {
		t.Errorf("Expected balance unaffected at 100, got %d", doc.Users[alice].Balance)
	}
}

func TestTransfer(t *testing.T) {
	l := setupLedger(t)

	if err := l.Credit(alice, 300, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	ok, err := l.Transfer(alice, bob, 120, "payment")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected transfer to succeed")
	}

	aliceBal, _ := l.GetBalance(alice)
	bobBal, _ := l.GetBalance(bob)
	if aliceBal != 180 || bobBal != 120 {
		t.Errorf("Expected balances 180/120, got %d/%d", aliceBal, bobBal)
	}

	// The two legs are logged as one pair
	history, _ := l.txlog.History("", 10)
	var pair int
	for _, tx := range history {
		if tx.Description == "payment" {
			pair++
		}
	}
	if pair != 2 {
		t.Errorf("Expected a spend/earn pair for the transfer, got %d entries", pair)
	}
	checkConservation(t, l)
}

func TestTransferInsufficient(t *testing.T) {
	l := setupLedger(t)

	if err := l.Credit(alice, 50, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	ok, err := l.Transfer(alice, bob, 100, "payment")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if ok {
		t.Fatal("Expected transfer to be refused")
	}

	aliceBal, _ := l.GetBalance(alice)
	bobBal, _ := l.GetBalance(bob)
	if aliceBal != 50 || bobBal != 0 {
		t.Errorf("Expected balances 50/0, got %d/%d", aliceBal, bobBal)
	}
}

func TestInventoryAddRemove(t *testing.T) {
	l := setupLedger(t)

	if err := l.AddItem(alice, "cookie", 3); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	inv, err := l.GetInventory(alice)
	if err != nil {
		t.Fatalf("GetInventory failed: %v", err)
	}
	if inv["cookie"].Quantity != 3 {
		t.Errorf("Expected 3 cookies, got %d", inv["cookie"].Quantity)
	}

	ok, err := l.RemoveItem(alice, "cookie", 2)
	if err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected removal to succeed")
	}

	// Removing more than held is refused without mutation
	ok, err = l.RemoveItem(alice, "cookie", 5)
	if err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if ok {
		t.Error("Expected removal of 5 against 1 to be refused")
	}

	// Taking the stack to zero deletes the row
	ok, _ = l.RemoveItem(alice, "cookie", 1)
	if !ok {
		t.Fatal("Expected final removal to succeed")
	}
	inv, _ = l.GetInventory(alice)
	if _, exists := inv["cookie"]; exists {
		t.Error("Expected zero-quantity row to be deleted")
	}
	checkConservation(t, l)
}

func TestClearInventory(t *testing.T) {
	l := setupLedger(t)

	if err := l.AddItem(alice, "cookie", 2); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := l.AddItem(alice, "badge", 1); err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := l.ClearInventory(alice); err != nil {
		t.Fatalf("ClearInventory failed: %v", err)
	}

	inv, _ := l.GetInventory(alice)
	if len(inv) != 0 {
		t.Errorf("Expected empty inventory, got %d entries", len(inv))
	}
}

func TestInventoryValidation(t *testing.T) {
	l := setupLedger(t)

	if err := l.AddItem(alice, "", 1); !errors.Is(err, ErrInvalidItemID) {
		t.Errorf("Expected ErrInvalidItemID for empty id, got %v", err)
	}
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	if err := l.AddItem(alice, string(long), 1); !errors.Is(err, ErrInvalidItemID) {
		t.Errorf("Expected ErrInvalidItemID for 51-char id, got %v", err)
	}
	if err := l.AddItem(alice, "cookie", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount for qty 0, got %v", err)
	}
}

func TestClaimDailyStreaks(t *testing.T) {
	l := setupLedger(t)

	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return current })

	// First claim: base amount, streak 1
	result, err := l.ClaimDaily(alice)
	if err != nil {
		t.Fatalf("ClaimDaily failed: %v", err)
	}
	if !result.Claimed || result.Amount != 100 || result.Streak != 1 {
		t.Fatalf("Expected first claim of 100 at streak 1, got claimed=%v amount=%d streak=%d",
			result.Claimed, result.Amount, result.Streak)
	}

	// Claiming again inside the cooldown is refused
	current = current.Add(2 * time.Hour)
	result, err = l.ClaimDaily(alice)
	if err != nil {
		t.Fatalf("ClaimDaily failed: %v", err)
	}
	if result.Claimed {
		t.Fatal("Expected claim inside cooldown to be refused")
	}
	if result.NextIn <= 0 {
		t.Error("Expected a positive wait time")
	}

	// A claim the next day continues the streak with a bonus
	current = current.Add(21 * time.Hour)
	result, err = l.ClaimDaily(alice)
	if err != nil {
		t.Fatalf("ClaimDaily failed: %v", err)
	}
	if !result.Claimed || result.Streak != 2 || result.Amount != 110 {
		t.Errorf("Expected streak 2 for 110, got claimed=%v streak=%d amount=%d",
			result.Claimed, result.Streak, result.Amount)
	}

	// Letting the streak window lapse resets to 1
	current = current.Add(72 * time.Hour)
	result, err = l.ClaimDaily(alice)
	if err != nil {
		t.Fatalf("ClaimDaily failed: %v", err)
	}
	if result.Streak != 1 || result.Amount != 100 {
		t.Errorf("Expected streak reset to 1 for 100, got streak=%d amount=%d", result.Streak, result.Amount)
	}
	checkConservation(t, l)
}

func TestConservationAcrossOperations(t *testing.T) {
	l := setupLedger(t)

	if err := l.Credit(alice, 1000, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := l.Credit(bob, 250, "seed"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if _, err := l.Debit(alice, 300, "spend"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if _, err := l.Transfer(alice, bob, 100, "payment"); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	doc, err := l.store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var sum int64
	for _, user := range doc.Users {
		sum += user.Balance
	}
	if doc.Metadata.TotalCirculation != sum {
		t.Errorf("Circulation %d does not match balance sum %d", doc.Metadata.TotalCirculation, sum)
	}
	if sum != 950 {
		t.Errorf("Expected 950 in circulation, got %d", sum)
	}
}
