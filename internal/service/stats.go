package service

import (
	"sort"
	"time"

	"economybot/internal/storage"
)

// Stats exposes the read-only reporting surface over the ledger and
// the trade manager
type Stats struct {
	ledger *Ledger
	trades *TradeManager
}

// NewStats creates the reporting service
func NewStats(ledger *Ledger, trades *TradeManager) *Stats {
	return &Stats{ledger: ledger, trades: trades}
}

// LeaderboardEntry is one row of the balance leaderboard
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"total_earned"`
}

// UserStats summarizes a single user's economy standing
type UserStats struct {
	UserID          string     `json:"user_id"`
	Balance         int64      `json:"balance"`
	TotalEarned     int64      `json:"total_earned"`
	TotalSpent      int64      `json:"total_spent"`
	Purchases       int        `json:"purchases"`
	TradesCompleted int        `json:"trades_completed"`
	DailyStreak     int        `json:"daily_streak"`
	ItemCount       int64      `json:"item_count"`
	LastDaily       *time.Time `json:"last_daily,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// EconomyStats summarizes the whole economy
type EconomyStats struct {
	TotalUsers     int    `json:"total_users"`
	Circulation    int64  `json:"total_currency_in_circulation"`
	TotalEarned    int64  `json:"total_earned"`
	TotalSpent     int64  `json:"total_spent"`
	ShopItems      int    `json:"shop_items"`
	RichestUserID  string `json:"richest_user_id,omitempty"`
	RichestBalance int64  `json:"richest_balance"`
}

// AdminStats extends EconomyStats with operational detail
type AdminStats struct {
	EconomyStats
	ActiveTrades    int       `json:"active_trades"`
	LogEntries      int64     `json:"transaction_log_entries"`
	DocumentVersion int       `json:"document_version"`
	LastBackup      time.Time `json:"last_backup,omitempty"`
}

// Leaderboard returns the top users by balance
func (s *Stats) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(doc.Users))
	for id, user := range doc.Users {
		entries = append(entries, LeaderboardEntry{
			UserID:      id,
			Balance:     user.Balance,
			TotalEarned: user.TotalEarned,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Balance != entries[j].Balance {
			return entries[i].Balance > entries[j].Balance
		}
		return entries[i].UserID < entries[j].UserID
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// UserStats returns the user's summary, or nil for unknown users
func (s *Stats) UserStats(userID string) (*UserStats, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidUserID
	}

	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}
	user, ok := doc.Users[userID]
	if !ok {
		return nil, nil
	}

	var itemCount int64
	for _, entry := range doc.Inventory[userID] {
		itemCount += entry.Quantity
	}

	return &UserStats{
		UserID:          userID,
		Balance:         user.Balance,
		TotalEarned:     user.TotalEarned,
		TotalSpent:      user.TotalSpent,
		Purchases:       user.Stats.Purchases,
		TradesCompleted: user.Stats.TradesCompleted,
		DailyStreak:     user.Stats.DailyStreak,
		ItemCount:       itemCount,
		LastDaily:       user.LastDaily,
		CreatedAt:       user.CreatedAt,
	}, nil
}

// EconomyStats returns aggregates over all users
func (s *Stats) EconomyStats() (*EconomyStats, error) {
	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}

	stats := &EconomyStats{
		TotalUsers:  len(doc.Users),
		Circulation: doc.Metadata.TotalCirculation,
		ShopItems:   len(doc.ShopItems),
	}
	for id, user := range doc.Users {
		stats.TotalEarned += user.TotalEarned
		stats.TotalSpent += user.TotalSpent
		if user.Balance > stats.RichestBalance ||
			(user.Balance == stats.RichestBalance && (stats.RichestUserID == "" || id < stats.RichestUserID)) {
			stats.RichestUserID = id
			stats.RichestBalance = user.Balance
		}
	}
	return stats, nil
}

// TransactionHistory returns recent audit entries, newest first. An
// empty userID covers all users.
func (s *Stats) TransactionHistory(userID string, limit int) ([]*storage.Transaction, error) {
	if userID != "" && !ValidUserID(userID) {
		return nil, ErrInvalidUserID
	}
	return s.ledger.txlog.History(userID, limit)
}

// AdminStats returns the operator view of the economy
func (s *Stats) AdminStats() (*AdminStats, error) {
	economy, err := s.EconomyStats()
	if err != nil {
		return nil, err
	}

	doc, err := s.loadDocument()
	if err != nil {
		return nil, err
	}

	admin := &AdminStats{
		EconomyStats:    *economy,
		DocumentVersion: doc.Metadata.Version,
		LastBackup:      doc.Metadata.LastBackup,
	}

	if s.trades != nil {
		s.trades.mu.Lock()
		for _, sess := range s.trades.sessions {
			if sess.Status == TradeActive {
				admin.ActiveTrades++
			}
		}
		s.trades.mu.Unlock()
	}

	if s.ledger.txlog != nil {
		n, err := s.ledger.txlog.Count()
		if err == nil {
			admin.LogEntries = n
		}
	}
	return admin, nil
}

// loadDocument reads the document under the ledger mutex so reports see
// a committed state
func (s *Stats) loadDocument() (*storage.Document, error) {
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.ledger.store.Load()
}
