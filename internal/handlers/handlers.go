package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"economybot/internal/logger"
	"economybot/internal/service"
)

// API bundles the read-only reporting endpoints
type API struct {
	stats *service.Stats
}

// New creates the reporting API
func New(stats *service.Stats) *API {
	return &API{stats: stats}
}

// Register attaches all endpoints to the mux
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/ping", a.HandlePing)
	mux.HandleFunc("/api/leaderboard", a.HandleLeaderboard)
	mux.HandleFunc("/api/economy", a.HandleEconomy)
	mux.HandleFunc("/api/history", a.HandleHistory)
	mux.HandleFunc("/api/users/", a.HandleUserStats)
	mux.HandleFunc("/api/admin/stats", a.HandleAdminStats)
}

// PingResponse is the response for the ping endpoint
type PingResponse struct {
	Status string `json:"status"`
}

// HandlePing handles GET /api/ping
func (a *API) HandlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, PingResponse{Status: "ok"})
}

// HandleLeaderboard handles GET /api/leaderboard?limit=N
func (a *API) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryInt(r, "limit", 20)
	entries, err := a.stats.Leaderboard(limit)
	if err != nil {
		logger.Error("leaderboard query failed", "error", err)
		http.Error(w, "Failed to fetch leaderboard", http.StatusInternalServerError)
		return
	}
	respondJSON(w, entries)
}

// HandleEconomy handles GET /api/economy
func (a *API) HandleEconomy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := a.stats.EconomyStats()
	if err != nil {
		logger.Error("economy stats query failed", "error", err)
		http.Error(w, "Failed to fetch economy stats", http.StatusInternalServerError)
		return
	}
	respondJSON(w, stats)
}

// HandleHistory handles GET /api/history?user_id=...&limit=N
func (a *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user_id")
	limit := queryInt(r, "limit", 50)

	txs, err := a.stats.TransactionHistory(userID, limit)
	if err != nil {
		if err == service.ErrInvalidUserID {
			http.Error(w, "Invalid user id", http.StatusBadRequest)
			return
		}
		logger.Error("history query failed", "user_id", userID, "error", err)
		http.Error(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}
	respondJSON(w, txs)
}

// HandleUserStats handles GET /api/users/{id}/stats
func (a *API) HandleUserStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path shape: /api/users/{id}/stats
	rest := r.URL.Path[len("/api/users/"):]
	idx := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			idx = i
			break
		}
	}
	userID := rest[:idx]

	stats, err := a.stats.UserStats(userID)
	if err != nil {
		if err == service.ErrInvalidUserID {
			http.Error(w, "Invalid user id", http.StatusBadRequest)
			return
		}
		logger.Error("user stats query failed", "user_id", userID, "error", err)
		http.Error(w, "Failed to fetch user stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	respondJSON(w, stats)
}

// HandleAdminStats handles GET /api/admin/stats
func (a *API) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := a.stats.AdminStats()
	if err != nil {
		logger.Error("admin stats query failed", "error", err)
		http.Error(w, "Failed to fetch admin stats", http.StatusInternalServerError)
		return
	}
	respondJSON(w, stats)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
