package service

// MaxAmount bounds any single currency amount the engine accepts
const MaxAmount int64 = 1_000_000_000

// ValidAmount reports whether n is within [0, MaxAmount]
func ValidAmount(n int64) bool {
	return n >= 0 && n <= MaxAmount
}

// ValidUserID reports whether id looks like a platform user id: a
// numeric string of 17-19 digits
func ValidUserID(id string) bool {
	if len(id) < 17 || len(id) > 19 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// ValidItemID reports whether id is a usable item identifier
func ValidItemID(id string) bool {
	return len(id) > 0 && len(id) <= 50
}
