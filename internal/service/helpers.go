package service

import (
	"time"
)

func GetExpiresAt(expiresIn int) time.Time {
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// expiresAtPtr is GetExpiresAt for optional expiries: zero or negative
// means the token does not expire.
func expiresAtPtr(expiresIn int) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	t := GetExpiresAt(expiresIn)
	return &t
}
