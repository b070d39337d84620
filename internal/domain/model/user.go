package model

import "time"

type EntitlementStatus string

const (
	EntitlementFree    EntitlementStatus = "FREE"
	EntitlementPremium EntitlementStatus = "PREMIUM_MONTHLY"
)

// Entitlement is the denormalized subscription snapshot kept on the user row.
// It is a projection for fast authorization checks, not the source of truth.
type Entitlement struct {
	UserID     string
	Status     EntitlementStatus
	ExpiryDate *time.Time
}

// Expired reports whether a premium snapshot has lapsed at now.
func (e *Entitlement) Expired(now time.Time) bool {
	return e.Status == EntitlementPremium && e.ExpiryDate != nil && e.ExpiryDate.Before(now)
}

func (e *Entitlement) IsPremium(now time.Time) bool {
	return e.Status == EntitlementPremium && !e.Expired(now)
}
