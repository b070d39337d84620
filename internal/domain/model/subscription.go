package model

import (
	"time"

	"dereva-billing/internal/domain"
)

// DaysPerMonth is the fixed day count a subscription month spans.
// Expiry is day-count arithmetic, not calendar months.
const DaysPerMonth = 30

// Subscription is one grant of paid access, created only by a successful payment.
type Subscription struct {
	ID               string
	UserID           string
	PaymentID        string // one subscription per completed payment
	SubscriptionType string
	StartDate        time.Time
	EndDate          time.Time
	IsActive         bool
	CreatedAt        time.Time
}

// SubscriptionEnd returns start + months*30 days. Non-positive months count as one.
func SubscriptionEnd(start time.Time, months int) time.Time {
	if months <= 0 {
		months = 1
	}
	return start.Add(time.Duration(months*DaysPerMonth) * 24 * time.Hour)
}

// NewSubscription builds the subscription granted by a completed payment.
func NewSubscription(id string, p *Payment, now time.Time) (*Subscription, error) {
	if id == "" || p == nil || p.UserID == "" || p.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if p.Status != PaymentStatusCompleted {
		return nil, domain.ErrConflict
	}
	subType := p.SubscriptionType
	if subType == "" {
		subType = SubscriptionTypeMonthly
	}
	return &Subscription{
		ID:               id,
		UserID:           p.UserID,
		PaymentID:        p.ID,
		SubscriptionType: subType,
		StartDate:        now,
		EndDate:          SubscriptionEnd(now, p.SubscriptionMonths),
		IsActive:         true,
		CreatedAt:        now,
	}, nil
}

const (
	SubscriptionTypeMonthly   = "monthly"
	SubscriptionTypeQuarterly = "quarterly"
	SubscriptionTypeBiannual  = "biannual"
	SubscriptionTypeAnnual    = "annual"
)

// MonthsForType maps a requested subscription type to its duration in months.
func MonthsForType(subType string) int {
	switch subType {
	case SubscriptionTypeQuarterly:
		return 3
	case SubscriptionTypeBiannual:
		return 6
	case SubscriptionTypeAnnual, "yearly":
		return 12
	default:
		return 1
	}
}
