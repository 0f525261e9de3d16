// Package avail decides whether a paste may still be served. Nothing here
// touches storage or the clock; callers pass the reference time in.
package avail

import (
	"math"

	"shortpaste/pkg/domain"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonExpired           Reason = "expired"
	ReasonViewLimitExceeded Reason = "view_limit_exceeded"
)

type Result struct {
	Available bool
	Reason    Reason
}

// ComputeExpiry returns createdAt + ttl, or nil when no ttl was requested.
// ok is false when ttl is not positive or the expiry does not fit in int64
// milliseconds.
func ComputeExpiry(ttlSeconds *int64, createdAt int64) (exp *int64, ok bool) {
	if ttlSeconds == nil {
		return nil, true
	}
	ttl := *ttlSeconds
	if ttl < 1 || ttl > math.MaxInt64/1000 {
		return nil, false
	}
	ms := ttl * 1000
	if createdAt > 0 && ms > math.MaxInt64-createdAt {
		return nil, false
	}
	at := createdAt + ms
	return &at, true
}

// IsAvailable checks the time limit before the view limit, so a paste that
// is both expired and exhausted reports ReasonExpired.
func IsAvailable(p *domain.Paste, now int64) Result {
	if p.ExpiresAt != nil && now >= *p.ExpiresAt {
		return Result{Available: false, Reason: ReasonExpired}
	}
	if p.MaxViews != nil && p.ViewsUsed >= *p.MaxViews {
		return Result{Available: false, Reason: ReasonViewLimitExceeded}
	}
	return Result{Available: true}
}

// RemainingViews is nil for unlimited pastes and never negative.
func RemainingViews(p *domain.Paste) *int64 {
	if p.MaxViews == nil {
		return nil
	}
	left := *p.MaxViews - p.ViewsUsed
	if left < 0 {
		left = 0
	}
	return &left
}
