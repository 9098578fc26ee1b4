package core

import (
	"fmt"
	"math"
	"time"

	"github.com/mikeggyy/chat-app-all-sub002/internal/db"
)

// DefaultUpgradeLockTTL is how long an upgrade lock is honoured.
const DefaultUpgradeLockTTL = 5 * time.Minute

// Lock fields inside usage_limits/{uid}.
const (
	lockHeldField     = "photos.upgrading"
	lockAtField       = "photos.upgradingAt"
	lockHolderField   = "photos.upgradeHolder"
	lockCleanedField  = "photos.cleanedAt"
	lockReasonField   = "photos.cleanupReason"
	photosCountField  = "photos.count"
	reasonMissingTime = "missing_timestamp"
)

// Lease is the upgrade lock as stored on the usage-limits document.
type Lease struct {
	Held       bool
	Holder     string
	AcquiredAt *time.Time
}

func leaseFrom(doc *db.Document) Lease {
	l := Lease{Held: doc.Bool(lockHeldField), Holder: doc.String(lockHolderField)}
	if at, ok := doc.Time(lockAtField); ok {
		l.AcquiredAt = &at
	}
	return l
}

// Stale reports whether a held lease may be taken over. A lease without an
// acquisition time is stale.
func (l Lease) Stale(now time.Time, ttl time.Duration) bool {
	if !l.Held {
		return false
	}
	if l.AcquiredAt == nil {
		return true
	}
	return now.Sub(*l.AcquiredAt) > ttl
}

// Free reports whether the lease can be acquired now.
func (l Lease) Free(now time.Time, ttl time.Duration) bool {
	return !l.Held || l.Stale(now, ttl)
}

// staleReason explains why a stale lease is being cleared.
func (l Lease) staleReason(now time.Time) string {
	if l.AcquiredAt == nil {
		return reasonMissingTime
	}
	minutes := int(math.Floor(now.Sub(*l.AcquiredAt).Minutes()))
	return fmt.Sprintf("expired_%dmin", minutes)
}

func leaseAcquire(holder string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"photos": map[string]interface{}{
			"upgrading":     true,
			"upgradingAt":   now,
			"upgradeHolder": holder,
		},
	}
}

func leaseRelease() []db.Update {
	return []db.Update{
		{Path: lockHeldField, Value: false},
		{Path: lockAtField, Value: db.DeleteField},
		{Path: lockHolderField, Value: db.DeleteField},
	}
}
