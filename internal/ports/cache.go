package ports

import (
	"context"
	"time"
)

// SettingsCache is a read-through cache for platform settings; the store stays authoritative.
type SettingsCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Locker hands out short-lived exclusive leases, used to keep one charge attempt per milestone.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}
