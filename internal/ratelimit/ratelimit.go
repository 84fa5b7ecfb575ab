// Package ratelimit implements a fixed-window abuse throttle with an
// additional minimum spacing between consecutive attempts.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned when either the window cap or the minimum
// interval constraint is violated.
var ErrRateLimited = errors.New("rate limit exceeded")

// Policy describes the constraints applied to one key.
type Policy struct {
	// Window is the duration of the counting window.
	Window time.Duration
	// Max is the number of attempts allowed per window.
	Max int
	// MinInterval is the minimum spacing between two accepted attempts.
	// Zero disables the spacing check.
	MinInterval time.Duration
}

// Limiter gates attempts keyed by client identity. Implementations must
// check and increment atomically per key: two concurrent calls must not
// both pass when only one slot remains.
type Limiter interface {
	Limit(ctx context.Context, key string, policy Policy) error
}

// Key builds the limiter key for an action and a client identity hash.
func Key(action, clientHash string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, clientHash)
}

// IPHash derives a stable, non-reversible key component from a client
// address so raw addresses never reach the limiter store.
func IPHash(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:24]
}
