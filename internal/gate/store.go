// Package gate serializes message handling per device across the whole
// process fleet. It turns at-least-once, any-order delivery into
// at-most-one-concurrent, monotonic-per-device processing using the
// atomic primitives of an external key/value store.
package gate

import (
	"context"
	"errors"
	"time"
)

// ErrKeyAbsent is returned by AtomicStore.Get when the key does not exist.
var ErrKeyAbsent = errors.New("key absent")

// AtomicStore is the minimal contract the gate needs from the external
// store: set-if-absent with expiry for mutual exclusion, plus plain
// get/set/delete for ordering timestamps. All cross-instance
// coordination flows through these primitives.
type AtomicStore interface {
	// SetIfAbsent atomically creates key with the given TTL.
	// Returns true when the key was created (lock acquired).
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value at key, or ErrKeyAbsent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key unconditionally with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// ReleaseIfHeld deletes key only if it still holds value. Used for
	// lock release so a process never deletes a lock it lost to expiry.
	ReleaseIfHeld(ctx context.Context, key, value string) error
}
