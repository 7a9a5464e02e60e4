package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLockNotAcquired is returned when the per-device lock could not
	// be acquired. The message is dropped, not queued: the stream is
	// lossy-tolerant telemetry, not a transactional log.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrOutOfOrder is returned when a message's timestamp is older than
	// the last accepted one for the same device and handler.
	ErrOutOfOrder = errors.New("message out of order")
)

// Handler is the unit of work run while the per-device lock is held.
type Handler func(ctx context.Context) error

// Options tunes the gate. Zero values fall back to the defaults below.
type Options struct {
	LockTTL       time.Duration // server-enforced lock expiry
	OrderingTTL   time.Duration // how long ordering memory persists for an idle device
	MaxRetries    int           // lock acquisition attempts in ProcessWithLock
	RetryDelay    time.Duration // backoff base, doubled per attempt
	SlowThreshold time.Duration // handler durations above this are flagged
}

func (o Options) normalized() Options {
	n := o
	if n.LockTTL <= 0 {
		n.LockTTL = 10 * time.Second
	}
	if n.OrderingTTL <= 0 {
		n.OrderingTTL = time.Hour
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = 3
	}
	if n.RetryDelay <= 0 {
		n.RetryDelay = 10 * time.Millisecond
	}
	if n.SlowThreshold <= 0 {
		n.SlowThreshold = time.Second
	}
	return n
}

// Gate coordinates message handling across process instances. At most
// one handler runs for a given (device, handler name) pair fleet-wide;
// the ordered mode additionally rejects messages older than the last
// accepted one.
type Gate struct {
	store      AtomicStore
	instanceID string
	opts       Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Gate over the given store. The instance ID is the lock
// sentinel value, so a process only ever releases locks it holds.
func New(store AtomicStore, opts Options) *Gate {
	return &Gate{
		store:      store,
		instanceID: uuid.NewString(),
		opts:       opts.normalized(),
		sleep:      sleepCtx,
	}
}

func lockKey(deviceID, handlerName string) string {
	return "lock:" + deviceID + ":" + handlerName
}

func tsKey(deviceID, handlerName string) string {
	return "ts:" + deviceID + ":" + handlerName
}

// ProcessWithLock runs fn under the per-device lock, retrying
// acquisition with exponential backoff up to the retry bound. The lock
// is released whether or not fn succeeds. Store errors fail the whole
// operation immediately.
func (g *Gate) ProcessWithLock(ctx context.Context, deviceID, handlerName string, fn Handler) error {
	key := lockKey(deviceID, handlerName)

	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		acquired, err := g.store.SetIfAbsent(ctx, key, g.instanceID, g.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire lock for %s: %w", deviceID, err)
		}

		if acquired {
			return g.runLocked(ctx, key, deviceID, handlerName, fn)
		}

		// Held elsewhere: back off and retry.
		if attempt+1 < g.opts.MaxRetries {
			wait := g.opts.RetryDelay << (attempt + 1)
			if err := g.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	slog.Warn("[Gate] Lock not acquired after retries",
		"device_id", deviceID,
		"handler", handlerName,
		"retries", g.opts.MaxRetries)
	return ErrLockNotAcquired
}

// ProcessOrdered runs fn under the per-device lock with a single
// acquisition attempt, discarding messages whose timestamp is strictly
// older than the last accepted one. On success the stored timestamp is
// advanced to ts.
func (g *Gate) ProcessOrdered(ctx context.Context, deviceID, handlerName string, ts time.Time, fn Handler) error {
	key := lockKey(deviceID, handlerName)

	acquired, err := g.store.SetIfAbsent(ctx, key, g.instanceID, g.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", deviceID, err)
	}
	if !acquired {
		slog.Warn("[Gate] Lock held elsewhere, dropping message",
			"device_id", deviceID,
			"handler", handlerName)
		return ErrLockNotAcquired
	}
	defer g.release(key, deviceID)

	lastSeen, err := g.lastSeen(ctx, deviceID, handlerName)
	if err != nil {
		return fmt.Errorf("read last-seen timestamp for %s: %w", deviceID, err)
	}

	if ts.UnixMilli() < lastSeen {
		slog.Warn("[Gate] Out-of-order message discarded",
			"device_id", deviceID,
			"handler", handlerName,
			"message_ts", ts.UnixMilli(),
			"last_ts", lastSeen)
		return ErrOutOfOrder
	}

	if err := g.invoke(ctx, deviceID, handlerName, fn); err != nil {
		return err
	}

	millis := strconv.FormatInt(ts.UnixMilli(), 10)
	if err := g.store.Set(ctx, tsKey(deviceID, handlerName), millis, g.opts.OrderingTTL); err != nil {
		return fmt.Errorf("advance last-seen timestamp for %s: %w", deviceID, err)
	}
	return nil
}

func (g *Gate) runLocked(ctx context.Context, key, deviceID, handlerName string, fn Handler) error {
	defer g.release(key, deviceID)
	return g.invoke(ctx, deviceID, handlerName, fn)
}

func (g *Gate) invoke(ctx context.Context, deviceID, handlerName string, fn Handler) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if elapsed > g.opts.SlowThreshold {
		slog.Warn("[Gate] Slow handler",
			"device_id", deviceID,
			"handler", handlerName,
			"elapsed", elapsed)
	}
	if err != nil {
		return fmt.Errorf("handler %s for %s: %w", handlerName, deviceID, err)
	}
	return nil
}

// release uses a background context so a cancelled request still frees
// the lock; expiry covers the case where even this fails.
func (g *Gate) release(key, deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := g.store.ReleaseIfHeld(ctx, key, g.instanceID); err != nil {
		slog.Error("[Gate] Lock release failed, waiting for expiry",
			"device_id", deviceID,
			"error", err)
	}
}

func (g *Gate) lastSeen(ctx context.Context, deviceID, handlerName string) (int64, error) {
	val, err := g.store.Get(ctx, tsKey(deviceID, handlerName))
	if errors.Is(err, ErrKeyAbsent) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// Unparseable state: treat as no memory rather than wedging the device.
		slog.Error("[Gate] Corrupt last-seen timestamp, resetting",
			"device_id", deviceID,
			"value", val)
		return 0, nil
	}
	return millis, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
