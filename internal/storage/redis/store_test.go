package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

// newTestStore connects to the Redis named by TEST_REDIS_ADDR, skipping the
// test when none is reachable. Each test gets its own key prefix so parallel
// runs against a shared instance stay isolated.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 9})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("skipping Redis integration tests: %v", err)
	}

	prefix := fmt.Sprintf("reserve-test:%s:%d", t.Name(), time.Now().UnixNano())
	store := NewStore(rdb, WithKeyPrefix(prefix), WithRetention(time.Minute))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var cursor uint64
		for {
			keys, next, err := rdb.Scan(ctx, cursor, prefix+":*", 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				_ = rdb.Del(ctx, keys...).Err()
			}
			if next == 0 {
				break
			}
			cursor = next
		}
		_ = rdb.Close()
	})

	return store
}

var testSlot = domain.SlotKey{TenantID: "clinic-1", Date: "2026-09-15", Time: "10:30", ResourceID: "room-a"}

func TestStore_TryReserve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ttl := time.Minute

	res, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, ttl)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", res.Status)
	}

	again, created, err := store.TryReserve(ctx, testSlot, "sess-a", now, ttl)
	if err != nil {
		t.Fatalf("expected idempotent repeat, got %v", err)
	}
	if again.ID != res.ID {
		t.Fatalf("expected the same reservation, got %s", again.ID)
	}
	if created {
		t.Fatalf("idempotent repeat must not report creation")
	}

	_, _, err = store.TryReserve(ctx, testSlot, "sess-b", now, ttl)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.RetryAfter <= 0 || conflict.RetryAfter > ttl {
		t.Fatalf("expected retry-after within the TTL window, got %s", conflict.RetryAfter)
	}
}

func TestStore_TryReserveReclaimsExpiredSlot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Redis vacates the slot key itself once the PX lapses.
	time.Sleep(100 * time.Millisecond)

	second, _, err := store.TryReserve(ctx, testSlot, "sess-b", time.Now().UTC(), time.Minute)
	if err != nil {
		t.Fatalf("expected lapsed slot reclaimable, got %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh reservation")
	}
}

func TestStore_TryReserveReclaimsStaleByCallerClock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The slot key outlives the record's expires_at: PX of one hour, hold of
	// one minute. That is the shape clock skew against Redis produces.
	first, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.rdb.Expire(ctx, store.slotKey(testSlot), time.Hour).Err(); err != nil {
		t.Fatalf("stretch slot key: %v", err)
	}

	second, created, err := store.TryReserve(ctx, testSlot, "sess-b", now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("expected stale holder reclaimed despite live slot key, got %v", err)
	}
	if !created {
		t.Fatalf("expected reclaim to report creation")
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh reservation")
	}

	old, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if old.Status != domain.StatusExpired {
		t.Fatalf("expected stale holder demoted to expired, got %s", old.Status)
	}
}

func TestStore_TransitionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	res, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := store.Transition(ctx, res.ID, "sess-b", domain.StatusActive, domain.StatusConfirmed, now); err != domain.ErrNotSessionOwner {
		t.Fatalf("expected ErrNotSessionOwner, got %v", err)
	}

	confirmed, err := store.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	// Slot key is gone; another session can hold the slot at this layer.
	if _, _, err := store.TryReserve(ctx, testSlot, "sess-b", now, time.Minute); err != nil {
		t.Fatalf("expected slot key released after confirm, got %v", err)
	}

	cur, err := store.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now)
	if err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if cur.Status != domain.StatusConfirmed {
		t.Fatalf("expected current status reported, got %s", cur.Status)
	}

	released, err := store.Transition(ctx, res.ID, "sess-a", domain.StatusConfirmed, domain.StatusReleased, now)
	if err != nil {
		t.Fatalf("compensating release: %v", err)
	}
	if released.Status != domain.StatusReleased {
		t.Fatalf("expected released, got %s", released.Status)
	}
}

func TestStore_TransitionExpiresStaleRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	res, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Pass a future "now" so the record is stale by the store's own clock
	// even though the Redis slot key has not lapsed yet.
	cur, err := store.Transition(ctx, res.ID, "sess-a", domain.StatusActive, domain.StatusConfirmed, now.Add(2*time.Minute))
	if err != domain.ErrReservationExpired {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	if cur.Status != domain.StatusExpired {
		t.Fatalf("expected record demoted to expired, got %s", cur.Status)
	}
}

func TestStore_Renew(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ttl := time.Minute

	res, _, err := store.TryReserve(ctx, testSlot, "sess-a", now, ttl)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	later := now.Add(30 * time.Second)
	renewed, err := store.Renew(ctx, res.ID, "sess-a", later, ttl)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.ExpiresAt.After(res.ExpiresAt) {
		t.Fatalf("expected expiry extended, got %v (was %v)", renewed.ExpiresAt, res.ExpiresAt)
	}

	if _, err := store.Renew(ctx, res.ID, "sess-b", later, ttl); err != domain.ErrNotSessionOwner {
		t.Fatalf("expected ErrNotSessionOwner, got %v", err)
	}
	if _, err := store.Renew(ctx, res.ID, "sess-a", later.Add(time.Hour), ttl); err != domain.ErrReservationExpired {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
}

func TestStore_SweepAndPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale, _, err := store.TryReserve(ctx, testSlot, "sess-a", now.Add(-2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	other := testSlot
	other.Time = "11:00"
	live, _, err := store.TryReserve(ctx, other, "sess-b", now, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	evicted, err := store.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}

	got, err := store.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected swept record expired, got %s", got.Status)
	}

	purged, err := store.PurgeTerminal(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	if _, err := store.Get(ctx, stale.ID); err != domain.ErrReservationNotFound {
		t.Fatalf("expected purged record gone, got %v", err)
	}
	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Fatalf("expected live record kept, got %v", err)
	}
}
