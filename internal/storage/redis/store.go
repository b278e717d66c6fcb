// Package redis implements the reservation store on a Redis instance so
// several API replicas can share one reservation table. The slot key is a
// plain string set with NX and a PX of the reservation TTL: the SET NX is
// the atomic check-and-set, and Redis itself vacates the slot when the TTL
// lapses. The full record lives in a hash keyed by reservation id, kept for
// a retention window so late callers still get precise errors.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRetention = 24 * time.Hour

type Store struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

type StoreOption func(*Store)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewStore(rdb *redis.Client, opts ...StoreOption) *Store {
	s := &Store{
		rdb:       rdb,
		prefix:    "reserve",
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) slotKey(slot domain.SlotKey) string {
	return s.prefix + ":slot:" + slot.String()
}

func (s *Store) resKey(id string) string {
	return s.prefix + ":res:" + id
}

// reclaimScript frees a slot key only if it still points at the stale
// holder, so a fresh reservation installed in between is never evicted.
var reclaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

func (s *Store) TryReserve(ctx context.Context, slot domain.SlotKey, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, bool, error) {
	slotKey := s.slotKey(slot)

	// Three attempts: the holder can vanish between a failed SET NX and the
	// follow-up reads when its TTL lapses right then, and one more round is
	// spent reclaiming a holder that is stale by the caller's clock while
	// its slot key still lives (clock skew against Redis).
	for attempt := 0; attempt < 3; attempt++ {
		res := domain.Reservation{
			ID:        uuid.NewString(),
			Slot:      slot,
			SessionID: sessionID,
			Status:    domain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		ok, err := s.rdb.SetNX(ctx, slotKey, res.ID, ttl).Result()
		if err != nil {
			return domain.Reservation{}, false, fmt.Errorf("reserve slot key: %w", err)
		}
		if ok {
			if err := s.writeRecord(ctx, res, ttl); err != nil {
				return domain.Reservation{}, false, err
			}
			return res, true, nil
		}

		holderID, err := s.rdb.Get(ctx, slotKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return domain.Reservation{}, false, fmt.Errorf("read slot holder: %w", err)
		}

		holder, err := s.Get(ctx, holderID)
		if err == domain.ErrReservationNotFound {
			continue
		}
		if err != nil {
			return domain.Reservation{}, false, err
		}
		if holder.Stale(now) {
			if err := s.expireRecord(ctx, holderID, slotKey, now); err != nil {
				return domain.Reservation{}, false, err
			}
			continue
		}
		if holder.SessionID == sessionID {
			return holder, false, nil
		}

		remaining, err := s.rdb.PTTL(ctx, slotKey).Result()
		if err != nil || remaining < 0 {
			remaining = holder.Remaining(now)
		}
		return domain.Reservation{}, false, &domain.ConflictError{Slot: slot, RetryAfter: remaining}
	}

	return domain.Reservation{}, false, &domain.ConflictError{Slot: slot}
}

// expireRecord demotes a stale holder and vacates its slot key, mirroring
// what the sweep does, so a skewed Redis TTL never keeps a lapsed hold alive.
func (s *Store) expireRecord(ctx context.Context, id, slotKey string, now time.Time) error {
	if err := s.rdb.HSet(ctx, s.resKey(id),
		"status", string(domain.StatusExpired),
		"updated_at", now.UTC().Format(time.RFC3339Nano),
		"updated_at_ms", now.UnixMilli(),
	).Err(); err != nil {
		return fmt.Errorf("expire stale holder: %w", err)
	}
	if err := reclaimScript.Run(ctx, s.rdb, []string{slotKey}, id).Err(); err != nil {
		return fmt.Errorf("reclaim slot key: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Reservation, error) {
	fields, err := s.rdb.HGetAll(ctx, s.resKey(id)).Result()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	if len(fields) == 0 {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return parseRecord(fields)
}

func (s *Store) GetBySlot(ctx context.Context, slot domain.SlotKey, now time.Time) (*domain.Reservation, error) {
	holderID, err := s.rdb.Get(ctx, s.slotKey(slot)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read slot holder: %w", err)
	}

	res, err := s.Get(ctx, holderID)
	if err == domain.ErrReservationNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res.Status != domain.StatusActive || res.Stale(now) {
		return nil, nil
	}
	return &res, nil
}

// transitionScript performs an owner-checked status CAS, demoting stale
// Active records to expired on the way. Returns a status word plus the
// current stored status.
//
// KEYS: 1=record hash, 2=slot key
// ARGV: 1=session, 2=from, 3=to, 4=now unix ms, 5=now RFC3339Nano, 6=reservation id
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return {'notfound', ''} end
if redis.call('HGET', KEYS[1], 'session_id') ~= ARGV[1] then return {'notowner', status} end
local expms = tonumber(redis.call('HGET', KEYS[1], 'expires_at_ms'))
local nowms = tonumber(ARGV[4])
if status == 'active' and expms <= nowms then
	redis.call('HSET', KEYS[1], 'status', 'expired', 'updated_at', ARGV[5], 'updated_at_ms', ARGV[4])
	if redis.call('GET', KEYS[2]) == ARGV[6] then redis.call('DEL', KEYS[2]) end
	return {'expired', 'expired'}
end
if status ~= ARGV[2] then
	if status == 'expired' then return {'expired', status} end
	return {'invalid', status}
end
redis.call('HSET', KEYS[1], 'status', ARGV[3], 'updated_at', ARGV[5], 'updated_at_ms', ARGV[4])
if redis.call('GET', KEYS[2]) == ARGV[6] then redis.call('DEL', KEYS[2]) end
return {'ok', ARGV[3]}
`)

func (s *Store) Transition(ctx context.Context, id, sessionID string, from, to domain.Status, now time.Time) (domain.Reservation, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}

	raw, err := transitionScript.Run(ctx, s.rdb,
		[]string{s.resKey(id), s.slotKey(res.Slot)},
		sessionID, string(from), string(to), now.UnixMilli(), now.UTC().Format(time.RFC3339Nano), id,
	).Result()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("transition reservation: %w", err)
	}

	outcome := scriptOutcome(raw)
	current, _ := s.Get(ctx, id)
	switch outcome {
	case "ok":
		return current, nil
	case "notfound":
		return domain.Reservation{}, domain.ErrReservationNotFound
	case "notowner":
		return domain.Reservation{}, domain.ErrNotSessionOwner
	case "expired":
		return current, domain.ErrReservationExpired
	default:
		return current, domain.ErrInvalidTransition
	}
}

// renewScript refreshes the TTL of an Active, owned, unexpired reservation
// and re-arms the slot key.
//
// KEYS: 1=record hash, 2=slot key
// ARGV: 1=session, 2=now unix ms, 3=now RFC3339Nano, 4=new expiry ms,
//       5=new expiry RFC3339Nano, 6=ttl ms, 7=retention ms, 8=reservation id
var renewScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return {'notfound'} end
if redis.call('HGET', KEYS[1], 'session_id') ~= ARGV[1] then return {'notowner'} end
local expms = tonumber(redis.call('HGET', KEYS[1], 'expires_at_ms'))
if status == 'active' and expms <= tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], 'status', 'expired', 'updated_at', ARGV[3], 'updated_at_ms', ARGV[2])
	if redis.call('GET', KEYS[2]) == ARGV[8] then redis.call('DEL', KEYS[2]) end
	return {'expired'}
end
if status ~= 'active' then
	if status == 'expired' then return {'expired'} end
	return {'invalid'}
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[5], 'expires_at_ms', ARGV[4], 'updated_at', ARGV[3], 'updated_at_ms', ARGV[2])
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[6]) + tonumber(ARGV[7]))
redis.call('SET', KEYS[2], ARGV[8], 'PX', tonumber(ARGV[6]))
return {'ok'}
`)

func (s *Store) Renew(ctx context.Context, id, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}

	expiresAt := now.Add(ttl)
	raw, err := renewScript.Run(ctx, s.rdb,
		[]string{s.resKey(id), s.slotKey(res.Slot)},
		sessionID,
		now.UnixMilli(), now.UTC().Format(time.RFC3339Nano),
		expiresAt.UnixMilli(), expiresAt.UTC().Format(time.RFC3339Nano),
		ttl.Milliseconds(), s.retention.Milliseconds(), id,
	).Result()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("renew reservation: %w", err)
	}

	switch scriptOutcome(raw) {
	case "ok":
		return s.Get(ctx, id)
	case "notfound":
		return domain.Reservation{}, domain.ErrReservationNotFound
	case "notowner":
		return domain.Reservation{}, domain.ErrNotSessionOwner
	case "expired":
		return domain.Reservation{}, domain.ErrReservationExpired
	default:
		return domain.Reservation{}, domain.ErrInvalidTransition
	}
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	evicted := 0
	err := s.scanRecords(ctx, func(key string) error {
		vals, err := s.rdb.HMGet(ctx, key, "status", "expires_at_ms").Result()
		if err != nil {
			return err
		}
		status, _ := vals[0].(string)
		expStr, _ := vals[1].(string)
		if status != string(domain.StatusActive) || expStr == "" {
			return nil
		}
		expMs, err := strconv.ParseInt(expStr, 10, 64)
		if err != nil || expMs > now.UnixMilli() {
			return nil
		}
		if err := s.rdb.HSet(ctx, key,
			"status", string(domain.StatusExpired),
			"updated_at", now.UTC().Format(time.RFC3339Nano),
			"updated_at_ms", now.UnixMilli(),
		).Err(); err != nil {
			return err
		}
		evicted++
		return nil
	})
	if err != nil {
		return evicted, fmt.Errorf("sweep expired: %w", err)
	}
	return evicted, nil
}

func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	purged := 0
	err := s.scanRecords(ctx, func(key string) error {
		vals, err := s.rdb.HMGet(ctx, key, "status", "updated_at_ms").Result()
		if err != nil {
			return err
		}
		status, _ := vals[0].(string)
		updStr, _ := vals[1].(string)
		if status == "" || status == string(domain.StatusActive) {
			return nil
		}
		updMs, err := strconv.ParseInt(updStr, 10, 64)
		if err != nil || updMs >= before.UnixMilli() {
			return nil
		}
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return err
		}
		purged++
		return nil
	})
	if err != nil {
		return purged, fmt.Errorf("purge terminal: %w", err)
	}
	return purged, nil
}

func (s *Store) scanRecords(ctx context.Context, fn func(key string) error) error {
	var cursor uint64
	pattern := s.prefix + ":res:*"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) writeRecord(ctx context.Context, res domain.Reservation, ttl time.Duration) error {
	key := s.resKey(res.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"id", res.ID,
		"tenant_id", res.Slot.TenantID,
		"slot_date", res.Slot.Date,
		"slot_time", res.Slot.Time,
		"resource_id", res.Slot.ResourceID,
		"session_id", res.SessionID,
		"status", string(res.Status),
		"created_at", res.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", res.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at_ms", res.UpdatedAt.UnixMilli(),
		"expires_at", res.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"expires_at_ms", res.ExpiresAt.UnixMilli(),
	)
	pipe.PExpire(ctx, key, ttl+s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write reservation record: %w", err)
	}
	return nil
}

func parseRecord(fields map[string]string) (domain.Reservation, error) {
	res := domain.Reservation{
		ID: fields["id"],
		Slot: domain.SlotKey{
			TenantID:   fields["tenant_id"],
			Date:       fields["slot_date"],
			Time:       fields["slot_time"],
			ResourceID: fields["resource_id"],
		},
		SessionID: fields["session_id"],
		Status:    domain.Status(fields["status"]),
	}

	var err error
	if res.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return domain.Reservation{}, fmt.Errorf("parse created_at: %w", err)
	}
	if res.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return domain.Reservation{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if res.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return domain.Reservation{}, fmt.Errorf("parse expires_at: %w", err)
	}
	return res, nil
}

func scriptOutcome(raw any) string {
	vals, ok := raw.([]any)
	if !ok || len(vals) == 0 {
		return ""
	}
	out, _ := vals[0].(string)
	return out
}
