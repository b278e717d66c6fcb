// Package postgres implements the reservation store on pgx. Slot
// exclusivity is enforced twice: FOR UPDATE row locks serialize competitors
// inside a transaction, and a partial unique index on (tenant, date, time,
// resource) WHERE status='active' backstops any race at insert time.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const reservationColumns = `id, tenant_id, slot_date, slot_time, resource_id, session_id, status, created_at, updated_at, expires_at`

func (s *Store) TryReserve(ctx context.Context, slot domain.SlotKey, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, bool, error) {
	var (
		result  domain.Reservation
		created bool
	)

	err := withTx(ctx, s.pool, func(txCtx context.Context) error {
		existing, err := s.lockActiveSlot(txCtx, slot)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Stale(now) {
				if err := s.markExpired(txCtx, existing.ID, now); err != nil {
					return err
				}
			} else if existing.SessionID == sessionID {
				result = *existing
				return nil
			} else {
				return &domain.ConflictError{Slot: slot, RetryAfter: existing.Remaining(now)}
			}
		}

		res := domain.Reservation{
			ID:        uuid.NewString(),
			Slot:      slot,
			SessionID: sessionID,
			Status:    domain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := s.insert(txCtx, res); err != nil {
			return err
		}
		result = res
		created = true
		return nil
	})
	if err != nil {
		// A concurrent TryReserve that slipped past the row lock trips the
		// partial unique index; re-read so the loser gets a proper conflict.
		if isUniqueViolation(err) {
			if winner, gerr := s.GetBySlot(ctx, slot, now); gerr == nil && winner != nil {
				if winner.SessionID == sessionID {
					return *winner, false, nil
				}
				return domain.Reservation{}, false, &domain.ConflictError{Slot: slot, RetryAfter: winner.Remaining(now)}
			}
			return domain.Reservation{}, false, &domain.ConflictError{Slot: slot}
		}
		return domain.Reservation{}, false, err
	}
	return result, created, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	res, err := s.scanOne(s.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) || err == pgx.ErrNoRows {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

func (s *Store) GetBySlot(ctx context.Context, slot domain.SlotKey, now time.Time) (*domain.Reservation, error) {
	query := `
SELECT ` + reservationColumns + `
FROM reservations
WHERE tenant_id = $1 AND slot_date = $2 AND slot_time = $3 AND resource_id = $4
  AND status = 'active' AND expires_at > $5`

	res, err := s.scanOne(s.queryRow(ctx, query, slot.TenantID, slot.Date, slot.Time, slot.ResourceID, now))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation by slot: %w", err)
	}
	return &res, nil
}

func (s *Store) Transition(ctx context.Context, id, sessionID string, from, to domain.Status, now time.Time) (domain.Reservation, error) {
	var result domain.Reservation

	err := withTx(ctx, s.pool, func(txCtx context.Context) error {
		res, err := s.lockByID(txCtx, id)
		if err != nil {
			return err
		}
		if res.SessionID != sessionID {
			return domain.ErrNotSessionOwner
		}
		if res.Stale(now) {
			if err := s.markExpired(txCtx, res.ID, now); err != nil {
				return err
			}
			res.Status = domain.StatusExpired
			res.UpdatedAt = now
		}
		if res.Status != from {
			result = res
			if res.Status == domain.StatusExpired {
				return domain.ErrReservationExpired
			}
			return domain.ErrInvalidTransition
		}

		stmt := `UPDATE reservations SET status = $1, updated_at = $2 WHERE id = $3`
		if _, err := s.exec(txCtx, stmt, to, now, id); err != nil {
			return fmt.Errorf("transition reservation: %w", err)
		}
		res.Status = to
		res.UpdatedAt = now
		result = res
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Store) Renew(ctx context.Context, id, sessionID string, now time.Time, ttl time.Duration) (domain.Reservation, error) {
	var result domain.Reservation

	err := withTx(ctx, s.pool, func(txCtx context.Context) error {
		res, err := s.lockByID(txCtx, id)
		if err != nil {
			return err
		}
		if res.SessionID != sessionID {
			return domain.ErrNotSessionOwner
		}
		if res.Stale(now) {
			if err := s.markExpired(txCtx, res.ID, now); err != nil {
				return err
			}
			return domain.ErrReservationExpired
		}
		if res.Status != domain.StatusActive {
			if res.Status == domain.StatusExpired {
				return domain.ErrReservationExpired
			}
			return domain.ErrInvalidTransition
		}

		stmt := `UPDATE reservations SET expires_at = $1, updated_at = $2 WHERE id = $3`
		if _, err := s.exec(txCtx, stmt, now.Add(ttl), now, id); err != nil {
			return fmt.Errorf("renew reservation: %w", err)
		}
		res.ExpiresAt = now.Add(ttl)
		res.UpdatedAt = now
		result = res
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return result, nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	stmt := `UPDATE reservations SET status = 'expired', updated_at = $1 WHERE status = 'active' AND expires_at <= $1`
	tag, err := s.exec(ctx, stmt, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	stmt := `DELETE FROM reservations WHERE status <> 'active' AND updated_at < $1`
	tag, err := s.exec(ctx, stmt, before)
	if err != nil {
		return 0, fmt.Errorf("purge terminal: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) lockActiveSlot(ctx context.Context, slot domain.SlotKey) (*domain.Reservation, error) {
	query := `
SELECT ` + reservationColumns + `
FROM reservations
WHERE tenant_id = $1 AND slot_date = $2 AND slot_time = $3 AND resource_id = $4 AND status = 'active'
FOR UPDATE`

	res, err := s.scanOne(s.queryRow(ctx, query, slot.TenantID, slot.Date, slot.Time, slot.ResourceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lock active slot: %w", err)
	}
	return &res, nil
}

func (s *Store) lockByID(ctx context.Context, id string) (domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`
	res, err := s.scanOne(s.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) || err == pgx.ErrNoRows {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock reservation: %w", err)
	}
	return res, nil
}

func (s *Store) markExpired(ctx context.Context, id string, now time.Time) error {
	stmt := `UPDATE reservations SET status = 'expired', updated_at = $1 WHERE id = $2`
	if _, err := s.exec(ctx, stmt, now, id); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, res domain.Reservation) error {
	stmt := `
INSERT INTO reservations (` + reservationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.exec(ctx, stmt,
		res.ID,
		res.Slot.TenantID,
		res.Slot.Date,
		res.Slot.Time,
		res.Slot.ResourceID,
		res.SessionID,
		res.Status,
		res.CreatedAt,
		res.UpdatedAt,
		res.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (domain.Reservation, error) {
	var res domain.Reservation
	err := row.Scan(
		&res.ID,
		&res.Slot.TenantID,
		&res.Slot.Date,
		&res.Slot.Time,
		&res.Slot.ResourceID,
		&res.SessionID,
		&res.Status,
		&res.CreatedAt,
		&res.UpdatedAt,
		&res.ExpiresAt,
	)
	return res, err
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}
