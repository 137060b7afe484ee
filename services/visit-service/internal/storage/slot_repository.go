package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

const slotCols = `id, listing_id, start_time, end_time, status, source, reserved_at, created_at`

type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotCols+` FROM visit_slots WHERE id = $1`, id)
	s, err := scanSlot(row)
	return s, translate(err)
}

func (r *SlotRepository) GetSlots(ctx context.Context, ids []string) (map[string]model.Slot, error) {
	out := map[string]model.Slot{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+slotCols+` FROM visit_slots WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	slots, err := collectSlots(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range slots {
		out[s.ID] = s
	}
	return out, nil
}

// EnsureSlot inserts s unless a slot with the same id exists, and returns the stored row.
func (r *SlotRepository) EnsureSlot(ctx context.Context, s model.Slot) (model.Slot, error) {
	if !s.Valid() {
		return model.Slot{}, fmt.Errorf("%w: %s", ErrInvalidSlot, s.ID)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO visit_slots (id, listing_id, start_time, end_time, status, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.ListingID, s.StartTime.UTC(), s.EndTime.UTC(), string(s.Status), s.Source)
	if err != nil {
		return model.Slot{}, err
	}
	return r.GetSlot(ctx, s.ID)
}

// TryReserve flips an open slot to booked in a single conditional update.
func (r *SlotRepository) TryReserve(ctx context.Context, id string) (model.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visit_slots
		SET status = 'booked', reserved_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING `+slotCols, id)
	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !IsNotFound(err) {
		return model.Slot{}, err
	}
	if _, err := r.GetSlot(ctx, id); err != nil {
		return model.Slot{}, err
	}
	return model.Slot{}, ErrSlotNotOpen
}

// Release reopens a booked slot. Open and blocked slots are returned untouched.
func (r *SlotRepository) Release(ctx context.Context, id string) (model.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visit_slots
		SET status = 'open', reserved_at = NULL
		WHERE id = $1 AND status = 'booked'
		RETURNING `+slotCols, id)
	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !IsNotFound(err) {
		return model.Slot{}, err
	}
	return r.GetSlot(ctx, id)
}

func (r *SlotRepository) Block(ctx context.Context, id string) (model.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visit_slots SET status = 'blocked'
		WHERE id = $1 AND status = 'open'
		RETURNING `+slotCols, id)
	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !IsNotFound(err) {
		return model.Slot{}, err
	}
	if _, err := r.GetSlot(ctx, id); err != nil {
		return model.Slot{}, err
	}
	return model.Slot{}, ErrSlotNotOpen
}

// ListSlotIDsByStart returns ids of slots starting inside [from, to]. Nil bounds are open.
func (r *SlotRepository) ListSlotIDsByStart(ctx context.Context, from, to *time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM visit_slots
		WHERE ($1::timestamptz IS NULL OR start_time >= $1)
			AND ($2::timestamptz IS NULL OR start_time <= $2)
	`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *SlotRepository) ListByListing(ctx context.Context, listingID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+` FROM visit_slots
		WHERE listing_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
	`, listingID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *SlotRepository) ListStaleBooked(ctx context.Context, cutoff time.Time, limit int) ([]model.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotCols+` FROM visit_slots
		WHERE status = 'booked' AND reserved_at IS NOT NULL AND reserved_at <= $1
		ORDER BY reserved_at ASC
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// ReleaseStale reopens a slot only if it is still booked with a reservation older than cutoff
// and no visit holds it.
func (r *SlotRepository) ReleaseStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE visit_slots s
		SET status = 'open', reserved_at = NULL
		WHERE s.id = $1
			AND s.status = 'booked'
			AND s.reserved_at <= $2
			AND NOT EXISTS (
				SELECT 1 FROM visits v
				WHERE v.slot_id = s.id AND v.status NOT IN ('canceled', 'no_show')
			)
	`, id, cutoff.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	var status string
	err := row.Scan(&s.ID, &s.ListingID, &s.StartTime, &s.EndTime, &status, &s.Source, &s.ReservedAt, &s.CreatedAt)
	if err != nil {
		return model.Slot{}, err
	}
	s.Status = model.SlotStatus(status)
	return s, nil
}

func collectSlots(rows pgx.Rows) ([]model.Slot, error) {
	defer rows.Close()
	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}
