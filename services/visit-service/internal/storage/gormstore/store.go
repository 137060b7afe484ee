package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

const activeVisitSQL = "status <> 'canceled' AND status <> 'no_show'"

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) DB() *gorm.DB { return s.db }

// WithClock replaces the clock used for reservation and history timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	var row slotRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return model.Slot{}, translate(err)
	}
	return slotFromRow(row), nil
}

func (s *Store) GetSlots(ctx context.Context, ids []string) (map[string]model.Slot, error) {
	out := map[string]model.Slot{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []slotRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = slotFromRow(r)
	}
	return out, nil
}

func (s *Store) EnsureSlot(ctx context.Context, slot model.Slot) (model.Slot, error) {
	if !slot.Valid() {
		return model.Slot{}, fmt.Errorf("%w: %s", storage.ErrInvalidSlot, slot.ID)
	}
	row := slotToRow(slot)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return model.Slot{}, err
	}
	return s.GetSlot(ctx, slot.ID)
}

func (s *Store) TryReserve(ctx context.Context, id string) (model.Slot, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&slotRow{}).
		Where("id = ? AND status = ?", id, string(model.SlotOpen)).
		Updates(map[string]any{"status": string(model.SlotBooked), "reserved_at": now})
	if res.Error != nil {
		return model.Slot{}, res.Error
	}
	slot, err := s.GetSlot(ctx, id)
	if err != nil {
		return model.Slot{}, err
	}
	if res.RowsAffected == 0 {
		return model.Slot{}, storage.ErrSlotNotOpen
	}
	return slot, nil
}

func (s *Store) Release(ctx context.Context, id string) (model.Slot, error) {
	err := s.db.WithContext(ctx).Model(&slotRow{}).
		Where("id = ? AND status = ?", id, string(model.SlotBooked)).
		Updates(map[string]any{"status": string(model.SlotOpen), "reserved_at": nil}).Error
	if err != nil {
		return model.Slot{}, err
	}
	return s.GetSlot(ctx, id)
}

func (s *Store) Block(ctx context.Context, id string) (model.Slot, error) {
	res := s.db.WithContext(ctx).Model(&slotRow{}).
		Where("id = ? AND status = ?", id, string(model.SlotOpen)).
		Update("status", string(model.SlotBlocked))
	if res.Error != nil {
		return model.Slot{}, res.Error
	}
	slot, err := s.GetSlot(ctx, id)
	if err != nil {
		return model.Slot{}, err
	}
	if res.RowsAffected == 0 {
		return model.Slot{}, storage.ErrSlotNotOpen
	}
	return slot, nil
}

func (s *Store) ListSlotIDsByStart(ctx context.Context, from, to *time.Time) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&slotRow{})
	if from != nil {
		q = q.Where("start_time >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("start_time <= ?", to.UTC())
	}
	var ids []string
	if err := q.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListByListing(ctx context.Context, listingID string, from, to time.Time) ([]model.Slot, error) {
	var rows []slotRow
	err := s.db.WithContext(ctx).
		Where("listing_id = ? AND start_time >= ? AND start_time < ?", listingID, from.UTC(), to.UTC()).
		Order("start_time").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Slot, 0, len(rows))
	for _, r := range rows {
		out = append(out, slotFromRow(r))
	}
	return out, nil
}

func (s *Store) ListStaleBooked(ctx context.Context, cutoff time.Time, limit int) ([]model.Slot, error) {
	q := s.db.WithContext(ctx).
		Where("status = ? AND reserved_at IS NOT NULL AND reserved_at <= ?", string(model.SlotBooked), cutoff.UTC()).
		Order("reserved_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []slotRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Slot, 0, len(rows))
	for _, r := range rows {
		out = append(out, slotFromRow(r))
	}
	return out, nil
}

func (s *Store) ReleaseStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Exec(`
UPDATE visit_slots SET status = ?, reserved_at = NULL
WHERE id = ? AND status = ? AND reserved_at IS NOT NULL AND reserved_at <= ?
  AND NOT EXISTS (SELECT 1 FROM visits v WHERE v.slot_id = visit_slots.id AND v.`+activeVisitSQL+`)`,
		string(model.SlotOpen), id, string(model.SlotBooked), cutoff.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (model.Visit, error) {
	var row visitRow
	if err := s.db.WithContext(ctx).First(&row, "idempotency_key = ?", key).Error; err != nil {
		return model.Visit{}, translate(err)
	}
	return visitFromRow(row), nil
}

func (s *Store) Insert(ctx context.Context, v model.Visit) error {
	row := visitToRow(v)
	err := s.db.WithContext(ctx).Create(&row).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	// the translated error no longer names the index, so look for the key directly
	if _, findErr := s.FindByIdempotencyKey(ctx, v.IdempotencyKey); findErr == nil {
		return storage.ErrDuplicateKey
	}
	return storage.ErrSlotNotOpen
}

func (s *Store) Get(ctx context.Context, id string) (model.Visit, error) {
	var row visitRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return model.Visit{}, translate(err)
	}
	return visitFromRow(row), nil
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*model.Visit) error) (model.Visit, error) {
	var out model.Visit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row visitRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		v := visitFromRow(row)
		if err := mutate(&v); err != nil {
			return err
		}
		err := tx.Model(&visitRow{}).Where("id = ?", id).Updates(map[string]any{
			"listing_id": v.ListingID,
			"slot_id":    v.SlotID,
			"agent_id":   v.AgentID,
			"status":     string(v.Status),
			"updated_at": v.UpdatedAt.UTC(),
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrSlotNotOpen
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return model.Visit{}, err
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, f model.VisitFilter, page model.Page) ([]model.Visit, int, error) {
	if f.RestrictSlots && len(f.SlotIDs) == 0 {
		return nil, 0, nil
	}
	q := s.db.WithContext(ctx).Model(&visitRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.ListingID != "" {
		q = q.Where("listing_id = ?", f.ListingID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.RestrictSlots {
		q = q.Where("slot_id IN ?", f.SlotIDs)
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		q = q.Where(`(LOWER(id) LIKE ? ESCAPE '\' OR LOWER(user_id) LIKE ? ESCAPE '\' OR LOWER(listing_id) LIKE ? ESCAPE '\')`,
			pattern, pattern, pattern)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []visitRow
	err := q.Order("created_at DESC").Order("id DESC").
		Offset(page.Offset()).Limit(page.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return visitsFromRows(rows), int(total), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]model.Visit, error) {
	var rows []visitRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return visitsFromRows(rows), nil
}

func (s *Store) HoldsSlot(ctx context.Context, slotID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&visitRow{}).
		Where("slot_id = ?", slotID).Where(activeVisitSQL).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	row := historyRow{
		VisitID:    e.VisitID,
		EventType:  string(e.EventType),
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		FromSlot:   e.FromSlotID,
		ToSlot:     e.ToSlotID,
		Reason:     e.Reason,
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		Metadata:   e.Metadata,
		CreatedAt:  e.CreatedAt.UTC(),
	}
	if row.Metadata == nil {
		row.Metadata = map[string]any{}
	}
	if e.CreatedAt.IsZero() {
		row.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) History(ctx context.Context, visitID string) ([]model.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).Where("visit_id = ?", visitID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.HistoryEntry{
			ID:         r.ID,
			VisitID:    r.VisitID,
			EventType:  model.HistoryEvent(r.EventType),
			FromStatus: model.VisitStatus(r.FromStatus),
			ToStatus:   model.VisitStatus(r.ToStatus),
			FromSlotID: r.FromSlot,
			ToSlotID:   r.ToSlot,
			Reason:     r.Reason,
			ActorType:  r.ActorType,
			ActorID:    r.ActorID,
			Metadata:   r.Metadata,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

func visitsFromRows(rows []visitRow) []model.Visit {
	out := make([]model.Visit, 0, len(rows))
	for _, r := range rows {
		out = append(out, visitFromRow(r))
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
