package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

const visitCols = `id, listing_id, slot_id, user_id, agent_id, channel, status, idempotency_key, request_hash,
	contact_name, contact_phone, contact_email, created_at, updated_at`

type VisitRepository struct {
	pool *db.Pool
}

func NewVisitRepository(pool *db.Pool) *VisitRepository {
	return &VisitRepository{pool: pool}
}

func (r *VisitRepository) FindByIdempotencyKey(ctx context.Context, key string) (model.Visit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE idempotency_key = $1`, key)
	v, err := scanVisit(row)
	return v, translate(err)
}

func (r *VisitRepository) Get(ctx context.Context, id string) (model.Visit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id)
	v, err := scanVisit(row)
	return v, translate(err)
}

// Insert fails with ErrDuplicateKey when the idempotency key is taken and with
// ErrSlotNotOpen when another active visit already holds the slot.
func (r *VisitRepository) Insert(ctx context.Context, v model.Visit) error {
	name, phone, email := contactColumns(v.Contact)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO visits
			(id, listing_id, slot_id, user_id, agent_id, channel, status, idempotency_key, request_hash,
			 contact_name, contact_phone, contact_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, v.ID, v.ListingID, v.SlotID, v.UserID, v.AgentID, string(v.Channel), string(v.Status), v.IdempotencyKey, v.RequestHash,
		name, phone, email, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	return translate(err)
}

// Update locks the visit row, applies mutate and writes back the mutable fields.
// An error from mutate aborts the update and is returned as is.
func (r *VisitRepository) Update(ctx context.Context, id string, mutate func(*model.Visit) error) (model.Visit, error) {
	var out model.Visit
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1 FOR UPDATE`, id)
		v, err := scanVisit(row)
		if err != nil {
			return translate(err)
		}
		if err := mutate(&v); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE visits
			SET listing_id = $2, slot_id = $3, agent_id = $4, status = $5, updated_at = $6
			WHERE id = $1
		`, v.ID, v.ListingID, v.SlotID, v.AgentID, string(v.Status), v.UpdatedAt.UTC())
		if err != nil {
			return translate(err)
		}
		out = v
		return nil
	})
	if err != nil {
		return model.Visit{}, err
	}
	return out, nil
}

func (r *VisitRepository) List(ctx context.Context, f model.VisitFilter, page model.Page) ([]model.Visit, int, error) {
	if f.RestrictSlots && len(f.SlotIDs) == 0 {
		return nil, 0, nil
	}
	q := buildListQuery(f, page)

	var total int
	if err := r.pool.QueryRow(ctx, q.count, q.filterArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, q.list, q.listArgs...)
	if err != nil {
		return nil, 0, err
	}
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, 0, err
	}
	return visits, total, nil
}

type listQuery struct {
	count      string
	list       string
	filterArgs []any
	listArgs   []any
}

// buildListQuery renders the filter as numbered placeholders shared by the
// count and page queries; the page query appends LIMIT and OFFSET.
func buildListQuery(f model.VisitFilter, page model.Page) listQuery {
	where := ` WHERE 1=1`
	var args []any
	idx := 1
	add := func(clause string, arg any) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, arg)
		idx++
	}

	if f.Status != "" {
		add(` AND status = $%d`, string(f.Status))
	}
	if f.AgentID != "" {
		add(` AND agent_id = $%d`, f.AgentID)
	}
	if f.ListingID != "" {
		add(` AND listing_id = $%d`, f.ListingID)
	}
	if f.UserID != "" {
		add(` AND user_id = $%d`, f.UserID)
	}
	if f.RestrictSlots {
		add(` AND slot_id = ANY($%d)`, f.SlotIDs)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where += fmt.Sprintf(` AND (id ILIKE $%d OR user_id ILIKE $%d OR listing_id ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+escapeLike(s)+"%")
		idx++
	}

	listArgs := append(append([]any{}, args...), page.PageSize, page.Offset())
	return listQuery{
		count: `SELECT COUNT(*) FROM visits` + where,
		list: `SELECT ` + visitCols + ` FROM visits` + where +
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, idx, idx+1),
		filterArgs: args,
		listArgs:   listArgs,
	}
}

func (r *VisitRepository) ListByUser(ctx context.Context, userID string) ([]model.Visit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+visitCols+` FROM visits
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectVisits(rows)
}

func (r *VisitRepository) HoldsSlot(ctx context.Context, slotID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM visits WHERE slot_id = $1 AND status NOT IN ('canceled', 'no_show')
		)
	`, slotID).Scan(&exists)
	return exists, err
}

func (r *VisitRepository) AppendHistory(ctx context.Context, e model.HistoryEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO visit_status_history
			(visit_id, event_type, from_status, to_status, from_slot, to_slot, reason, actor_type, actor_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.VisitID, string(e.EventType), string(e.FromStatus), string(e.ToStatus), e.FromSlotID, e.ToSlotID,
		e.Reason, e.ActorType, e.ActorID, meta, createdAt.UTC())
	return err
}

func (r *VisitRepository) History(ctx context.Context, visitID string) ([]model.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, visit_id, event_type, from_status, to_status, from_slot, to_slot, reason, actor_type, actor_id, metadata, created_at
		FROM visit_status_history
		WHERE visit_id = $1
		ORDER BY id ASC
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var eventType, from, to string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.VisitID, &eventType, &from, &to, &e.FromSlotID, &e.ToSlotID,
			&e.Reason, &e.ActorType, &e.ActorID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = model.HistoryEvent(eventType)
		e.FromStatus = model.VisitStatus(from)
		e.ToStatus = model.VisitStatus(to)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanVisit(row pgx.Row) (model.Visit, error) {
	var v model.Visit
	var channel, status string
	var name, phone, email *string
	err := row.Scan(&v.ID, &v.ListingID, &v.SlotID, &v.UserID, &v.AgentID, &channel, &status,
		&v.IdempotencyKey, &v.RequestHash, &name, &phone, &email, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return model.Visit{}, err
	}
	v.Channel = model.Channel(channel)
	v.Status = model.VisitStatus(status)
	if name != nil && phone != nil {
		v.Contact = &model.Contact{Name: *name, Phone: *phone}
		if email != nil {
			v.Contact.Email = *email
		}
	}
	return v, nil
}

func collectVisits(rows pgx.Rows) ([]model.Visit, error) {
	defer rows.Close()
	var visits []model.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func contactColumns(c *model.Contact) (name, phone, email *string) {
	if c == nil {
		return nil, nil, nil
	}
	name, phone = &c.Name, &c.Phone
	if c.Email != "" {
		email = &c.Email
	}
	return name, phone, email
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
