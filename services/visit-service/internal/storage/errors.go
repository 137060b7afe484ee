package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrSlotNotOpen  = errors.New("slot is not open")
	ErrDuplicateKey = errors.New("idempotency key already used")
	ErrInvalidSlot  = errors.New("invalid slot")
)

const (
	idempotencyConstraint = "visits_idempotency_key_key"
	activeSlotConstraint  = "visits_active_slot_idx"
)

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return ErrNotFound
	}
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case idempotencyConstraint:
			return ErrDuplicateKey
		case activeSlotConstraint:
			return ErrSlotNotOpen
		}
	}
	return err
}
