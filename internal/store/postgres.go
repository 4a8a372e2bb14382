package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bookwell/reservation-engine/internal/reservation"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists reservations in the appointments table.
type Postgres struct {
	db DB
}

// NewPostgres creates a Postgres-backed reservation store.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

const reservationColumns = `id, tenant_id, resource_id, start_time, end_time, status, expires_at, external_event_id, customer_name, customer_phone, created_at`

// Create inserts a new reservation row.
func (s *Postgres) Create(ctx context.Context, res *reservation.Reservation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (id, tenant_id, resource_id, start_time, end_time, status, expires_at, external_event_id, customer_name, customer_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		res.ID, res.TenantID, res.ResourceID, res.Range.Start, res.Range.End,
		string(res.Status), res.ExpiresAt, res.ExternalEventID, res.Customer.Name,
		res.Customer.Phone, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create reservation: %w", err)
	}
	return nil
}

// Get loads a reservation by id.
func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM appointments
		WHERE id = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("store: get reservation: %w", err)
	}
	return res, nil
}

// Update persists status, expires_at and the external event reference.
func (s *Postgres) Update(ctx context.Context, res *reservation.Reservation) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET status = $2, expires_at = $3, external_event_id = NULLIF($4, '')
		WHERE id = $1`,
		res.ID, string(res.Status), res.ExpiresAt, res.ExternalEventID,
	)
	if err != nil {
		return fmt.Errorf("store: update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reservation.ErrReservationNotFound
	}
	return nil
}

// ListLive returns all pending and confirmed reservations, used to rebuild
// the in-memory calendars at startup.
func (s *Postgres) ListLive(ctx context.Context) ([]*reservation.Reservation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM appointments
		WHERE status IN ('pending', 'confirmed')
		ORDER BY tenant_id, resource_id, start_time`)
	if err != nil {
		return nil, fmt.Errorf("store: list live: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

// ListDuePending returns pending reservations whose hold lapsed at or
// before asOf.
func (s *Postgres) ListDuePending(ctx context.Context, asOf time.Time) ([]*reservation.Reservation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM appointments
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at ASC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("store: list due pending: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

// ListForTenant returns a tenant's reservations, optionally filtered by
// resource and status, newest first.
func (s *Postgres) ListForTenant(ctx context.Context, tenantID string, resourceID string, status *reservation.Status, limit int) ([]*reservation.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
		SELECT ` + reservationColumns + `
		FROM appointments
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if resourceID != "" {
		args = append(args, resourceID)
		q += fmt.Sprintf(" AND resource_id = $%d", len(args))
	}
	if status != nil {
		args = append(args, string(*status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list for tenant: %w", err)
	}
	defer rows.Close()
	return scanReservations(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*reservation.Reservation, error) {
	var (
		res       reservation.Reservation
		status    string
		expiresAt sql.NullTime
		eventID   sql.NullString
		name      sql.NullString
	)
	err := row.Scan(
		&res.ID, &res.TenantID, &res.ResourceID,
		&res.Range.Start, &res.Range.End, &status,
		&expiresAt, &eventID, &name,
		&res.Customer.Phone, &res.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = reservation.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		res.ExpiresAt = &t
	}
	res.ExternalEventID = eventID.String
	res.Customer.Name = name.String
	return &res, nil
}

func scanReservations(rows pgx.Rows) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan reservation: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reservations: %w", err)
	}
	return out, nil
}
