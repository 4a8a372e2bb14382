package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTenantNotFound is returned when a tenant id resolves to nothing.
	ErrTenantNotFound = errors.New("tenancy: tenant not found")

	// ErrResourceNotFound is returned when a resource id resolves to
	// nothing within its tenant.
	ErrResourceNotFound = errors.New("tenancy: resource not found")
)

// Tenant is the root of isolation. Credentials are opaque blobs owned by
// the messaging and calendar-sync collaborators; the engine never
// interprets them.
type Tenant struct {
	ID               string
	Name             string
	MessagingCreds   string
	GoogleCredsJSON  string
	GoogleCalendarID string
	CreatedAt        time.Time
}

// Resource is a bookable entity (doctor, room) scoped to one tenant.
// ExternalRef optionally points at a synced external calendar.
type Resource struct {
	ID          string
	TenantID    string
	Name        string
	ExternalRef string
	CreatedAt   time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory manages tenants and their resources.
type Directory struct {
	db DB
}

// NewDirectory creates a Postgres-backed directory.
func NewDirectory(db DB) *Directory {
	return &Directory{db: db}
}

// CreateTenant inserts a tenant, generating an id when empty.
func (d *Directory) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO tenants (id, name, messaging_creds, google_creds_json, google_calendar_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6)`,
		t.ID, t.Name, t.MessagingCreds, t.GoogleCredsJSON, t.GoogleCalendarID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tenancy: create tenant: %w", err)
	}
	return nil
}

// GetTenant loads a tenant by id.
func (d *Directory) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := d.db.QueryRow(ctx, `
		SELECT id, name, messaging_creds, google_creds_json, google_calendar_id, created_at
		FROM tenants
		WHERE id = $1`, id)

	var (
		t          Tenant
		creds      sql.NullString
		gcreds     sql.NullString
		calendarID sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &creds, &gcreds, &calendarID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("tenancy: get tenant: %w", err)
	}
	t.MessagingCreds = creds.String
	t.GoogleCredsJSON = gcreds.String
	t.GoogleCalendarID = calendarID.String
	return &t, nil
}

// GoogleCredentials resolves the tenant's calendar-sync credentials for
// the sync collaborator. The engine itself never reads them.
func (d *Directory) GoogleCredentials(ctx context.Context, tenantID string) (string, string, error) {
	t, err := d.GetTenant(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	return t.GoogleCredsJSON, t.GoogleCalendarID, nil
}

// DeleteTenant removes the tenant. Resources and appointments cascade at
// the schema level; no reservation outlives its tenant.
func (d *Directory) DeleteTenant(ctx context.Context, id string) error {
	tag, err := d.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("tenancy: delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CreateResource inserts a resource under its tenant.
func (d *Directory) CreateResource(ctx context.Context, r *Resource) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO resources (id, tenant_id, name, external_ref, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		r.ID, r.TenantID, r.Name, r.ExternalRef, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("tenancy: create resource: %w", err)
	}
	return nil
}

// GetResource loads a resource scoped to its tenant.
func (d *Directory) GetResource(ctx context.Context, tenantID, id string) (*Resource, error) {
	row := d.db.QueryRow(ctx, `
		SELECT id, tenant_id, name, external_ref, created_at
		FROM resources
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	var (
		r   Resource
		ref sql.NullString
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &ref, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("tenancy: get resource: %w", err)
	}
	r.ExternalRef = ref.String
	return &r, nil
}

// ListResources returns all resources for a tenant.
func (d *Directory) ListResources(ctx context.Context, tenantID string) ([]Resource, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, tenant_id, name, external_ref, created_at
		FROM resources
		WHERE tenant_id = $1
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy: list resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var (
			r   Resource
			ref sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &ref, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("tenancy: scan resource: %w", err)
		}
		r.ExternalRef = ref.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenancy: iterate resources: %w", err)
	}
	return out, nil
}
