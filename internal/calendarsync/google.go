package calendarsync

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/bookwell/reservation-engine/internal/reservation"
	"github.com/bookwell/reservation-engine/internal/tenancy"
	"github.com/bookwell/reservation-engine/pkg/logging"
)

// CredentialsProvider resolves per-tenant Google service-account
// credentials. Tenants without credentials are skipped silently.
type CredentialsProvider interface {
	GoogleCredentials(ctx context.Context, tenantID string) (credsJSON, calendarID string, err error)
}

// GoogleSyncer mirrors reservations into a tenant's Google Calendar.
type GoogleSyncer struct {
	creds  CredentialsProvider
	logger *logging.Logger
}

// NewGoogleSyncer creates a Google Calendar syncer.
func NewGoogleSyncer(creds CredentialsProvider, logger *logging.Logger) *GoogleSyncer {
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleSyncer{creds: creds, logger: logger}
}

func (g *GoogleSyncer) service(ctx context.Context) (*calendar.Service, string, error) {
	tenantID, ok := tenancy.TenantIDFromContext(ctx)
	if !ok {
		return nil, "", fmt.Errorf("calendarsync: no tenant in context")
	}
	credsJSON, calendarID, err := g.creds.GoogleCredentials(ctx, tenantID)
	if err != nil {
		return nil, "", fmt.Errorf("calendarsync: resolve credentials: %w", err)
	}
	if credsJSON == "" {
		return nil, "", nil
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	svc, err := calendar.NewService(ctx,
		option.WithCredentialsJSON([]byte(credsJSON)),
		option.WithScopes(calendar.CalendarScope),
	)
	if err != nil {
		return nil, "", fmt.Errorf("calendarsync: build calendar client: %w", err)
	}
	return svc, calendarID, nil
}

// EventCreated inserts a calendar event for a confirmed reservation and
// returns its external id.
func (g *GoogleSyncer) EventCreated(ctx context.Context, ev reservation.SyncEvent) (string, error) {
	svc, calendarID, err := g.service(ctx)
	if err != nil {
		return "", err
	}
	if svc == nil {
		g.logger.Debug("calendarsync: tenant has no google credentials, skipping",
			"tenant_id", ev.TenantID)
		return "", nil
	}

	summary := "Appointment"
	if ev.CustomerName != "" {
		summary = "Appointment: " + ev.CustomerName
	}
	event := &calendar.Event{
		Summary:     summary,
		Description: fmt.Sprintf("ResourceID: %s\nReservationID: %s", ev.ResourceID, ev.ReservationID),
		Start:       &calendar.EventDateTime{DateTime: ev.Range.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: ev.Range.End.Format(time.RFC3339)},
	}
	created, err := svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("calendarsync: insert event: %w", err)
	}
	return created.Id, nil
}

// EventCancelled deletes the mirrored event, if one was recorded.
func (g *GoogleSyncer) EventCancelled(ctx context.Context, ev reservation.SyncEvent) error {
	if ev.ExternalEventID == "" {
		return nil
	}
	svc, calendarID, err := g.service(ctx)
	if err != nil {
		return err
	}
	if svc == nil {
		return nil
	}
	if err := svc.Events.Delete(calendarID, ev.ExternalEventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendarsync: delete event: %w", err)
	}
	return nil
}
