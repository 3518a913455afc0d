package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
)

type stubRepo struct {
	created []*models.AuditEvent
	listed  []models.AuditEvent
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, event *models.AuditEvent) error {
	s.created = append(s.created, event)
	return nil
}

func (s *stubRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AuditEvent, error) {
	return s.listed, nil
}

func TestServiceRecord(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tenantID := uuid.New()
	event, err := svc.Record(context.Background(), RecordEventInput{
		TenantID: tenantID,
		Type:     enums.AuditSubscriptionActivated,
		Metadata: map[string]any{
			"event_id":   "evt_123",
			"old_status": "past_due",
			"new_status": "active",
		},
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if event.TenantID != tenantID {
		t.Fatalf("expected tenant %s, got %s", tenantID, event.TenantID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one created event, got %d", len(repo.created))
	}

	var metadata map[string]any
	if err := json.Unmarshal(event.Metadata, &metadata); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if metadata["event_id"] != "evt_123" {
		t.Fatalf("expected event_id in metadata, got %v", metadata)
	}
}

func TestServiceRecord_validation(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.Record(context.Background(), RecordEventInput{
		Type: enums.AuditSubscriptionActivated,
	}); err == nil {
		t.Fatal("expected error for missing tenant id")
	}

	if _, err := svc.Record(context.Background(), RecordEventInput{
		TenantID: uuid.New(),
		Type:     enums.AuditEventType("bogus"),
	}); err == nil {
		t.Fatal("expected error for invalid event type")
	}
}
