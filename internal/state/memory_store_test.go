package state

import (
	"context"
	"errors"
	"testing"

	"escalation/internal/domain"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alert := domain.Alert{
		ID:       "alert/payments/high_cpu/abc",
		Name:     "High CPU",
		System:   "payments",
		Severity: domain.SeverityP2,
		Status:   domain.StatusNew,
		Properties: map[string]string{
			"region": "eu-west-1",
		},
	}

	rev, err := store.Put(ctx, alert)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	got, gotRev, err := store.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gotRev != rev {
		t.Fatalf("expected revision %d, got %d", rev, gotRev)
	}
	if got.Name != alert.Name || got.System != alert.System {
		t.Fatalf("unexpected alert: %+v", got)
	}

	// Stored record must stay detached from the returned copy.
	got.Properties["region"] = "us-east-1"
	again, _, err := store.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if again.Properties["region"] != "eu-west-1" {
		t.Fatalf("stored record was mutated through a returned copy")
	}
}

func TestMemoryStorePutRequiresID(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, err := store.Put(context.Background(), domain.Alert{Name: "no id"}); err == nil {
		t.Fatalf("expected error for alert without ID")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateCAS(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alert := domain.Alert{ID: "alert/db/disk_full/def", Status: domain.StatusNew}
	rev, err := store.Put(ctx, alert)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	alert.Status = domain.StatusAcknowledged
	newRev, err := store.Update(ctx, rev, alert)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if newRev != rev+1 {
		t.Fatalf("expected revision %d, got %d", rev+1, newRev)
	}

	// A writer holding the stale revision must lose.
	alert.Status = domain.StatusResolved
	if _, err := store.Update(ctx, rev, alert); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := store.Update(ctx, 1, domain.Alert{ID: "absent"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown alert, got %v", err)
	}
}

func TestMemoryStoreListOpen(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	records := []domain.Alert{
		{ID: "alert/b", Status: domain.StatusProcessed},
		{ID: "alert/a", Status: domain.StatusNew},
		{ID: "alert/c", Status: domain.StatusResolved},
		{ID: "alert/d", Status: domain.StatusAutoRecovered},
	}
	for _, rec := range records {
		if _, err := store.Put(ctx, rec); err != nil {
			t.Fatalf("put %s failed: %v", rec.ID, err)
		}
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open alerts, got %d", len(open))
	}
	if open[0].ID != "alert/a" || open[1].ID != "alert/b" {
		t.Fatalf("unexpected order: %s, %s", open[0].ID, open[1].ID)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, domain.Alert{ID: "alert/x"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Delete(ctx, "alert/x"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, _, err := store.Get(ctx, "alert/x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
