package storetest

import (
	"context"
	"testing"

	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

func TestMemoryAdapterSaveAssignsID(t *testing.T) {
	m := New()
	a := &domain.Action{Type: domain.ActionDeploy, Lock: domain.LockFree}
	if err := m.Save(context.Background(), a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("Save did not assign an id")
	}
}

func TestMemoryAdapterClaimSkipsLocked(t *testing.T) {
	m := New()
	ctx := context.Background()
	a1 := &domain.Action{Type: domain.ActionDeploy, Lock: domain.LockFree}
	a2 := &domain.Action{Type: domain.ActionDeploy, Lock: domain.LockFree}
	_ = m.Save(ctx, a1)
	_ = m.Save(ctx, a2)

	newAction := func() domain.Entity { return &domain.Action{} }

	first, err := m.GetOneForUpdateSkipLocked(ctx, "action", map[string]any{"lock": int(domain.LockFree)}, newAction)
	if err != nil || first == nil {
		t.Fatalf("first claim failed: %v %v", first, err)
	}
	if first.GetID() != a1.ID {
		t.Fatalf("expected FIFO claim of a1 (id %d), got %d", a1.ID, first.GetID())
	}

	second, err := m.GetOneForUpdateSkipLocked(ctx, "action", map[string]any{"lock": int(domain.LockFree)}, newAction)
	if err != nil || second == nil {
		t.Fatalf("second claim failed: %v %v", second, err)
	}
	if second.GetID() != a2.ID {
		t.Fatalf("expected second claim of a2 (id %d), got %d", a2.ID, second.GetID())
	}

	third, err := m.GetOneForUpdateSkipLocked(ctx, "action", map[string]any{"lock": int(domain.LockFree)}, newAction)
	if err != nil {
		t.Fatalf("third claim errored: %v", err)
	}
	if third != nil {
		t.Fatal("expected no more claimable actions, got one")
	}
}

func TestMemoryAdapterDeleteNotFound(t *testing.T) {
	m := New()
	if err := m.Delete(context.Background(), "machine", 99); err == nil {
		t.Fatal("expected error deleting missing row")
	}
}
