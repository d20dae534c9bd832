package store

import (
	"context"
	"time"

	"github.com/avast/labmanager-unit-vsphere/internal/db"
	"github.com/avast/labmanager-unit-vsphere/internal/domain"
)

// Snapshots is the typed repository for domain.Snapshot.
type Snapshots struct{ docs DocAdapter }

func NewSnapshots(exec db.Executor) *Snapshots { return NewSnapshotsWithAdapter(NewDocuments(exec)) }

// NewSnapshotsWithAdapter wires a Snapshots repository to an arbitrary
// DocAdapter (the pgx-backed Documents, or an in-memory fake in tests).
func NewSnapshotsWithAdapter(docs DocAdapter) *Snapshots { return &Snapshots{docs: docs} }

func newSnapshot() domain.Entity { return &domain.Snapshot{} }

func (s *Snapshots) Save(ctx context.Context, snap *domain.Snapshot) error {
	snap.ModifiedAt = time.Now().UTC()
	return s.docs.Save(ctx, snap)
}

func (s *Snapshots) GetForUpdate(ctx context.Context, id int64) (*domain.Snapshot, error) {
	e, err := s.docs.GetOneForUpdate(ctx, "snapshot", Filter{"_id": id}, newSnapshot)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Snapshot), nil
}

func (s *Snapshots) Get(ctx context.Context, id int64) (*domain.Snapshot, error) {
	e, err := s.docs.GetOne(ctx, "snapshot", Filter{"_id": id}, newSnapshot)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Snapshot), nil
}

// Screenshots is the typed repository for domain.Screenshot.
type Screenshots struct{ docs DocAdapter }

func NewScreenshots(exec db.Executor) *Screenshots { return NewScreenshotsWithAdapter(NewDocuments(exec)) }

// NewScreenshotsWithAdapter wires a Screenshots repository to an
// arbitrary DocAdapter (the pgx-backed Documents, or an in-memory fake in
// tests).
func NewScreenshotsWithAdapter(docs DocAdapter) *Screenshots { return &Screenshots{docs: docs} }

func newScreenshot() domain.Entity { return &domain.Screenshot{} }

func (s *Screenshots) Save(ctx context.Context, shot *domain.Screenshot) error {
	shot.ModifiedAt = time.Now().UTC()
	return s.docs.Save(ctx, shot)
}

func (s *Screenshots) GetForUpdate(ctx context.Context, id int64) (*domain.Screenshot, error) {
	e, err := s.docs.GetOneForUpdate(ctx, "screenshot", Filter{"_id": id}, newScreenshot)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Screenshot), nil
}

func (s *Screenshots) Get(ctx context.Context, id int64) (*domain.Screenshot, error) {
	e, err := s.docs.GetOne(ctx, "screenshot", Filter{"_id": id}, newScreenshot)
	if err != nil {
		return nil, err
	}
	return e.(*domain.Screenshot), nil
}
