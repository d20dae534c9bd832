package domain

import "time"

// Snapshot is a subject record referenced by take_snapshot /
// restore_snapshot / delete_snapshot Requests.
type Snapshot struct {
	ID         int64          `json:"id"`
	Machine    int64          `json:"machine"`
	Name       string         `json:"name"`
	Status     SnapshotStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (s *Snapshot) DocumentType() string { return "snapshot" }

// GetID implements store.Entity.
func (s *Snapshot) GetID() int64 { return s.ID }

// SetID implements store.Entity.
func (s *Snapshot) SetID(id int64) { s.ID = id }
