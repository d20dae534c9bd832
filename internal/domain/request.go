package domain

import "time"

// Request is one client intent: deploy, undeploy, start/stop/restart, or
// a snapshot/screenshot operation against a Machine. Its state advances
// created → (delayed*) → terminal and is never written to again once
// terminal.
type Request struct {
	ID         int64        `json:"id"`
	Type       RequestType  `json:"type"`
	State      RequestState `json:"state"`
	Machine    int64        `json:"machine"`
	SubjectID  int64        `json:"subject_id,omitempty"` // Snapshot/Screenshot.ID, when applicable
	ModifiedAt time.Time    `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (r *Request) DocumentType() string { return "request" }

// GetID implements store.Entity.
func (r *Request) GetID() int64 { return r.ID }

// SetID implements store.Entity.
func (r *Request) SetID(id int64) { r.ID = id }
