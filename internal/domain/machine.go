package domain

import "time"

// Machine is a logical VM tracked across its hypervisor lifecycle.
type Machine struct {
	ID                int64          `json:"id"`
	State             MachineState   `json:"state"`
	ProviderID        string         `json:"provider_id,omitempty"`    // hypervisor-issued VM uuid
	MachineMoref      string         `json:"machine_moref,omitempty"`  // hypervisor managed-object reference
	MachineName       string         `json:"machine_name,omitempty"`   // hypervisor-visible VM name
	MachineSearchLink string         `json:"machine_search_link,omitempty"`
	Labels            []string       `json:"labels,omitempty"`
	Requests          []int64        `json:"requests,omitempty"` // ordered Request.IDs, owned
	IPAddresses       []string       `json:"ip_addresses,omitempty"`
	NosID             string         `json:"nos_id,omitempty"`
	Owner             string         `json:"owner,omitempty"`
	Snapshots         []int64        `json:"snapshots,omitempty"`  // owned Snapshot.IDs
	Screenshots       []int64        `json:"screenshots,omitempty"` // owned Screenshot.IDs
	ModifiedAt        time.Time      `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (m *Machine) DocumentType() string { return "machine" }

// GetID implements store.Entity.
func (m *Machine) GetID() int64 { return m.ID }

// SetID implements store.Entity.
func (m *Machine) SetID(id int64) { m.ID = id }

// Label returns the value of the first "key:value" label matching key,
// and whether one was found. Used to resolve template: labels.
func (m *Machine) Label(key string) (string, bool) {
	prefix := key + ":"
	for _, l := range m.Labels {
		if len(l) > len(prefix) && l[:len(prefix)] == prefix {
			return l[len(prefix):], true
		}
	}
	return "", false
}

// HasLabel reports whether an exact label (no value, e.g. "feat:running")
// is present.
func (m *Machine) HasLabel(label string) bool {
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AttachRequest appends a Request id, maintaining Machine's ownership of
// its request history.
func (m *Machine) AttachRequest(requestID int64) {
	m.Requests = append(m.Requests, requestID)
}

// AttachSnapshot appends a Snapshot id on successful take_snapshot.
func (m *Machine) AttachSnapshot(id int64) {
	m.Snapshots = append(m.Snapshots, id)
}

// DetachSnapshot removes a Snapshot id on successful delete_snapshot.
func (m *Machine) DetachSnapshot(id int64) {
	m.Snapshots = removeID(m.Snapshots, id)
}

// AttachScreenshot appends a Screenshot id when capture is enqueued.
func (m *Machine) AttachScreenshot(id int64) {
	m.Screenshots = append(m.Screenshots, id)
}

func removeID(ids []int64, target int64) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
