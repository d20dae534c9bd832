package domain

import "time"

// TemplateRef names a VM the Obtainer observed resident on a host.
type TemplateRef struct {
	Name   string `json:"name"`
	MoRef  string `json:"mo_ref"`
}

// DatastoreRef names a datastore backing a host.
type DatastoreRef struct {
	Name        string  `json:"name"`
	MoRef       string  `json:"mo_ref"`
	Maintenance bool    `json:"maintenance"`
	FreeSpaceGB float64 `json:"free_space_gb"`
}

// HostRuntimeInfo is the cached view of one hypervisor host, refreshed
// by the Host-Info Obtainer and consumed by the Ticket Scheduler.
type HostRuntimeInfo struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	MoRef             string         `json:"mo_ref"`
	Maintenance       bool           `json:"maintenance"`
	ToBeInMaintenance bool           `json:"to_be_in_maintenance"`
	ConnectionState   string         `json:"connection_state"`
	VMsCount          int            `json:"vms_count"`
	VMsRunningCount   int            `json:"vms_running_count"`
	StandbyMode       string         `json:"standby_mode,omitempty"`
	LocalTemplates    []TemplateRef  `json:"local_templates,omitempty"`
	LocalDatastores   []DatastoreRef `json:"local_datastores,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	ModifiedAt        time.Time      `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (h *HostRuntimeInfo) DocumentType() string { return "host_runtime_info" }

// GetID implements store.Entity.
func (h *HostRuntimeInfo) GetID() int64 { return h.ID }

// SetID implements store.Entity.
func (h *HostRuntimeInfo) SetID(id int64) { h.ID = id }

// Ready reports whether the host accepts new deploys: not in
// maintenance now and not scheduled to enter it.
func (h *HostRuntimeInfo) Ready() bool {
	return !h.Maintenance && !h.ToBeInMaintenance
}
