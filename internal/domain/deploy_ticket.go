package domain

import "time"

// SeparatorHostMoref marks a sentinel DeployTicket row used to demarcate
// ticket generations during a Ticket Scheduler rebalance.
const SeparatorHostMoref = "SEPARATOR"

// DeployTicket is a reservation for one deploy slot on a specific host.
type DeployTicket struct {
	ID              int64     `json:"id"`
	HostMoref       string    `json:"host_moref"`
	AssignedVMMoref string    `json:"assigned_vm_moref,omitempty"`
	Enabled         bool      `json:"enabled"`
	Taken           int       `json:"taken"` // 0 or 1, kept as an int to match the on-disk encoding
	CreatedAt       time.Time `json:"created_at"`
	ModifiedAt      time.Time `json:"modified_at"`
}

// DocumentType implements store.Entity.
func (t *DeployTicket) DocumentType() string { return "deploy_ticket" }

// GetID implements store.Entity.
func (t *DeployTicket) GetID() int64 { return t.ID }

// SetID implements store.Entity.
func (t *DeployTicket) SetID(id int64) { t.ID = id }

// IsSeparator reports whether this is a generation-marker row rather
// than a real slot reservation.
func (t *DeployTicket) IsSeparator() bool { return t.HostMoref == SeparatorHostMoref }

// Available reports whether a deploy worker may claim this ticket.
func (t *DeployTicket) Available() bool { return t.Enabled && t.Taken == 0 }

// Bind marks the ticket taken by a freshly produced VM.
func (t *DeployTicket) Bind(vmMoref string) {
	t.Taken = 1
	t.AssignedVMMoref = vmMoref
}

// Release returns the ticket to the free pool, the transition that
// happens on VM undeploy, stop, or deploy failure.
func (t *DeployTicket) Release() {
	t.Taken = 0
	t.AssignedVMMoref = ""
}
