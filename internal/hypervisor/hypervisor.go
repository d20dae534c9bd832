// Package hypervisor defines the contract between the core and the
// virtualization backend that actually deploys and controls machines.
// It is an external-collaborator boundary: the core never reasons about
// vSphere/ESXi internals, only about the operations in Adapter.
package hypervisor

import (
	"context"
	"errors"
)

// Sentinel errors a deploy call can surface. Callers branch on these with
// errors.Is; an Adapter implementation is free to wrap them with detail.
var (
	ErrTemplateMissing = errors.New("hypervisor: template missing")
	ErrCloneFailed     = errors.New("hypervisor: clone failed")
	ErrNoNosID         = errors.New("hypervisor: deployed machine reported no nos_id")
	ErrNotFound        = errors.New("hypervisor: object not found")
)

// PowerState mirrors the subset of vSphere power states the core acts on.
type PowerState string

const (
	PowerOn  PowerState = "poweredOn"
	PowerOff PowerState = "poweredOff"
)

// MachineInfo is the result of Adapter.GetMachineInfo.
type MachineInfo struct {
	IPAddresses       []string
	NosID             string
	MachineName       string
	MachineSearchLink string
	MoRef             string
	PowerState        PowerState
}

// HostView is one entry returned by Adapter.GetHostsInFolder, consumed by
// the host-info obtainer.
type HostView struct {
	Name            string
	MoRef           string
	Maintenance     bool
	VMsCount        int
	VMsRunningCount int
	ConnectionState string
	StandbyMode     bool
	LocalTemplates  []string
	LocalDatastores []string
}

// Ticket is the host-pinned deploy slot the Adapter binds a produced VM
// to when deploying via DeployViaTicket. It carries only what the
// adapter needs to pick a host; ticket bookkeeping itself lives in the
// store/ticketing packages.
type Ticket struct {
	ID        int64
	HostMoRef string
}

// Adapter is the external-collaborator contract the Deploy Worker, Ops
// Worker, and Host-Info Obtainer consume. Every call is assumed
// idempotent when re-issued against an already-converged state, and
// implementations are expected to retry transient failures internally;
// a returned error is treated by the core as permanent.
type Adapter interface {
	// Deploy clones template into a new machine named machineName,
	// optionally placed in inventoryFolder, and returns its uuid.
	// runningHint selects linked-clone (false) or instant-clone (true)
	// strategy when the adapter is configured to honor it.
	Deploy(ctx context.Context, template, machineName string, runningHint bool, inventoryFolder string) (uuid string, err error)

	// DeployViaTicket deploys template pinned to ticket's host and
	// returns the produced uuid and vSphere moref.
	DeployViaTicket(ctx context.Context, template, machineName string, ticket Ticket) (uuid, moRef string, err error)

	// ConfigNetwork attaches the named network interface to uuid.
	ConfigNetwork(ctx context.Context, uuid, interfaceName string) error

	Start(ctx context.Context, uuid string) error
	Stop(ctx context.Context, uuid string) error
	Undeploy(ctx context.Context, uuid string) error
	Reset(ctx context.Context, uuid string) error

	GetMachineInfo(ctx context.Context, uuid string) (MachineInfo, error)

	TakeSnapshot(ctx context.Context, uuid, name string) (bool, error)
	RevertSnapshot(ctx context.Context, uuid, name string) (bool, error)
	RemoveSnapshot(ctx context.Context, uuid, name string) (bool, error)

	// TakeScreenshot returns the image bytes, or (nil, url, nil) when
	// storeTo routes the capture to an external URL instead of inline
	// bytes.
	TakeScreenshot(ctx context.Context, uuid, storeTo string) ([]byte, string, error)

	GetHostsInFolder(ctx context.Context, folder string) ([]HostView, error)

	// Idle is the periodic keep-alive call a worker issues after sitting
	// idle past its idle-counter threshold, to keep the underlying
	// hypervisor session alive.
	Idle(ctx context.Context) error
}
