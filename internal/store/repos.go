package store

import "github.com/avast/labmanager-unit-vsphere/internal/db"

// Repos bundles every typed repository over one db.Executor. Construct a
// fresh Repos inside each db.WithTx callback so every repository shares
// the same transaction scope.
type Repos struct {
	Requests    *Requests
	Actions     *Actions
	Machines    *Machines
	Tickets     *Tickets
	HostInfos   *HostInfos
	Snapshots   *Snapshots
	Screenshots *Screenshots
}

// NewRepos wires every typed repository to exec (a db.Database or a
// db.Tx obtained from db.WithTx).
func NewRepos(exec db.Executor) *Repos {
	return NewReposWithAdapter(NewDocuments(exec))
}

// NewReposWithAdapter wires every typed repository to an arbitrary
// DocAdapter, letting tests build a full Repos over an in-memory fake
// without a live Postgres connection.
func NewReposWithAdapter(docs DocAdapter) *Repos {
	return &Repos{
		Requests:    NewRequestsWithAdapter(docs),
		Actions:     NewActionsWithAdapter(docs),
		Machines:    NewMachinesWithAdapter(docs),
		Tickets:     NewTicketsWithAdapter(docs),
		HostInfos:   NewHostInfosWithAdapter(docs),
		Snapshots:   NewSnapshotsWithAdapter(docs),
		Screenshots: NewScreenshotsWithAdapter(docs),
	}
}
