package fleet

import (
	"fmt"
)

// Role determines what part a node plays in the fleet.
type Role uint8

const (
	// RoleQuorum nodes form the consensus quorum.
	RoleQuorum Role = iota + 1

	// RoleTransaction nodes only hold accounts and submit transactions.
	RoleTransaction
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleQuorum:
		return "quorum"
	case RoleTransaction:
		return "transaction"
	default:
		return ""
	}
}

// Status is the lifecycle state of a node process.
type Status uint8

const (
	// StatusProvisioned is a node that has a record but was never started.
	StatusProvisioned Status = iota + 1

	// StatusRunning is a node whose process was started and probed ready.
	StatusRunning

	// StatusStopped is a node that has been shut down.
	StatusStopped
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusProvisioned:
		return "provisioned"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return ""
	}
}

// NodeRecord describes a single node of the fleet. Ports and role are
// derived from the index and never change once the record is created.
type NodeRecord struct {
	ID          string
	Index       int
	ServerPort  int
	ControlPort int
	DID         string
	PeerID      string
	Role        Role
	Status      Status
}

// NewNodeRecord creates the record for the node with the given index. The
// first QuorumSize indexes become quorum nodes, the rest transaction nodes.
func NewNodeRecord(index int, conf Config) *NodeRecord {
	role := RoleTransaction
	if index < conf.QuorumSize {
		role = RoleQuorum
	}

	return &NodeRecord{
		ID:          fmt.Sprintf("node%d", index),
		Index:       index,
		ServerPort:  conf.BaseServerPort + index,
		ControlPort: conf.BaseControlPort + index,
		Role:        role,
		Status:      StatusProvisioned,
	}
}

// HasIdentity returns true once a DID has been established for the node.
func (n *NodeRecord) HasIdentity() bool {
	return n.DID != ""
}

// BaseURL is the address of the node's HTTP control surface.
func (n *NodeRecord) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", n.ServerPort)
}
