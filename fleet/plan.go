package fleet

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kit/log/level"
)

// Mode tells how a bring-up run was initiated.
type Mode uint8

const (
	// ModeFresh provisions a brand new fleet from scratch.
	ModeFresh Mode = iota + 1

	// ModeResume restarts a previously provisioned fleet from its metadata.
	ModeResume
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFresh:
		return "fresh"
	case ModeResume:
		return "resume"
	default:
		return ""
	}
}

// ProbeFunc blocks until the node is ready to accept control requests, the
// configured timeout expires, or the context is cancelled.
type ProbeFunc func(ctx context.Context, node *NodeRecord) error

// Plan is the initial state a bring-up run starts from. It carries the full
// record set, the subset the run operates on, and the readiness probe suited
// to the mode: a fresh fleet is polled over HTTP, a resumed one through the
// node binary's own CLI.
type Plan struct {
	Mode   Mode
	Nodes  []*NodeRecord
	Active []*NodeRecord
	Probe  ProbeFunc
}

// FreshPlan provisions records for a brand new fleet. The full record set is
// always created regardless of the requested transaction node count, so that
// later resumes have the complete fleet to select their subset from. When
// wipe is set, leftovers of a previous fleet are removed first.
func FreshPlan(conf Config, store *Store, probe ProbeFunc, wipe bool) (*Plan, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if wipe {
		level.Info(conf.Logger).Log("msg", "removing previous fleet data", "dir", conf.DataDir)

		if err := store.Remove(); err != nil {
			return nil, err
		}

		if err := os.RemoveAll(conf.NodesDir()); err != nil {
			return nil, fmt.Errorf("remove node dirs: %w", err)
		}
	}

	total := conf.QuorumSize + conf.MaxTransactionNodes

	nodes := make([]*NodeRecord, 0, total)
	for i := 0; i < total; i++ {
		nodes = append(nodes, NewNodeRecord(i, conf))
	}

	// A fresh run brings up every node, so that each one ends up with an
	// identity and a funded account before any subset is chosen.
	return &Plan{
		Mode:   ModeFresh,
		Nodes:  nodes,
		Active: nodes,
		Probe:  probe,
	}, nil
}

// ResumePlan loads the fleet metadata and selects the subset to restart: all
// quorum nodes plus the first TransactionNodes transaction nodes by index.
// Unselected records are carried along untouched.
func ResumePlan(conf Config, store *Store, probe ProbeFunc) (*Plan, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	records, err := store.Load()
	if err != nil {
		return nil, err
	}

	nodes := RecordList(records)

	withIdentity := 0
	for _, node := range nodes {
		if node.HasIdentity() {
			withIdentity++
		}
	}

	if withIdentity == 0 {
		return nil, fmt.Errorf("metadata holds no node identities, run a fresh provisioning first")
	}

	if withIdentity < len(nodes) {
		level.Warn(conf.Logger).Log(
			"msg", "some nodes have no identity and will be skipped in identity-bound phases",
			"with_identity", withIdentity,
			"total", len(nodes),
		)
	}

	active := make([]*NodeRecord, 0, len(nodes))
	transactional := 0

	for _, node := range nodes {
		switch {
		case node.Role == RoleQuorum:
			active = append(active, node)
		case transactional < conf.TransactionNodes:
			active = append(active, node)
			transactional++
		}
	}

	level.Info(conf.Logger).Log(
		"msg", "selected active subset from metadata",
		"quorum", len(active)-transactional,
		"transaction", transactional,
		"total", len(nodes),
	)

	return &Plan{
		Mode:   ModeResume,
		Nodes:  nodes,
		Active: active,
		Probe:  probe,
	}, nil
}
