package fleet

import (
	"context"
	"fmt"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/opalmesh/fleetup/internal/clock"
	"github.com/opalmesh/fleetup/internal/multierror"
	"github.com/opalmesh/fleetup/nodeclient"
	"github.com/opalmesh/fleetup/supervisor"
)

// NodeClient is the control surface of a single node, as the orchestrator
// sees it. *nodeclient.Client satisfies it.
type NodeClient interface {
	Ping(ctx context.Context) error
	CreateDID(ctx context.Context, privPassword string) (nodeclient.Identity, error)
	RegisterDID(ctx context.Context, did, privPassword string) error
	AddQuorum(ctx context.Context, entries []nodeclient.QuorumEntry) error
	SetupQuorum(ctx context.Context, did, password, privPassword string) error
	IssueTestTokens(ctx context.Context, did string, count int, privPassword string) error
	Shutdown(ctx context.Context) error
}

// ClientFunc returns the control client for the given node.
type ClientFunc func(node *NodeRecord) NodeClient

// Probes holds the readiness probes for the two bring-up modes.
type Probes struct {
	Fresh  ProbeFunc
	Resume ProbeFunc
}

// Orchestrator drives the multi-phase bring-up of a node fleet, from
// process launch to a funded, quorum-enabled test network.
type Orchestrator struct {
	conf    Config
	logger  kitlog.Logger
	clock   clock.Clock
	store   *Store
	sup     supervisor.Supervisor
	clients ClientFunc
	probes  Probes
}

// NewOrchestrator creates an orchestrator over the given seams.
func NewOrchestrator(
	conf Config,
	store *Store,
	sup supervisor.Supervisor,
	clients ClientFunc,
	probes Probes,
) *Orchestrator {
	return &Orchestrator{
		conf:    conf,
		logger:  conf.Logger,
		clock:   conf.Clock,
		store:   store,
		sup:     sup,
		clients: clients,
		probes:  probes,
	}
}

// UpOptions adjusts a single bring-up run.
type UpOptions struct {
	// Fresh wipes any previous fleet state and provisions from scratch.
	Fresh bool

	// TransactionNodes overrides the configured number of transaction
	// nodes for this run. Zero keeps the configured value.
	TransactionNodes int
}

// Up brings the fleet up. With Fresh set, leftovers of any previous fleet
// are wiped and a new one is provisioned. Otherwise a previous fleet is
// resumed when its metadata exists, and a first-time provisioning happens
// when it does not.
func (o *Orchestrator) Up(ctx context.Context, opts UpOptions) (*Summary, error) {
	conf := o.conf
	if opts.TransactionNodes > 0 {
		conf.TransactionNodes = opts.TransactionNodes
	}

	var (
		plan *Plan
		err  error
	)

	switch {
	case opts.Fresh:
		plan, err = FreshPlan(conf, o.store, o.probes.Fresh, true)
	case !o.store.Exists():
		plan, err = FreshPlan(conf, o.store, o.probes.Fresh, false)
	default:
		plan, err = ResumePlan(conf, o.store, o.probes.Resume)
	}

	if err != nil {
		return nil, err
	}

	return o.Run(ctx, plan)
}

// Run executes the bring-up phases over the plan's active nodes. Process
// startup and identity creation abort the run on the first failure, since
// nothing useful can be built on a partial quorum. The remaining phases are
// best effort: failures are counted per node and reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Summary, error) {
	summary := newSummary(plan.Mode)

	level.Info(o.logger).Log(
		"msg", "bringing fleet up",
		"mode", plan.Mode,
		"active", len(plan.Active),
		"total", len(plan.Nodes),
	)

	if err := o.startNodes(ctx, plan, summary); err != nil {
		return summary, err
	}

	if err := o.establishIdentities(ctx, plan, summary); err != nil {
		return summary, err
	}

	if err := o.registerIdentities(ctx, plan, summary); err != nil {
		return summary, err
	}

	quorum := o.quorumList(plan)

	if err := o.distributeQuorum(ctx, plan, quorum, summary); err != nil {
		return summary, err
	}

	if err := o.activateQuorum(ctx, plan, summary); err != nil {
		return summary, err
	}

	if err := o.issueAssets(ctx, plan, summary); err != nil {
		return summary, err
	}

	o.persist(plan, summary)

	summary.Log(o.logger)

	if summary.Ok() {
		level.Info(o.logger).Log("msg", "fleet is up")
	} else {
		level.Warn(o.logger).Log("msg", "fleet is up with partial failures")
	}

	return summary, nil
}

// startNodes launches every active node and waits for it to become ready.
// A node that cannot start aborts the whole run: the network is useless
// without its full quorum, and later phases would only pile up failures.
func (o *Orchestrator) startNodes(ctx context.Context, plan *Plan, summary *Summary) error {
	started := 0
	defer func() {
		summary.add(PhaseStarted, started, len(plan.Active))
	}()

	if plan.Mode == ModeFresh {
		if err := o.sup.CheckDist(); err != nil {
			return err
		}
	} else {
		for _, node := range plan.Active {
			if err := o.sup.Verify(o.supNode(node)); err != nil {
				return fmt.Errorf("node %s: %w", node.ID, err)
			}
		}
	}

	for _, node := range plan.Active {
		if err := ctx.Err(); err != nil {
			return err
		}

		sn := o.supNode(node)

		if plan.Mode == ModeFresh {
			if err := o.sup.Prepare(sn); err != nil {
				return fmt.Errorf("prepare %s: %w", node.ID, err)
			}
		}

		level.Info(o.logger).Log(
			"msg", "starting node",
			"node", node.ID,
			"role", node.Role,
			"port", node.ServerPort,
		)

		if err := o.sup.Start(ctx, sn); err != nil {
			return fmt.Errorf("start %s: %w", node.ID, err)
		}

		if err := o.clock.Sleep(ctx, o.conf.BootGrace); err != nil {
			return err
		}

		if err := plan.Probe(ctx, node); err != nil {
			return fmt.Errorf("node %s did not become ready: %w", node.ID, err)
		}

		node.Status = StatusRunning
		started++
	}

	return nil
}

// establishIdentities creates a DID on every fresh node. On resume the
// identities travel in the metadata and the phase only accounts for them.
func (o *Orchestrator) establishIdentities(ctx context.Context, plan *Plan, summary *Summary) error {
	if plan.Mode != ModeFresh {
		present := 0

		for _, node := range plan.Active {
			if node.HasIdentity() {
				present++
			}
		}

		summary.add(PhaseIdentitiesCreated, present, len(plan.Active))

		return nil
	}

	created := 0
	defer func() {
		summary.add(PhaseIdentitiesCreated, created, len(plan.Active))
	}()

	for _, node := range plan.Active {
		if err := ctx.Err(); err != nil {
			return err
		}

		if node.HasIdentity() {
			created++
			continue
		}

		identity, err := o.clients(node).CreateDID(ctx, o.conf.PrivPassword)
		if err != nil {
			return fmt.Errorf("create identity for %s: %w", node.ID, err)
		}

		node.DID = identity.DID
		node.PeerID = identity.PeerID
		created++

		level.Info(o.logger).Log("msg", "identity created", "node", node.ID, "did", abbrev(node.DID))
	}

	return nil
}

func (o *Orchestrator) registerIdentities(ctx context.Context, plan *Plan, summary *Summary) error {
	me := multierror.New[string]()
	total := 0

	for _, node := range plan.Active {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !node.HasIdentity() {
			level.Warn(o.logger).Log("msg", "node has no identity, skipping registration", "node", node.ID)
			continue
		}

		total++

		if err := o.clients(node).RegisterDID(ctx, node.DID, o.conf.PrivPassword); err != nil {
			level.Error(o.logger).Log("msg", "identity registration failed", "node", node.ID, "err", err)
			me.Add(node.ID, err)

			continue
		}

		level.Debug(o.logger).Log("msg", "identity registered", "node", node.ID, "did", abbrev(node.DID))
	}

	summary.add(PhaseRegistered, total-me.Len(), total)

	return nil
}

// quorumList collects the quorum members from the active records. The list
// is computed once and every node receives the same copy.
func (o *Orchestrator) quorumList(plan *Plan) []nodeclient.QuorumEntry {
	entries := make([]nodeclient.QuorumEntry, 0, o.conf.QuorumSize)

	for _, node := range plan.Active {
		if node.Role == RoleQuorum && node.HasIdentity() {
			entries = append(entries, nodeclient.QuorumEntry{
				Type:    nodeclient.QuorumTypeDID,
				Address: node.DID,
			})
		}
	}

	return entries
}

func (o *Orchestrator) distributeQuorum(
	ctx context.Context,
	plan *Plan,
	quorum []nodeclient.QuorumEntry,
	summary *Summary,
) error {
	level.Info(o.logger).Log("msg", "distributing quorum list", "members", len(quorum))

	me := multierror.New[string]()

	for _, node := range plan.Active {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.clients(node).AddQuorum(ctx, quorum); err != nil {
			level.Error(o.logger).Log("msg", "quorum distribution failed", "node", node.ID, "err", err)
			me.Add(node.ID, err)
		}
	}

	summary.add(PhaseQuorumDistributed, len(plan.Active)-me.Len(), len(plan.Active))

	return nil
}

func (o *Orchestrator) activateQuorum(ctx context.Context, plan *Plan, summary *Summary) error {
	me := multierror.New[string]()
	total := 0

	for _, node := range plan.Active {
		if node.Role != RoleQuorum || !node.HasIdentity() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		total++

		if err := o.clients(node).SetupQuorum(ctx, node.DID, o.conf.Password, o.conf.PrivPassword); err != nil {
			level.Error(o.logger).Log("msg", "quorum setup failed", "node", node.ID, "err", err)
			me.Add(node.ID, err)

			continue
		}

		level.Debug(o.logger).Log("msg", "quorum member activated", "node", node.ID)
	}

	summary.add(PhaseQuorumActivated, total-me.Len(), total)

	return nil
}

func (o *Orchestrator) issueAssets(ctx context.Context, plan *Plan, summary *Summary) error {
	me := multierror.New[string]()
	total := 0

	for _, node := range plan.Active {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !node.HasIdentity() {
			level.Warn(o.logger).Log("msg", "node has no identity, skipping issuance", "node", node.ID)
			continue
		}

		total++

		level.Info(o.logger).Log(
			"msg", "issuing test tokens",
			"node", node.ID,
			"count", o.conf.TokenCount,
		)

		if err := o.clients(node).IssueTestTokens(ctx, node.DID, o.conf.TokenCount, o.conf.PrivPassword); err != nil {
			level.Error(o.logger).Log("msg", "token issuance failed", "node", node.ID, "err", err)
			me.Add(node.ID, err)
		}
	}

	summary.add(PhaseAssetsIssued, total-me.Len(), total)

	return nil
}

// persist writes the full record set back to disk. The fleet itself is up
// at this point, so a failed write costs a future resume, not the current
// run, and is reported as a warning rather than an error.
func (o *Orchestrator) persist(plan *Plan, summary *Summary) {
	nodes := make(map[string]*NodeRecord, len(plan.Nodes))
	for _, node := range plan.Nodes {
		nodes[node.ID] = node
	}

	if err := o.store.Save(nodes); err != nil {
		level.Warn(o.logger).Log("msg", "failed to persist fleet metadata", "err", err)
		summary.add(PhasePersisted, 0, 1)

		return
	}

	level.Info(o.logger).Log("msg", "fleet metadata persisted", "path", o.store.Path())
	summary.add(PhasePersisted, 1, 1)
}

// Down stops every node known to the metadata: a graceful shutdown request
// bounded by ShutdownTimeout, then the process session is killed. Records
// are marked stopped and written back.
func (o *Orchestrator) Down(ctx context.Context) error {
	records, err := o.store.Load()
	if err != nil {
		return err
	}

	nodes := RecordList(records)
	level.Info(o.logger).Log("msg", "stopping fleet", "nodes", len(nodes))

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.stopNode(ctx, node)
		node.Status = StatusStopped
	}

	if err := o.store.Save(records); err != nil {
		return err
	}

	level.Info(o.logger).Log("msg", "fleet stopped")

	return nil
}

// stopNode asks the node to exit on its own, but only waits so long before
// killing the process session. The graceful request is abandoned rather
// than cancelled when it takes too long.
func (o *Orchestrator) stopNode(ctx context.Context, node *NodeRecord) {
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := o.clients(node).Shutdown(ctx); err != nil {
			level.Debug(o.logger).Log("msg", "graceful shutdown failed", "node", node.ID, "err", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(o.conf.ShutdownTimeout):
		level.Debug(o.logger).Log("msg", "graceful shutdown timed out", "node", node.ID)
	}

	if err := o.sup.Stop(ctx, o.supNode(node)); err != nil {
		level.Warn(o.logger).Log("msg", "failed to stop node process", "node", node.ID, "err", err)
		return
	}

	level.Info(o.logger).Log("msg", "node stopped", "node", node.ID)
}

// NodeHealth pairs a record with the result of a liveness probe.
type NodeHealth struct {
	Record    *NodeRecord
	Reachable bool
}

// Health loads the fleet records and pings each node's control surface.
// Records are not mutated.
func (o *Orchestrator) Health(ctx context.Context) ([]NodeHealth, error) {
	records, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	nodes := RecordList(records)
	health := make([]NodeHealth, 0, len(nodes))

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := o.clients(node).Ping(ctx)

		health = append(health, NodeHealth{
			Record:    node,
			Reachable: err == nil,
		})
	}

	return health, nil
}

func (o *Orchestrator) supNode(node *NodeRecord) supervisor.Node {
	return supervisor.Node{
		ID:          node.ID,
		Index:       node.Index,
		ServerPort:  node.ServerPort,
		ControlPort: node.ControlPort,
		Dir:         o.conf.NodeDir(node.ID),
	}
}

func abbrev(did string) string {
	if len(did) > 16 {
		return did[:16] + "..."
	}

	return did
}
