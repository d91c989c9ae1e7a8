package main

import (
	"context"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/opalmesh/fleetup/fleet"
	"github.com/opalmesh/fleetup/nodeclient"
	"github.com/opalmesh/fleetup/supervisor"
)

func setupLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then flags, each layer overriding the previous one.
func loadConfig(logger kitlog.Logger) (fleet.Config, error) {
	conf := fleet.DefaultConfig()

	if opts.Config != "" {
		loaded, err := fleet.LoadConfig(opts.Config)
		if err != nil {
			return conf, err
		}

		conf = loaded
	}

	if opts.Fleet.Data != "" {
		conf.DataDir = opts.Fleet.Data
	}

	if opts.Fleet.Transactions != 0 {
		conf.TransactionNodes = opts.Fleet.Transactions
	}

	if opts.Fleet.Quorum != 0 {
		conf.QuorumSize = opts.Fleet.Quorum
	}

	if opts.Fleet.Tokens != 0 {
		conf.TokenCount = opts.Fleet.Tokens
	}

	conf.Logger = logger

	return conf, nil
}

func setupFleet(conf fleet.Config) *fleet.Orchestrator {
	store := fleet.NewStore(conf.MetadataPath(), conf.Logger)

	sup := supervisor.New(supervisor.Config{
		DistDir: conf.DistDir(),
		Logger:  conf.Logger,
	})

	return fleet.NewOrchestrator(conf, store, sup, nodeClients(conf), setupProbes(conf))
}

// nodeClients builds the per-node control client factory. Connection and
// issuance-verification timing comes from the fleet configuration.
func nodeClients(conf fleet.Config) fleet.ClientFunc {
	return func(node *fleet.NodeRecord) fleet.NodeClient {
		cc := nodeclient.DefaultConfig()
		cc.BaseURL = node.BaseURL()
		cc.Timeout = conf.RequestTimeout
		cc.IssueAttempts = conf.IssueAttempts
		cc.BalanceAttempts = conf.BalanceAttempts
		cc.BalanceInterval = conf.BalanceInterval
		cc.Logger = kitlog.With(conf.Logger, "node", node.ID)
		cc.Clock = conf.Clock

		return nodeclient.New(cc)
	}
}

// setupProbes builds the readiness probes. Fresh nodes are polled over
// HTTP. Resumed nodes carry existing ledger state and are probed through
// the node binary's own CLI, which does not answer until that state is
// actually serving.
func setupProbes(conf fleet.Config) fleet.Probes {
	return fleet.Probes{
		Fresh: func(ctx context.Context, node *fleet.NodeRecord) error {
			cc := nodeclient.DefaultConfig()
			cc.BaseURL = node.BaseURL()
			cc.Timeout = conf.ReadyInterval
			cc.Logger = conf.Logger
			cc.Clock = conf.Clock

			probe := &nodeclient.HTTPProbe{
				Client:   nodeclient.New(cc),
				Interval: conf.ReadyInterval,
				Timeout:  conf.StartupTimeout,
				Clock:    conf.Clock,
				Logger:   kitlog.With(conf.Logger, "node", node.ID),
			}

			return probe.WaitReady(ctx)
		},

		Resume: func(ctx context.Context, node *fleet.NodeRecord) error {
			probe := &nodeclient.CLIProbe{
				Binary:   "./" + supervisor.NodeBinaryName(),
				Dir:      conf.NodeDir(node.ID),
				Port:     node.ServerPort,
				Interval: conf.ReadyInterval,
				Timeout:  conf.StartupTimeout,
				Clock:    conf.Clock,
				Logger:   kitlog.With(conf.Logger, "node", node.ID),
			}

			return probe.WaitReady(ctx)
		},
	}
}
