package supervisor

import (
	"context"
	"os"
	"runtime"
	"strconv"

	kitlog "github.com/go-kit/log"
)

// Node identifies a node process to the supervisor: where its state lives
// and the ports its command line needs.
type Node struct {
	ID          string
	Index       int
	ServerPort  int
	ControlPort int
	Dir         string
}

// Supervisor manages node processes as detached sessions that outlive the
// orchestrator process.
type Supervisor interface {
	// CheckDist verifies the shared distribution directory holds
	// everything Prepare stages.
	CheckDist() error

	// Prepare creates the node directory and stages the binaries and the
	// bootstrap key into it. Files staged earlier are left alone.
	Prepare(node Node) error

	// Verify checks that a previously prepared node directory is complete.
	Verify(node Node) error

	// Start launches the node process detached from the current one.
	Start(ctx context.Context, node Node) error

	// Stop kills the node's process session. Stopping a node that is
	// already gone is not an error.
	Stop(ctx context.Context, node Node) error

	// Running reports whether the node's session is alive.
	Running(ctx context.Context, node Node) (bool, error)
}

// Config holds the supervisor's construction parameters.
type Config struct {
	DistDir string
	Logger  kitlog.Logger
}

// New returns the supervisor for the current platform: tmux sessions on
// unix-like systems, detached console windows on Windows.
func New(conf Config) Supervisor {
	if runtime.GOOS == "windows" {
		return newConsole(conf)
	}

	return newTmux(conf)
}

// launchArgs is the node binary's command line for running as a fleet
// member: single-node mode on the test network with per-node ports.
func launchArgs(node Node) []string {
	return []string{
		"run",
		"-p", node.ID,
		"-n", strconv.Itoa(node.Index),
		"-s",
		"-port", strconv.Itoa(node.ServerPort),
		"-testNet",
		"-ctlPort", strconv.Itoa(node.ControlPort),
	}
}

// nodeEnv is the process environment a node runs with.
func nodeEnv(node Node) []string {
	return append(os.Environ(),
		"OPAL_NODE_DIR="+node.Dir,
		"OPAL_NODE_ID="+node.ID,
	)
}
