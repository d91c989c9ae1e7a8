package nodeclient

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/opalmesh/fleetup/internal/clock"
)

// HTTPProbe polls the node's control surface until it answers. Used for
// freshly launched nodes, whose HTTP listener is the first thing to come up.
type HTTPProbe struct {
	Client   *Client
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   kitlog.Logger
}

// WaitReady blocks until the node answers, the timeout expires, or the
// context is cancelled.
func (p *HTTPProbe) WaitReady(ctx context.Context) error {
	deadline := p.Clock.Now().Add(p.Timeout)

	for {
		err := p.Client.Ping(ctx)
		if err == nil {
			return nil
		}

		level.Debug(p.Logger).Log("msg", "node not answering yet", "err", err)

		if p.Clock.Now().After(deadline) {
			return fmt.Errorf("no answer within %s: %w", p.Timeout, err)
		}

		if err := p.Clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}

// cliAttemptTimeout bounds a single listdid invocation so a wedged node
// binary cannot stall the poll loop.
const cliAttemptTimeout = 10 * time.Second

// readyMarkers are the output fragments that indicate the node's data path
// is serving.
var readyMarkers = []string{"Got all DID", "Address :"}

// CLIProbe checks readiness by running the node binary's listdid command
// inside the node directory. Unlike an HTTP ping, this exercises the node's
// own data path, which matters when resuming nodes with existing state: the
// listener accepts connections long before the ledger is usable.
type CLIProbe struct {
	// Binary is the path to the node binary, Dir the node's directory.
	Binary   string
	Dir      string
	Port     int
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   kitlog.Logger
}

// WaitReady blocks until a listdid invocation succeeds, the timeout
// expires, or the context is cancelled.
func (p *CLIProbe) WaitReady(ctx context.Context) error {
	deadline := p.Clock.Now().Add(p.Timeout)

	for {
		if p.attempt(ctx) {
			return nil
		}

		if p.Clock.Now().After(deadline) {
			return fmt.Errorf("listdid kept failing for %s", p.Timeout)
		}

		if err := p.Clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}

func (p *CLIProbe) attempt(ctx context.Context) bool {
	actx, cancel := context.WithTimeout(ctx, cliAttemptTimeout)
	defer cancel()

	cmd := exec.CommandContext(actx, p.Binary, "listdid", "-port", strconv.Itoa(p.Port))
	cmd.Dir = p.Dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		level.Debug(p.Logger).Log("msg", "listdid attempt failed", "err", err)
		return false
	}

	text := string(out)
	for _, marker := range readyMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	level.Debug(p.Logger).Log("msg", "listdid gave no ready marker")

	return false
}
