package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-kit/log/level"
)

// Tmux runs each node inside a detached tmux session named after the node,
// so an operator can attach to any node's console while the fleet is up.
type Tmux struct {
	base
}

func newTmux(conf Config) *Tmux {
	return &Tmux{
		base: base{
			distDir: conf.DistDir,
			logger:  conf.Logger,
		},
	}
}

// SessionName is the tmux session a node runs in.
func SessionName(id string) string {
	return "opal-node-" + id
}

func (t *Tmux) Start(ctx context.Context, node Node) error {
	command := fmt.Sprintf(
		"cd %s && ./%s %s",
		node.Dir, NodeBinaryName(), strings.Join(launchArgs(node), " "),
	)

	cmd := exec.CommandContext(ctx, "tmux", "new-session", "-d", "-s", SessionName(node.ID), command)
	cmd.Env = nodeEnv(node)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session: %w: %s", err, strings.TrimSpace(string(out)))
	}

	level.Debug(t.logger).Log("msg", "session started", "session", SessionName(node.ID))

	return nil
}

func (t *Tmux) Stop(ctx context.Context, node Node) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", SessionName(node.ID))

	if out, err := cmd.CombinedOutput(); err != nil {
		if sessionGone(string(out)) {
			return nil
		}

		return fmt.Errorf("tmux kill-session: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}

func (t *Tmux) Running(ctx context.Context, node Node) (bool, error) {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", SessionName(node.ID))

	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	// has-session exits nonzero when the session does not exist
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}

	return false, fmt.Errorf("tmux has-session: %w", err)
}

// sessionGone matches the tmux errors that mean the session is already dead.
func sessionGone(out string) bool {
	out = strings.ToLower(out)

	return strings.Contains(out, "no such session") ||
		strings.Contains(out, "can't find session") ||
		strings.Contains(out, "no server running")
}
