package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"
)

// Console runs each node in its own console window launched through a
// generated batch file. That is as close to a detached session as Windows
// gets without a service manager, and it leaves a window the operator can
// watch.
type Console struct {
	base
}

func newConsole(conf Config) *Console {
	return &Console{
		base: base{
			distDir: conf.DistDir,
			logger:  conf.Logger,
		},
	}
}

func windowTitle(node Node) string {
	return fmt.Sprintf("Opal Node %s - Port %d", node.ID, node.ServerPort)
}

func (c *Console) Start(ctx context.Context, node Node) error {
	batch, err := c.writeLaunchScript(node)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "cmd", "/c", "start", "", batch)
	cmd.Env = nodeEnv(node)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("start console window: %w", err)
	}

	level.Debug(c.logger).Log("msg", "console window started", "node", node.ID)

	return nil
}

func (c *Console) Stop(ctx context.Context, node Node) error {
	filter := fmt.Sprintf("WINDOWTITLE eq %s*", windowTitle(node))

	cmd := exec.CommandContext(ctx, "taskkill", "/F", "/FI", filter)

	if err := cmd.Run(); err != nil {
		// taskkill exits nonzero when no window matched the filter
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}

		return fmt.Errorf("taskkill: %w", err)
	}

	return nil
}

func (c *Console) Running(ctx context.Context, node Node) (bool, error) {
	filter := fmt.Sprintf("WINDOWTITLE eq %s*", windowTitle(node))

	cmd := exec.CommandContext(ctx, "tasklist", "/FI", filter)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("tasklist: %w", err)
	}

	return strings.Contains(string(out), "cmd.exe"), nil
}

// writeLaunchScript generates the batch file a node's window runs. It sets
// the window title Stop and Running filter on, moves into the node
// directory, and refuses to start if any staged file went missing.
func (c *Console) writeLaunchScript(node Node) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "@echo off\r\n")
	fmt.Fprintf(&sb, "title %s\r\n", windowTitle(node))
	fmt.Fprintf(&sb, "cd /d \"%s\"\r\n", node.Dir)

	for _, name := range distFiles() {
		fmt.Fprintf(&sb, "if not exist \"%s\" exit /b 1\r\n", name)
	}

	fmt.Fprintf(&sb, "\"%s\" %s\r\n", NodeBinaryName(), strings.Join(launchArgs(node), " "))

	// the script lives next to the nodes directory, not inside the node
	// directory, so a wipe of the node state does not race the running
	// window
	path := filepath.Join(filepath.Dir(filepath.Dir(node.Dir)), "launch_"+node.ID+".bat")

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("write launch script: %w", err)
	}

	return path, nil
}
