package supervisor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// BootstrapKeyName is the swarm key file every node needs a copy of.
const BootstrapKeyName = "bootstrap.key"

// NodeBinaryName is the platform name of the node binary.
func NodeBinaryName() string {
	if runtime.GOOS == "windows" {
		return "opalnode.exe"
	}

	return "opalnode"
}

// RelayBinaryName is the platform name of the relay daemon the node spawns.
func RelayBinaryName() string {
	if runtime.GOOS == "windows" {
		return "relayd.exe"
	}

	return "relayd"
}

func distFiles() []string {
	return []string{
		NodeBinaryName(),
		RelayBinaryName(),
		BootstrapKeyName,
	}
}

// base carries the parts of the supervisor that do not depend on how
// processes are launched: staging the distribution files into node
// directories and checking they are all in place.
type base struct {
	distDir string
	logger  kitlog.Logger
}

func (b *base) CheckDist() error {
	for _, name := range distFiles() {
		path := filepath.Join(b.distDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("distribution file missing: %s", path)
		}
	}

	return nil
}

func (b *base) Prepare(node Node) error {
	if err := os.MkdirAll(node.Dir, 0o755); err != nil {
		return fmt.Errorf("create node directory: %w", err)
	}

	for _, name := range distFiles() {
		if err := b.stageFile(name, node.Dir); err != nil {
			return err
		}
	}

	return nil
}

func (b *base) Verify(node Node) error {
	if _, err := os.Stat(node.Dir); err != nil {
		return fmt.Errorf("node directory missing: %s", node.Dir)
	}

	for _, name := range distFiles() {
		path := filepath.Join(node.Dir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("node file missing: %s", path)
		}
	}

	return nil
}

func (b *base) stageFile(name, dir string) error {
	dst := filepath.Join(dir, name)

	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	src := filepath.Join(b.distDir, name)

	level.Debug(b.logger).Log("msg", "staging file", "file", name, "dir", dir)

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode(name))
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", name, err)
	}

	return out.Close()
}

// fileMode keeps the binaries executable. Windows does not care, and the
// key file never needs the bit.
func fileMode(name string) os.FileMode {
	if name == BootstrapKeyName || runtime.GOOS == "windows" {
		return 0o644
	}

	return 0o755
}
