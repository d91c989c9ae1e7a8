package fleet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	kitlog "github.com/go-kit/log"
	"gopkg.in/yaml.v3"

	"github.com/opalmesh/fleetup/internal/clock"
)

// Config holds the static policy of a fleet: its on-disk layout, port
// allocation, composition, and the timing of every wait the orchestrator
// performs.
type Config struct {
	// DataDir is the root of the fleet layout: dist/<os> holds the shared
	// node binaries, nodes/<id> the per-node state, nodes.json the metadata.
	DataDir string

	BaseServerPort  int
	BaseControlPort int

	// QuorumSize is the number of consensus nodes, allocated at the lowest
	// indexes. TransactionNodes is the requested number of transaction
	// nodes and must stay within [MinTransactionNodes, MaxTransactionNodes].
	QuorumSize          int
	TransactionNodes    int
	MinTransactionNodes int
	MaxTransactionNodes int

	// TokenCount is how many test tokens are issued per node account.
	TokenCount int

	// Password unlocks the quorum key share, PrivPassword the private key.
	Password     string
	PrivPassword string

	StartupTimeout  time.Duration
	ReadyInterval   time.Duration
	BootGrace       time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	BalanceInterval time.Duration
	BalanceAttempts int
	IssueAttempts   int

	Logger kitlog.Logger
	Clock  clock.Clock
}

// DefaultConfig returns the configuration used by the stock test fleet.
func DefaultConfig() Config {
	return Config{
		DataDir:             "opal-data",
		BaseServerPort:      20000,
		BaseControlPort:     10500,
		QuorumSize:          7,
		TransactionNodes:    2,
		MinTransactionNodes: 2,
		MaxTransactionNodes: 20,
		TokenCount:          100,
		Password:            "mypassword",
		PrivPassword:        "mypassword",
		StartupTimeout:      120 * time.Second,
		ReadyInterval:       2 * time.Second,
		BootGrace:           30 * time.Second,
		RequestTimeout:      60 * time.Second,
		ShutdownTimeout:     2 * time.Second,
		BalanceInterval:     5 * time.Second,
		BalanceAttempts:     10,
		IssueAttempts:       2,
		Logger:              kitlog.NewNopLogger(),
		Clock:               clock.Real(),
	}
}

// Validate checks the parts of the configuration that are commonly
// user-supplied.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory is not set")
	}

	if c.QuorumSize < 1 {
		return errors.New("quorum size must be positive")
	}

	if c.TransactionNodes < c.MinTransactionNodes || c.TransactionNodes > c.MaxTransactionNodes {
		return fmt.Errorf(
			"transaction node count must be between %d and %d, got %d",
			c.MinTransactionNodes, c.MaxTransactionNodes, c.TransactionNodes,
		)
	}

	return nil
}

// MetadataPath is the location of the fleet metadata document.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "nodes.json")
}

// NodesDir is the directory holding the per-node state directories.
func (c *Config) NodesDir() string {
	return filepath.Join(c.DataDir, "nodes")
}

// NodeDir is the state directory of a single node.
func (c *Config) NodeDir(id string) string {
	return filepath.Join(c.NodesDir(), id)
}

// DistDir is the directory the node binaries are staged from.
func (c *Config) DistDir() string {
	return filepath.Join(c.DataDir, "dist", distOS())
}

func distOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "mac"
	default:
		return "linux"
	}
}

// fileConfig is the subset of Config that can be set from the YAML file.
// Timing knobs are flag-only.
type fileConfig struct {
	DataDir          string `yaml:"data_dir"`
	BaseServerPort   int    `yaml:"base_server_port"`
	BaseControlPort  int    `yaml:"base_control_port"`
	QuorumSize       int    `yaml:"quorum_size"`
	TransactionNodes int    `yaml:"transaction_nodes"`
	TokenCount       int    `yaml:"token_count"`
	Password         string `yaml:"password"`
	PrivPassword     string `yaml:"priv_password"`
}

// LoadConfig reads the YAML file at path and overlays the values it sets
// onto the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return conf, fmt.Errorf("parse config: %w", err)
	}

	if fc.DataDir != "" {
		conf.DataDir = fc.DataDir
	}

	if fc.BaseServerPort != 0 {
		conf.BaseServerPort = fc.BaseServerPort
	}

	if fc.BaseControlPort != 0 {
		conf.BaseControlPort = fc.BaseControlPort
	}

	if fc.QuorumSize != 0 {
		conf.QuorumSize = fc.QuorumSize
	}

	if fc.TransactionNodes != 0 {
		conf.TransactionNodes = fc.TransactionNodes
	}

	if fc.TokenCount != 0 {
		conf.TokenCount = fc.TokenCount
	}

	if fc.Password != "" {
		conf.Password = fc.Password
	}

	if fc.PrivPassword != "" {
		conf.PrivPassword = fc.PrivPassword
	}

	return conf, nil
}
