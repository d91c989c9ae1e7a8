package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/opalmesh/fleetup/internal/generic"
)

// ErrNoMetadata is returned by Load when no metadata document exists, which
// means no fleet has been provisioned in this data directory yet.
var ErrNoMetadata = errors.New("no fleet metadata")

// Store persists the fleet metadata as a single JSON document keyed by node
// id. Writes go through a temporary file in the same directory followed by a
// rename, so a crash never leaves a half-written document behind.
type Store struct {
	path   string
	logger kitlog.Logger
}

// NewStore creates a store bound to the given document path.
func NewStore(path string, logger kitlog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the location of the metadata document.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a metadata document is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes the full record set to disk, replacing the previous document.
func (s *Store) Save(nodes map[string]*NodeRecord) error {
	records := make(map[string]fileRecord, len(nodes))
	for id, node := range nodes {
		records[id] = toFileRecord(node)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}

	level.Debug(s.logger).Log("msg", "metadata saved", "path", s.path, "nodes", len(nodes))

	return nil
}

// Load reads and validates the metadata document. A missing document yields
// ErrNoMetadata; a document that exists but holds no records is an error,
// since it means the previous provisioning never got anywhere.
func (s *Store) Load() (map[string]*NodeRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoMetadata
	} else if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var records map[string]fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("metadata document %s holds no node records", s.path)
	}

	ids := generic.MapKeys(records)
	generic.SortSlice(ids)

	nodes := make(map[string]*NodeRecord, len(records))

	for _, id := range ids {
		node, err := fromFileRecord(records[id])
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}

		if node.ID != id {
			return nil, fmt.Errorf("node %s: record carries id %q", id, node.ID)
		}

		nodes[id] = node
	}

	return nodes, nil
}

// Remove deletes the metadata document. Removing an absent document is not
// an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove metadata: %w", err)
	}

	return nil
}

// RecordList returns the records ordered by node index.
func RecordList(nodes map[string]*NodeRecord) []*NodeRecord {
	list := generic.MapValues(nodes)
	generic.SortSliceBy(list, func(n *NodeRecord) int { return n.Index })

	return list
}

// fileRecord is the on-disk shape of a node record.
type fileRecord struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	ServerPort  int    `json:"server_port"`
	ControlPort int    `json:"control_port"`
	DID         string `json:"did"`
	PeerID      string `json:"peer_id"`
	IsQuorum    bool   `json:"is_quorum"`
	Status      string `json:"status"`
}

func toFileRecord(node *NodeRecord) fileRecord {
	return fileRecord{
		ID:          node.ID,
		Index:       node.Index,
		ServerPort:  node.ServerPort,
		ControlPort: node.ControlPort,
		DID:         node.DID,
		PeerID:      node.PeerID,
		IsQuorum:    node.Role == RoleQuorum,
		Status:      node.Status.String(),
	}
}

func fromFileRecord(rec fileRecord) (*NodeRecord, error) {
	if rec.ID == "" {
		return nil, errors.New("record has no id")
	}

	if rec.Index < 0 {
		return nil, fmt.Errorf("invalid index %d", rec.Index)
	}

	if rec.ServerPort <= 0 || rec.ControlPort <= 0 {
		return nil, fmt.Errorf("invalid ports %d/%d", rec.ServerPort, rec.ControlPort)
	}

	status, err := statusFromString(rec.Status)
	if err != nil {
		return nil, err
	}

	role := RoleTransaction
	if rec.IsQuorum {
		role = RoleQuorum
	}

	return &NodeRecord{
		ID:          rec.ID,
		Index:       rec.Index,
		ServerPort:  rec.ServerPort,
		ControlPort: rec.ControlPort,
		DID:         rec.DID,
		PeerID:      rec.PeerID,
		Role:        role,
		Status:      status,
	}, nil
}

func statusFromString(s string) (Status, error) {
	switch s {
	case "provisioned":
		return StatusProvisioned, nil
	case "running":
		return StatusRunning, nil
	case "stopped":
		return StatusStopped, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}
