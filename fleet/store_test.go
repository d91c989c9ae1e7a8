package fleet_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalmesh/fleetup/fleet"
)

func testStore(t *testing.T) *fleet.Store {
	t.Helper()
	return fleet.NewStore(filepath.Join(t.TempDir(), "nodes.json"), kitlog.NewNopLogger())
}

func testRecords() map[string]*fleet.NodeRecord {
	conf := fleet.DefaultConfig()

	n0 := fleet.NewNodeRecord(0, conf)
	n0.DID = "bafybmiabc"
	n0.PeerID = "12D3KooWabc"
	n0.Status = fleet.StatusRunning

	n9 := fleet.NewNodeRecord(9, conf)

	return map[string]*fleet.NodeRecord{
		n0.ID: n0,
		n9.ID: n9,
	}
}

func TestStore_SaveLoad(t *testing.T) {
	store := testStore(t)

	require.False(t, store.Exists())
	require.NoError(t, store.Save(testRecords()))
	require.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	node := loaded["node0"]
	require.NotNil(t, node)
	assert.Equal(t, "bafybmiabc", node.DID)
	assert.Equal(t, "12D3KooWabc", node.PeerID)
	assert.Equal(t, fleet.RoleQuorum, node.Role)
	assert.Equal(t, fleet.StatusRunning, node.Status)

	node = loaded["node9"]
	require.NotNil(t, node)
	assert.Equal(t, fleet.RoleTransaction, node.Role)
	assert.Equal(t, fleet.StatusProvisioned, node.Status)
	assert.False(t, node.HasIdentity())
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save(testRecords()))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(store.Path()), "*.tmp*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_LoadMissing(t *testing.T) {
	store := testStore(t)

	_, err := store.Load()
	require.ErrorIs(t, err, fleet.ErrNoMetadata)
}

func TestStore_LoadEmptyDocument(t *testing.T) {
	store := testStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{}"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no node records")
	assert.False(t, errors.Is(err, fleet.ErrNoMetadata))
}

func TestStore_LoadInvalidRecord(t *testing.T) {
	tests := map[string]struct {
		document string
		wantErr  string
	}{
		"BadStatus": {
			document: `{"node0": {"id": "node0", "index": 0, "server_port": 20000,
				"control_port": 10500, "status": "exploded"}}`,
			wantErr: "unknown status",
		},
		"NoID": {
			document: `{"node0": {"index": 0, "server_port": 20000,
				"control_port": 10500, "status": "running"}}`,
			wantErr: "record has no id",
		},
		"BadPorts": {
			document: `{"node0": {"id": "node0", "index": 0, "server_port": 0,
				"control_port": 10500, "status": "running"}}`,
			wantErr: "invalid ports",
		},
		"IDMismatch": {
			document: `{"nodeX": {"id": "node0", "index": 0, "server_port": 20000,
				"control_port": 10500, "status": "running"}}`,
			wantErr: `record carries id "node0"`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			store := testStore(t)
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.document), 0o644))

			_, err := store.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStore_Remove(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Save(testRecords()))

	require.NoError(t, store.Remove())
	assert.False(t, store.Exists())

	// removing an absent document is fine
	require.NoError(t, store.Remove())
}

func TestRecordList(t *testing.T) {
	conf := fleet.DefaultConfig()

	nodes := map[string]*fleet.NodeRecord{}
	for _, i := range []int{11, 2, 0, 5} {
		node := fleet.NewNodeRecord(i, conf)
		nodes[node.ID] = node
	}

	list := fleet.RecordList(nodes)

	ids := make([]string, len(list))
	for i, node := range list {
		ids[i] = node.ID
	}

	assert.Equal(t, []string{"node0", "node2", "node5", "node11"}, ids)
}
