package nodeclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalmesh/fleetup/nodeclient"
)

func testClient(t *testing.T, handler http.Handler) *nodeclient.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conf := nodeclient.DefaultConfig()
	conf.BaseURL = server.URL
	conf.IssueAttempts = 2
	conf.BalanceAttempts = 3
	conf.BalanceInterval = time.Millisecond

	return nodeclient.New(conf)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func okEnvelope(result any) map[string]any {
	return map[string]any{"status": true, "message": "", "result": result}
}

func failEnvelope(message string) map[string]any {
	return map[string]any{"status": false, "message": message, "result": nil}
}

// recorder collects what the handlers saw, behind a lock since handlers run
// in the server's goroutines.
type recorder struct {
	mu     sync.Mutex
	bodies map[string][]json.RawMessage
}

func newRecorder() *recorder {
	return &recorder{bodies: make(map[string][]json.RawMessage)}
}

func (r *recorder) record(path string, req *http.Request) {
	var raw json.RawMessage
	_ = json.NewDecoder(req.Body).Decode(&raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bodies[path] = append(r.bodies[path], raw)
}

func (r *recorder) calls(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.bodies[path])
}

func (r *recorder) last(t *testing.T, path string, into any) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	bodies := r.bodies[path]
	require.NotEmpty(t, bodies, "no recorded call to %s", path)
	require.NoError(t, json.Unmarshal(bodies[len(bodies)-1], into))
}

func TestClient_Ping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/basic-info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)
	require.NoError(t, client.Ping(context.Background()))
}

func TestClient_PingBadStatus(t *testing.T) {
	client := testClient(t, http.NotFoundHandler())

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestClient_CreateDID(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/create-did", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/create-did", r)
		writeJSON(w, okEnvelope(map[string]string{
			"did":     "bafybmi123",
			"peer_id": "12D3KooW9",
		}))
	})

	client := testClient(t, mux)

	identity, err := client.CreateDID(context.Background(), "secret")
	require.NoError(t, err)

	assert.Equal(t, "bafybmi123", identity.DID)
	assert.Equal(t, "12D3KooW9", identity.PeerID)

	var req map[string]string
	rec.last(t, "/api/create-did", &req)
	assert.Equal(t, "secret", req["priv_pwd"])
}

func TestClient_CreateDIDErrors(t *testing.T) {
	tests := map[string]struct {
		response map[string]any
		wantErr  string
	}{
		"Rejected": {
			response: failEnvelope("identity limit reached"),
			wantErr:  "identity limit reached",
		},
		"NoDID": {
			response: okEnvelope(map[string]string{}),
			wantErr:  "response carries no did",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/create-did", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.response)
			})

			client := testClient(t, mux)

			_, err := client.CreateDID(context.Background(), "secret")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var apiErr *nodeclient.APIError
			require.ErrorAs(t, err, &apiErr)
		})
	}
}

func TestClient_RegisterDID_Challenge(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/register-did", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/register-did", r)
		writeJSON(w, map[string]any{
			"status":  true,
			"message": "Password needed",
			"result":  map[string]any{"id": "sig-42", "mode": 7},
		})
	})
	mux.HandleFunc("/api/signature-response", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/signature-response", r)
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)
	require.NoError(t, client.RegisterDID(context.Background(), "bafybmi123", "secret"))

	var confirm map[string]any
	rec.last(t, "/api/signature-response", &confirm)
	assert.Equal(t, "sig-42", confirm["id"])
	assert.Equal(t, float64(7), confirm["mode"])
	assert.Equal(t, "secret", confirm["password"])
}

func TestClient_RegisterDID_NoChallenge(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/register-did", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okEnvelope(nil))
	})
	mux.HandleFunc("/api/signature-response", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/signature-response", r)
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)
	require.NoError(t, client.RegisterDID(context.Background(), "bafybmi123", "secret"))

	assert.Equal(t, 0, rec.calls("/api/signature-response"))
}

func TestClient_RegisterDID_Errors(t *testing.T) {
	tests := map[string]struct {
		register map[string]any
		confirm  map[string]any
		wantErr  string
	}{
		"Rejected": {
			register: failEnvelope("unknown did"),
			wantErr:  "unknown did",
		},
		"ChallengeWithoutID": {
			register: map[string]any{
				"status":  true,
				"message": "Password needed",
				"result":  map[string]any{},
			},
			wantErr: "challenge without id",
		},
		"ConfirmationRejected": {
			register: map[string]any{
				"status":  true,
				"message": "Password needed",
				"result":  map[string]any{"id": "sig-1", "mode": 4},
			},
			confirm: failEnvelope("wrong password"),
			wantErr: "wrong password",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/register-did", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.register)
			})
			mux.HandleFunc("/api/signature-response", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.confirm)
			})

			client := testClient(t, mux)

			err := client.RegisterDID(context.Background(), "bafybmi123", "secret")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_AddQuorum(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/add-quorum", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/add-quorum", r)
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)

	entries := []nodeclient.QuorumEntry{
		{Type: nodeclient.QuorumTypeDID, Address: "bafybmi1"},
		{Type: nodeclient.QuorumTypeDID, Address: "bafybmi2"},
	}

	require.NoError(t, client.AddQuorum(context.Background(), entries))

	var sent []nodeclient.QuorumEntry
	rec.last(t, "/api/add-quorum", &sent)
	assert.Equal(t, entries, sent)
}

func TestClient_SetupQuorum(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/setup-quorum", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/setup-quorum", r)
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)
	require.NoError(t, client.SetupQuorum(context.Background(), "bafybmi1", "pw", "privpw"))

	var req map[string]string
	rec.last(t, "/api/setup-quorum", &req)
	assert.Equal(t, "bafybmi1", req["did"])
	assert.Equal(t, "pw", req["password"])
	assert.Equal(t, "privpw", req["priv_password"])
}

func TestClient_AccountBalance(t *testing.T) {
	tests := map[string]struct {
		response    map[string]any
		wantBalance float64
		wantErr     string
	}{
		"Funded": {
			response: map[string]any{
				"status":  true,
				"message": "",
				"account_info": []map[string]any{
					{"did": "bafybmi1", "balance": 55.5},
				},
			},
			wantBalance: 55.5,
		},
		"NoAccountYet": {
			response: map[string]any{
				"status":       true,
				"message":      "",
				"account_info": []map[string]any{},
			},
			wantBalance: 0,
		},
		"Rejected": {
			response: map[string]any{
				"status":  false,
				"message": "did not found",
			},
			wantErr: "did not found",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/get-account-info", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "bafybmi1", r.URL.Query().Get("did"))
				writeJSON(w, tt.response)
			})

			client := testClient(t, mux)

			balance, err := client.AccountBalance(context.Background(), "bafybmi1")

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, balance)
		})
	}
}

func TestClient_IssueTestTokens(t *testing.T) {
	rec := newRecorder()

	var mu sync.Mutex
	var balanceChecks int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-test-token", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/generate-test-token", r)
		writeJSON(w, okEnvelope(nil))
	})
	mux.HandleFunc("/api/get-account-info", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		balanceChecks++
		funded := balanceChecks >= 2
		mu.Unlock()

		info := []map[string]any{}
		if funded {
			info = append(info, map[string]any{"did": "bafybmi1", "balance": 100.0})
		}

		writeJSON(w, map[string]any{"status": true, "message": "", "account_info": info})
	})

	client := testClient(t, mux)
	require.NoError(t, client.IssueTestTokens(context.Background(), "bafybmi1", 20, "secret"))

	assert.Equal(t, 1, rec.calls("/api/generate-test-token"))

	var req map[string]any
	rec.last(t, "/api/generate-test-token", &req)
	assert.Equal(t, float64(20), req["number_of_tokens"])
	assert.Equal(t, "bafybmi1", req["did"])
}

func TestClient_IssueTestTokens_RetriesRequest(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-test-token", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/generate-test-token", r)

		if rec.calls("/api/generate-test-token") == 1 {
			writeJSON(w, failEnvelope("minting busy"))
			return
		}

		writeJSON(w, okEnvelope(nil))
	})
	mux.HandleFunc("/api/get-account-info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":  true,
			"message": "",
			"account_info": []map[string]any{
				{"did": "bafybmi1", "balance": 100.0},
			},
		})
	})

	client := testClient(t, mux)
	require.NoError(t, client.IssueTestTokens(context.Background(), "bafybmi1", 20, "secret"))

	assert.Equal(t, 2, rec.calls("/api/generate-test-token"))
}

func TestClient_IssueTestTokens_NeverFunded(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-test-token", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/generate-test-token", r)
		writeJSON(w, okEnvelope(nil))
	})
	mux.HandleFunc("/api/get-account-info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": true, "message": "", "account_info": []map[string]any{}})
	})

	client := testClient(t, mux)

	err := client.IssueTestTokens(context.Background(), "bafybmi1", 20, "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account still empty after 2 issuance attempts")
	assert.Equal(t, 2, rec.calls("/api/generate-test-token"))
}

func TestClient_IssueTestTokens_Challenge(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate-test-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":  true,
			"message": "Password needed",
			"result":  map[string]any{"id": "sig-9", "mode": 2},
		})
	})
	mux.HandleFunc("/api/signature-response", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/signature-response", r)
		writeJSON(w, okEnvelope(nil))
	})
	mux.HandleFunc("/api/get-account-info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":  true,
			"message": "",
			"account_info": []map[string]any{
				{"did": "bafybmi1", "balance": 100.0},
			},
		})
	})

	client := testClient(t, mux)
	require.NoError(t, client.IssueTestTokens(context.Background(), "bafybmi1", 20, "secret"))

	require.Equal(t, 1, rec.calls("/api/signature-response"))

	var confirm map[string]any
	rec.last(t, "/api/signature-response", &confirm)
	assert.Equal(t, "sig-9", confirm["id"])
}

func TestClient_Shutdown(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)
	require.NoError(t, client.Shutdown(context.Background()))
}

func TestClient_CancelledContext(t *testing.T) {
	rec := newRecorder()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/create-did", func(w http.ResponseWriter, r *http.Request) {
		rec.record("/api/create-did", r)
		writeJSON(w, okEnvelope(nil))
	})

	client := testClient(t, mux)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CreateDID(ctx, "secret")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rec.calls("/api/create-did"))
}
