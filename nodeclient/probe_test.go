package nodeclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalmesh/fleetup/internal/clock"
	"github.com/opalmesh/fleetup/nodeclient"
)

func httpProbe(t *testing.T, handler http.Handler, timeout time.Duration) *nodeclient.HTTPProbe {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conf := nodeclient.DefaultConfig()
	conf.BaseURL = server.URL

	return &nodeclient.HTTPProbe{
		Client:   nodeclient.New(conf),
		Interval: time.Millisecond,
		Timeout:  timeout,
		Clock:    clock.Real(),
		Logger:   kitlog.NewNopLogger(),
	}
}

func TestHTTPProbe_WaitReady(t *testing.T) {
	var mu sync.Mutex
	var pings int

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pings++
		ready := pings >= 3
		mu.Unlock()

		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	})

	probe := httpProbe(t, handler, 5*time.Second)
	require.NoError(t, probe.WaitReady(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, pings, 3)
}

func TestHTTPProbe_Timeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	probe := httpProbe(t, handler, 20*time.Millisecond)

	err := probe.WaitReady(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no answer within")
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestHTTPProbe_Cancelled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	probe := httpProbe(t, handler, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := probe.WaitReady(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func writeNodeStub(t *testing.T, dir, script string) {
	t.Helper()

	path := filepath.Join(dir, "opalnode")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

func cliProbe(dir string, timeout time.Duration) *nodeclient.CLIProbe {
	return &nodeclient.CLIProbe{
		Binary:   "./opalnode",
		Dir:      dir,
		Port:     20003,
		Interval: time.Millisecond,
		Timeout:  timeout,
		Clock:    clock.Real(),
		Logger:   kitlog.NewNopLogger(),
	}
}

func TestCLIProbe_WaitReady(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub script needs a unix shell")
	}

	dir := t.TempDir()

	// The stub fails once before answering, the way a resumed node does
	// while it is still loading its ledger.
	writeNodeStub(t, dir, strings.Join([]string{
		"#!/bin/sh",
		`echo "$@" > args.txt`,
		"if [ -f warmed.flag ]; then",
		`    echo "Got all DID : [bafybmi123]"`,
		"    exit 0",
		"fi",
		"touch warmed.flag",
		`echo "waiting for peers"`,
		"exit 1",
		"",
	}, "\n"))

	probe := cliProbe(dir, 5*time.Second)
	require.NoError(t, probe.WaitReady(context.Background()))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "listdid -port 20003", strings.TrimSpace(string(args)))
}

func TestCLIProbe_NeverReady(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub script needs a unix shell")
	}

	tests := map[string]struct {
		script string
	}{
		"ExitsNonZero": {
			script: "#!/bin/sh\necho \"connection refused\"\nexit 1\n",
		},
		"NoReadyMarker": {
			script: "#!/bin/sh\necho \"no identities yet\"\nexit 0\n",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeNodeStub(t, dir, tt.script)

			probe := cliProbe(dir, 20*time.Millisecond)

			err := probe.WaitReady(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "listdid kept failing")
		})
	}
}

func TestCLIProbe_MissingBinary(t *testing.T) {
	probe := cliProbe(t.TempDir(), 20*time.Millisecond)

	err := probe.WaitReady(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listdid kept failing")
}
