package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/opalmesh/fleetup/internal/clock"
)

// challengeMessage is the sentinel a node sends when an operation needs a
// signature confirmation before it is executed.
const challengeMessage = "Password needed"

// QuorumTypeDID is the quorum entry type for DID-addressed members.
const QuorumTypeDID = 2

// QuorumEntry is one member of the quorum list, in the shape nodes expect.
type QuorumEntry struct {
	Type    int    `json:"type"`
	Address string `json:"address"`
}

// Identity is the outcome of establishing a DID on a node.
type Identity struct {
	DID    string
	PeerID string
}

// APIError is a request the node accepted over HTTP but rejected at the
// application level.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: node rejected the request", e.Op)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Config holds the connection and issuance-verification parameters of a
// single node client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	IssueAttempts   int
	BalanceAttempts int
	BalanceInterval time.Duration
	Logger          kitlog.Logger
	Clock           clock.Clock
}

// DefaultConfig returns the parameters used by the stock test fleet.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		IssueAttempts:   2,
		BalanceAttempts: 10,
		BalanceInterval: 5 * time.Second,
		Logger:          kitlog.NewNopLogger(),
		Clock:           clock.Real(),
	}
}

// Client talks to the HTTP control surface of a single node. Every response
// arrives in a common envelope; a response with status false is returned as
// an APIError.
//
// Methods consult the context between requests and between balance polls. A
// request already on the wire is bounded by the configured timeout instead
// of the context, so cancelling a run never cuts an operation off halfway.
type Client struct {
	baseURL string
	conf    Config
	logger  kitlog.Logger
	clock   clock.Clock
	http    *http.Client
}

// New creates a client for the node at conf.BaseURL.
func New(conf Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		conf:    conf,
		logger:  conf.Logger,
		clock:   conf.Clock,
		http:    &http.Client{Timeout: conf.Timeout},
	}
}

// envelope is the common response wrapper of the node API.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// challenge is the payload a node attaches to the signature sentinel.
type challenge struct {
	ID   string `json:"id"`
	Mode int    `json:"mode"`
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	data, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s %s: parse response: %w", method, path, err)
	}

	return &env, nil
}

// answerChallenge completes the password confirmation a node may demand
// before executing a signed operation. Responses that carry no challenge
// pass through unchanged; the caller checks the final envelope.
func (c *Client) answerChallenge(ctx context.Context, op string, env *envelope, password string) (*envelope, error) {
	if !env.Status || env.Message != challengeMessage {
		return env, nil
	}

	var ch challenge
	if err := json.Unmarshal(env.Result, &ch); err != nil {
		return nil, fmt.Errorf("%s: parse challenge: %w", op, err)
	}

	if ch.ID == "" {
		return nil, &APIError{Op: op, Message: "challenge without id"}
	}

	level.Debug(c.logger).Log("msg", "answering signature confirmation", "op", op, "mode", ch.Mode)

	return c.do(ctx, http.MethodPost, "/api/signature-response", map[string]any{
		"id":       ch.ID,
		"mode":     ch.Mode,
		"password": password,
	})
}

// Ping checks that the node's control surface is answering.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRaw(ctx, http.MethodGet, "/api/basic-info", nil)
	return err
}

// CreateDID establishes a new identity on the node, with the private key
// protected by privPassword.
func (c *Client) CreateDID(ctx context.Context, privPassword string) (Identity, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/create-did", map[string]string{
		"priv_pwd": privPassword,
	})
	if err != nil {
		return Identity{}, err
	}

	if !env.Status {
		return Identity{}, &APIError{Op: "create-did", Message: env.Message}
	}

	var result struct {
		DID    string `json:"did"`
		PeerID string `json:"peer_id"`
	}

	if err := json.Unmarshal(env.Result, &result); err != nil {
		return Identity{}, fmt.Errorf("create-did: parse result: %w", err)
	}

	if result.DID == "" {
		return Identity{}, &APIError{Op: "create-did", Message: "response carries no did"}
	}

	return Identity{DID: result.DID, PeerID: result.PeerID}, nil
}

// RegisterDID announces the identity to the network. The node usually asks
// for a signature confirmation before executing it.
func (c *Client) RegisterDID(ctx context.Context, did, privPassword string) error {
	env, err := c.do(ctx, http.MethodPost, "/api/register-did", map[string]string{
		"did": did,
	})
	if err != nil {
		return err
	}

	if env, err = c.answerChallenge(ctx, "register-did", env, privPassword); err != nil {
		return err
	}

	if !env.Status {
		return &APIError{Op: "register-did", Message: env.Message}
	}

	return nil
}

// AddQuorum hands the node the list of quorum members to use for consensus.
// Nodes accept the same list repeatedly, so the call is safe to repeat.
func (c *Client) AddQuorum(ctx context.Context, entries []QuorumEntry) error {
	env, err := c.do(ctx, http.MethodPost, "/api/add-quorum", entries)
	if err != nil {
		return err
	}

	if !env.Status {
		return &APIError{Op: "add-quorum", Message: env.Message}
	}

	return nil
}

// SetupQuorum unlocks the node's quorum key share so it can take part in
// consensus. Only meaningful on quorum nodes.
func (c *Client) SetupQuorum(ctx context.Context, did, password, privPassword string) error {
	env, err := c.do(ctx, http.MethodPost, "/api/setup-quorum", map[string]string{
		"did":           did,
		"password":      password,
		"priv_password": privPassword,
	})
	if err != nil {
		return err
	}

	if !env.Status {
		return &APIError{Op: "setup-quorum", Message: env.Message}
	}

	return nil
}

// AccountBalance returns the token balance of the given account.
func (c *Client) AccountBalance(ctx context.Context, did string) (float64, error) {
	data, err := c.doRaw(ctx, http.MethodGet, "/api/get-account-info?did="+url.QueryEscape(did), nil)
	if err != nil {
		return 0, err
	}

	// account_info sits next to the envelope fields, not inside result.
	var resp struct {
		Status      bool   `json:"status"`
		Message     string `json:"message"`
		AccountInfo []struct {
			DID     string  `json:"did"`
			Balance float64 `json:"balance"`
		} `json:"account_info"`
	}

	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("get-account-info: parse response: %w", err)
	}

	if !resp.Status {
		return 0, &APIError{Op: "get-account-info", Message: resp.Message}
	}

	if len(resp.AccountInfo) == 0 {
		return 0, nil
	}

	return resp.AccountInfo[0].Balance, nil
}

// IssueTestTokens requests count test tokens for the account and waits for
// them to materialize. Issuance is asynchronous on the node side, so the
// only reliable signal is the balance going above zero; the balance is
// polled a fixed number of times per attempt, and the whole issuance is
// retried when it never does.
func (c *Client) IssueTestTokens(ctx context.Context, did string, count int, privPassword string) error {
	for attempt := 1; attempt <= c.conf.IssueAttempts; attempt++ {
		if attempt > 1 {
			level.Info(c.logger).Log("msg", "retrying token issuance", "attempt", attempt)
		}

		if err := c.requestTokens(ctx, did, count, privPassword); err != nil {
			if ctx.Err() != nil {
				return err
			}

			level.Warn(c.logger).Log("msg", "token issuance request failed", "attempt", attempt, "err", err)

			continue
		}

		funded, err := c.waitForBalance(ctx, did)
		if err != nil {
			return err
		}

		if funded {
			return nil
		}
	}

	return fmt.Errorf("account still empty after %d issuance attempts", c.conf.IssueAttempts)
}

func (c *Client) requestTokens(ctx context.Context, did string, count int, privPassword string) error {
	env, err := c.do(ctx, http.MethodPost, "/api/generate-test-token", map[string]any{
		"number_of_tokens": count,
		"did":              did,
	})
	if err != nil {
		return err
	}

	if env, err = c.answerChallenge(ctx, "generate-test-token", env, privPassword); err != nil {
		return err
	}

	if !env.Status {
		return &APIError{Op: "generate-test-token", Message: env.Message}
	}

	return nil
}

// waitForBalance polls the account until tokens show up. Failed balance
// reads count as polls, since a node busy minting often answers late.
func (c *Client) waitForBalance(ctx context.Context, did string) (bool, error) {
	for check := 1; check <= c.conf.BalanceAttempts; check++ {
		if err := c.clock.Sleep(ctx, c.conf.BalanceInterval); err != nil {
			return false, err
		}

		balance, err := c.AccountBalance(ctx, did)
		if err != nil {
			level.Debug(c.logger).Log("msg", "balance check failed", "check", check, "err", err)
			continue
		}

		level.Debug(c.logger).Log("msg", "balance check", "check", check, "balance", balance)

		if balance > 0 {
			return true, nil
		}
	}

	return false, nil
}

// Shutdown asks the node to exit gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	env, err := c.do(ctx, http.MethodPost, "/api/shutdown", nil)
	if err != nil {
		return err
	}

	if !env.Status {
		return &APIError{Op: "shutdown", Message: env.Message}
	}

	return nil
}
