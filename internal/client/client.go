// Package client is the synchronous caller-facing surface the CLI and
// benchmarks use: it finds (or spawns) the daemon for a repo via the
// lock-file discovery protocol, then issues envelope-wrapped commands
// over the Unix socket using newline-framed JSON-RPC 2.0.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/leonletto/grit/internal/config"
	"github.com/leonletto/grit/internal/daemon"
	"github.com/leonletto/grit/internal/daemon/rpc"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/paths"
)

// spawnWait bounds how long Connect waits for a freshly spawned daemon's
// socket to appear.
const spawnWait = 5 * time.Second

// rpcConn is one newline-framed JSON-RPC 2.0 connection to the daemon.
type rpcConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	nextID uint64
}

func dial(socketPath string) (*rpcConn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &rpcConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		nextID: 1,
	}, nil
}

func (c *rpcConn) close() error {
	return c.conn.Close()
}

// call sends one request line and reads one response line.
func (c *rpcConn) call(method string, params any) (json.RawMessage, error) {
	request := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID,
	}
	c.nextID++

	requestJSON, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.writer.Write(requestJSON); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return nil, fmt.Errorf("write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush request: %w", err)
	}

	responseLine, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data"`
		} `json:"error"`
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(responseLine, &response); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

// Client wraps one connection to the daemon serving a repo.
type Client struct {
	RepoRoot string
	Actor    identity.ID

	rpc *rpcConn
}

// Connect resolves the repo's daemon — spawning one when the lock file
// is stale or absent — and returns a connected client acting as the
// resolved actor.
func Connect(repoRoot string) (*Client, error) {
	gritDir, err := paths.GritDir(repoRoot)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(gritDir); err != nil {
		return nil, giterrors.Wrap(giterrors.ErrNotARepo, fmt.Errorf("no grit state at %s (run 'grit init')", gritDir))
	}
	actor, err := config.ResolveActor(gritDir)
	if err != nil {
		return nil, err
	}

	socketPath := paths.SocketPath(gritDir)
	conn, err := dialOrSpawn(repoRoot, gritDir, socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{RepoRoot: repoRoot, Actor: actor, rpc: conn}, nil
}

// Close releases the socket connection.
func (c *Client) Close() error {
	if c.rpc == nil {
		return nil
	}
	return c.rpc.close()
}

func dialOrSpawn(repoRoot, gritDir, socketPath string) (*rpcConn, error) {
	if conn, err := dial(socketPath); err == nil {
		return conn, nil
	}

	// No live socket. Check the discovery record: a healthy daemon
	// renews its lease every few seconds, so a dead PID or an expired
	// lease means we may take over and spawn a replacement.
	pidPath := paths.DaemonPIDPath(gritDir)
	running, info, _ := daemon.CheckPIDFile(pidPath)
	if running && info.LeaseValid() {
		// The daemon claims to be alive but its socket refused us;
		// give it one more grace period before failing.
		return pollSocket(socketPath, spawnWait)
	}

	if err := spawnDaemon(repoRoot); err != nil {
		return nil, err
	}
	return pollSocket(socketPath, spawnWait)
}

// spawnDaemon starts a detached `grit daemon` process for repoRoot.
func spawnDaemon(repoRoot string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate grit binary: %w", err)
	}
	cmd := exec.Command(exe, "daemon", "--repo", repoRoot) //nolint:gosec // G204: own binary, fixed args
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	// Detach: the daemon manages its own lifetime via the lock file.
	return cmd.Process.Release()
}

func pollSocket(socketPath string, timeout time.Duration) (*rpcConn, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := dial(socketPath)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, giterrors.Wrap(giterrors.ErrTimeout, fmt.Errorf("daemon socket %s never came up", socketPath))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Call sends one command and unwraps the response envelope. An envelope
// with ok=false becomes a Go error carrying the taxonomy code.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	raw, err := c.rpc.call(method, params)
	if err != nil {
		return nil, giterrors.Io("ipc call", err)
	}
	var env rpc.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, giterrors.Serde("response envelope", err)
	}
	if !env.OK {
		code, msg := "Io", "daemon error"
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		return nil, &EnvelopeError{Code: code, Message: msg}
	}
	return env.Data, nil
}

// EnvelopeError is a daemon-side failure surfaced through the response
// envelope, keeping its taxonomy code intact across the socket.
type EnvelopeError struct {
	Code    string
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// target builds the routing header every worker-bound command carries.
func (c *Client) target() rpc.Target {
	return rpc.Target{RepoRoot: c.RepoRoot, ActorID: c.Actor.String()}
}
