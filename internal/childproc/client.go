// Package childproc owns one child MCP server subprocess: spawning it,
// framing its stdio, and correlating outbound requests with the responses
// that eventually come back on its stdout.
package childproc

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/config"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/framing"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/wrapperrors"
)

// localIDPrefix tags every id this package generates for its own
// initialize/tools-list fan-out requests, keeping that id space disjoint
// from parent ids forwarded verbatim through Request's forward=true path.
const localIDPrefix = "agg-"

// pendingCall tracks one outstanding request awaiting the child's response.
type pendingCall struct {
	method string
	result chan callResult
}

type callResult struct {
	result json.RawMessage
	rpcErr *jsonrpc.Error
	err    error
}

// MessageHandler is invoked for every decoded child message that is not a
// response claimed by this client's own pending map: notifications, and
// responses to requests the aggregator forwarded verbatim (forward=true).
type MessageHandler func(msg *jsonrpc.Message)

// ExitHandler is invoked once, from the read loop's exit path, when the
// child's stdout closes or the subprocess otherwise stops.
type ExitHandler func(c *Client, err error)

// Client is a running handle to one child subprocess.
type Client struct {
	Spec config.ChildSpec

	log *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *framing.Decoder
	enc    *framing.Encoder
	cancel context.CancelFunc

	onMessage MessageHandler
	onExit    ExitHandler

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	closeOnce sync.Once

	exitCode int
}

// New constructs a Client for spec, without spawning it yet.
func New(spec config.ChildSpec, log *slog.Logger, onMessage MessageHandler, onExit ExitHandler) *Client {
	return &Client{
		Spec:      spec,
		log:       log.With("component", "child", "child", spec.Name),
		onMessage: onMessage,
		onExit:    onExit,
		pending:   make(map[string]*pendingCall),
		exitCode:  -1,
	}
}

// Start spawns the child subprocess and launches its read loop. The
// subprocess is tied to ctx: cancelling ctx reaps it the same way the host
// process's own shutdown does.
func (c *Client) Start(ctx context.Context) error {
	childCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	//nolint:gosec // G204: spawning a configured MCP server command is the entire point of this client.
	cmd := exec.CommandContext(childCtx, c.Spec.Command, c.Spec.Args...)
	cmd.Env = buildEnv(c.Spec.Env)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return &wrapperrors.SpawnError{Command: c.Spec.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return &wrapperrors.SpawnError{Command: c.Spec.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return &wrapperrors.SpawnError{Command: c.Spec.Command, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.dec = framing.NewDecoder(stdout)
	c.enc = framing.NewEncoder(stdin)

	c.log.Info("child started", "pid", cmd.Process.Pid, "command", c.Spec.Command)

	go c.readLoop()

	return nil
}

// Attach builds a Client bound to an already-connected framed
// stdin/stdout pair instead of spawning a subprocess, for in-process
// children (demos, tests) that speak the same wire protocol over an
// io.Pipe rather than a real process boundary. The returned Client's read
// loop is already running.
func Attach(spec config.ChildSpec, log *slog.Logger, onMessage MessageHandler, onExit ExitHandler, in io.Writer, out io.Reader) *Client {
	c := New(spec, log, onMessage, onExit)
	c.stdin = nopWriteCloser{in}
	c.dec = framing.NewDecoder(out)
	c.enc = framing.NewEncoder(in)

	go c.readLoop()

	return c
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func buildEnv(overlay map[string]string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}

	return env
}

// IsNotFound reports whether err (as returned by Start) is an ENOENT-style
// spawn failure, distinguishing "command not found" from other spawn
// failures for the error normalizer.
func IsNotFound(err error) bool {
	var spawnErr *wrapperrors.SpawnError
	if !stderrors.As(err, &spawnErr) {
		return false
	}

	return strings.Contains(spawnErr.Error(), "no such file or directory") ||
		strings.Contains(spawnErr.Error(), "executable file not found") ||
		strings.Contains(spawnErr.Error(), "file does not exist")
}

func (c *Client) readLoop() {
	var exitErr error

	for {
		body, err := c.dec.Next()
		if err != nil {
			if err != io.EOF {
				exitErr = err
			}

			break
		}

		msg, derr := jsonrpc.Decode(bytes.TrimSpace(body))
		if derr != nil {
			frameErr := &wrapperrors.FrameDecodeError{Raw: string(bytes.TrimSpace(body)), Err: derr}
			c.log.Debug("dropping malformed frame from child", "kind", frameErr.Kind(), "error", frameErr)

			continue
		}

		if msg.Response != nil && c.claim(msg.Response) {
			continue
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}

	c.drainPending(exitErr)

	if c.cmd != nil {
		waitErr := c.cmd.Wait()

		var procErr *exec.ExitError
		switch {
		case waitErr == nil:
			c.exitCode = 0
		case stderrors.As(waitErr, &procErr):
			c.exitCode = procErr.ExitCode()
		}
	}

	if c.cancel != nil {
		c.cancel()
	}

	if c.onExit != nil {
		c.onExit(c, exitErr)
	}
}

// ExitCode reports the child subprocess's exit status, valid once the
// ExitHandler has fired. Returns -1 for a child that was never a real
// subprocess (built with Attach) or whose status could not be determined.
func (c *Client) ExitCode() int {
	return c.exitCode
}

// claim resolves a response against this client's own pending map (calls
// this client itself originated with forward=false). Reports false when
// the id is not ours to claim — the aggregator's forwarded-response path
// owns those instead.
func (c *Client) claim(resp *jsonrpc.Response) bool {
	id := string(bytes.Trim(resp.ID, `"`))

	c.pendingMu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		return false
	}

	call.result <- callResult{result: resp.Result, rpcErr: resp.Error}

	return true
}

func (c *Client) drainPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, call := range c.pending {
		call.result <- callResult{err: fmt.Errorf("child exited: %w", errOrClosed(err))}
		delete(c.pending, id)
	}
}

func errOrClosed(err error) error {
	if err != nil {
		return err
	}

	return io.EOF
}

// Request sends method/params to the child and waits for its response.
//
// When id is nil, a locally generated ULID (prefixed to keep this
// client's id space disjoint from forwarded parent ids) is used and the
// response is awaited through the pending map. When id is non-nil (the
// aggregator forwarding a parent's tools/call), the response is not
// awaited here at all — the caller must recognize it via OnMessage/claim
// through the aggregator's own routing table instead, so Request only
// sends in that case.
//
// In both modes, if ctx is done while the write to the child is still
// blocked, Request returns ctx.Err() and leaves that write behind.
func (c *Client) Request(ctx context.Context, method string, params any, id json.RawMessage) (json.RawMessage, *jsonrpc.Error, error) {
	forward := id != nil

	var localID string
	if !forward {
		localID = localIDPrefix + ulid.Make().String()
		id = jsonrpc.StringID(localID)
	}

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, nil, err
	}

	var resultCh chan callResult

	if !forward {
		resultCh = make(chan callResult, 1)

		c.pendingMu.Lock()
		c.pending[localID] = &pendingCall{method: method, result: resultCh}
		c.pendingMu.Unlock()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request to child: %w", err)
	}

	writeErr := make(chan error, 1)

	go func() { writeErr <- c.enc.Write(body) }()

	select {
	case err = <-writeErr:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		if !forward {
			c.pendingMu.Lock()
			delete(c.pending, localID)
			c.pendingMu.Unlock()
		}

		return nil, nil, err
	}

	if forward {
		return nil, nil, nil
	}

	select {
	case res := <-resultCh:
		return res.result, res.rpcErr, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, localID)
		c.pendingMu.Unlock()

		return nil, nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification to the child.
func (c *Client) Notify(method string, params any) error {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}

	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification to child: %w", err)
	}

	return c.enc.Write(body)
}

// Close cancels the subprocess's context and closes its stdin. Pending
// requests are drained by the read loop once the child's stdout closes;
// for a client built with Attach, Close does neither.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		if c.stdin != nil {
			_ = c.stdin.Close()
		}
	})
}
