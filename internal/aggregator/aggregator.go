// Package aggregator implements the parent-facing side of the proxy: one
// dispatcher reading the parent's JSON-RPC stream, fanning out to child
// clients and routing their responses back.
//
// Known sharp edge: forwardUnknownMethod always routes an unrecognized
// method to the first live child. There is no protocol-level signal for
// which child "owns" an extension method, and broadcasting a
// request-shaped message to every child and picking one answer would
// silently multiply side effects for a non-idempotent method, so this
// package picks a fixed child deterministically instead.
package aggregator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kazuhideoki/codex-mcp-wrapper/internal/childproc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/config"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/framing"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/jsonrpc"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/rpcerr"
	"github.com/kazuhideoki/codex-mcp-wrapper/internal/wrapperrors"
)

// toolRoute records which child published a tool and under what original
// (unprefixed) name, so tools/call can rewrite the name back before
// forwarding.
type toolRoute struct {
	Child    *childproc.Client
	Original string
}

// requestContext is the bookkeeping kept alongside a forwarded parent
// request id so an error in the eventual response can be normalized with
// the same method/tool it was routed for.
type requestContext struct {
	Method   string
	ToolName string
}

// Options configures an Aggregator's timeouts and error-handling mode.
type Options struct {
	InitTimeout      time.Duration
	ToolsListTimeout time.Duration
	ErrorPassthrough bool
}

// Aggregator owns the live child set and the routing tables that tie
// parent request ids to the child that will answer them.
type Aggregator struct {
	log  *slog.Logger
	opts Options

	parentEnc *framing.Encoder

	mu              sync.Mutex
	children        []*childproc.Client
	toolToChild     map[string]toolRoute
	parentIDToChild map[string]*childproc.Client
	parentIDToCtx   map[string]requestContext

	// childrenExhausted carries the last child's exit code once the live
	// set drops to zero: terminate with the last child's exit status, or
	// zero if unknown.
	childrenExhausted chan int
}

// New constructs an Aggregator writing responses/notifications to
// parentEnc.
func New(parentEnc *framing.Encoder, log *slog.Logger, opts Options) *Aggregator {
	return &Aggregator{
		log:               log.With("component", "aggregator"),
		opts:              opts,
		parentEnc:         parentEnc,
		toolToChild:       make(map[string]toolRoute),
		parentIDToChild:   make(map[string]*childproc.Client),
		parentIDToCtx:     make(map[string]requestContext),
		childrenExhausted: make(chan int, 1),
	}
}

// SpawnChildren starts one childproc.Client per spec, wiring each one's
// message/exit callbacks back into this aggregator, and returns the
// clients that started successfully. A child that fails to spawn is
// logged and skipped rather than aborting the whole proxy.
func (a *Aggregator) SpawnChildren(ctx context.Context, specs []config.ChildSpec) []*childproc.Client {
	live := make([]*childproc.Client, 0, len(specs))

	for _, spec := range specs {
		client := childproc.New(spec, a.log, a.handleChildMessage, a.handleChildExit)

		if err := client.Start(ctx); err != nil {
			a.log.Warn("child failed to spawn", "child", spec.Name, "command", spec.Command, "error", err)
			a.writeChildSpawnFailureNotice(spec, err)

			continue
		}

		live = append(live, client)
	}

	a.mu.Lock()
	a.children = live
	a.mu.Unlock()

	return live
}

func (a *Aggregator) writeChildSpawnFailureNotice(spec config.ChildSpec, err error) {
	enoent := childproc.IsNotFound(err)
	rpcErr := rpcerr.NormalizeSpawnFailure(enoent, err, rpcerr.Context{ServerName: spec.Name})
	a.log.Debug("normalized spawn failure", "child", spec.Name, "error", rpcErr.Message)
}

// AttachChildren registers an already-connected client set (typically built
// with childproc.Attach rather than SpawnChildren) as this aggregator's
// live children. Used by in-process demos and callers that own their own
// child lifecycle.
func (a *Aggregator) AttachChildren(clients []*childproc.Client) {
	a.mu.Lock()
	a.children = clients
	a.mu.Unlock()
}

// OnChildMessage exposes the aggregator's child message callback for
// callers wiring clients via childproc.Attach directly.
func (a *Aggregator) OnChildMessage(msg *jsonrpc.Message) {
	a.handleChildMessage(msg)
}

// OnChildExit exposes the aggregator's child exit callback for callers
// wiring clients via childproc.Attach directly.
func (a *Aggregator) OnChildExit(c *childproc.Client, err error) {
	a.handleChildExit(c, err)
}

// liveChildren returns a snapshot of currently-live children.
func (a *Aggregator) liveChildren() []*childproc.Client {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*childproc.Client, len(a.children))
	copy(out, a.children)

	return out
}

func (a *Aggregator) dropChild(c *childproc.Client) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.children[:0]
	for _, existing := range a.children {
		if existing != c {
			next = append(next, existing)
		}
	}

	a.children = next

	for name, route := range a.toolToChild {
		if route.Child == c {
			delete(a.toolToChild, name)
		}
	}

	return len(a.children)
}

// parentFrame carries one decode attempt off the parent's stream, so Run
// can select on it alongside ctx cancellation and child exhaustion instead
// of blocking exclusively on parentDec.Next().
type parentFrame struct {
	body []byte
	err  error
}

// Run drives the dispatcher: decode frames from parentDec until EOF,
// dispatching each one, until the stream closes, ctx is cancelled, or the
// live child set empties. The returned int is the exit status the proxy
// should terminate with — the last child's exit status, or zero if the
// stream simply closed or that status is unknown.
func (a *Aggregator) Run(ctx context.Context, parentDec *framing.Decoder) (int, error) {
	frames := make(chan parentFrame)

	go func() {
		for {
			body, err := parentDec.Next()
			frames <- parentFrame{body: body, err: err}

			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case code := <-a.childrenExhausted:
			return code, nil
		case f := <-frames:
			if f.err != nil {
				if f.err == io.EOF {
					return 0, nil
				}

				return 0, f.err
			}

			msg, derr := jsonrpc.Decode(f.body)
			if derr != nil {
				frameErr := &wrapperrors.FrameDecodeError{Raw: string(f.body), Err: derr}
				a.log.Debug("dropping malformed frame from parent", "kind", frameErr.Kind(), "error", frameErr)

				continue
			}

			a.dispatch(ctx, msg)
		}
	}
}

func (a *Aggregator) dispatch(ctx context.Context, msg *jsonrpc.Message) {
	switch {
	case msg.Request != nil:
		a.dispatchRequest(ctx, msg.Request)
	case msg.Notification != nil:
		a.broadcastNotification(msg.Notification)
	case msg.Response != nil:
		a.log.Debug("ignoring response from parent", "id", string(msg.Response.ID))
	}
}

func (a *Aggregator) dispatchRequest(ctx context.Context, req *jsonrpc.Request) {
	switch req.Method {
	case "initialize":
		a.handleInitialize(ctx, req)
	case "tools/list":
		a.handleToolsList(ctx, req)
	case "tools/call":
		a.handleToolsCall(ctx, req)
	case "ping":
		a.replyResult(req.ID, map[string]any{"ok": true})
	default:
		a.forwardUnknownMethod(ctx, req)
	}
}

func (a *Aggregator) forwardUnknownMethod(ctx context.Context, req *jsonrpc.Request) {
	children := a.liveChildren()
	if len(children) == 0 {
		a.replyError(req.ID, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "Method not found: "+req.Method, nil))
		return
	}

	child := children[0]

	a.mu.Lock()
	key := string(req.ID)
	a.parentIDToChild[key] = child
	a.parentIDToCtx[key] = requestContext{Method: req.Method}
	a.mu.Unlock()

	var params any
	if len(req.Params) > 0 {
		params = json.RawMessage(req.Params)
	}

	if _, _, err := child.Request(ctx, req.Method, params, req.ID); err != nil {
		raw := jsonrpc.NewError(jsonrpc.CodeServerError, err.Error(), nil)

		normalized := raw
		if !a.opts.ErrorPassthrough {
			normalized = rpcerr.Normalize(raw, rpcerr.Context{Method: req.Method})
		}

		a.resolveRouted(req.ID, nil, normalized)
	}
}

func (a *Aggregator) broadcastNotification(note *jsonrpc.Notification) {
	var params any
	if len(note.Params) > 0 {
		params = json.RawMessage(note.Params)
	}

	for _, c := range a.liveChildren() {
		if err := c.Notify(note.Method, params); err != nil {
			a.log.Debug("failed to broadcast notification to child", "method", note.Method, "error", err)
		}
	}
}

// handleChildMessage is invoked for every child message not claimed by
// that child's own local pending map: unsolicited notifications, and
// responses to requests the aggregator forwarded verbatim.
func (a *Aggregator) handleChildMessage(msg *jsonrpc.Message) {
	switch {
	case msg.Response != nil:
		a.handleForwardedResponse(msg.Response)
	case msg.Notification != nil:
		a.forwardNotificationToParent(msg.Notification)
	}
}

func (a *Aggregator) handleForwardedResponse(resp *jsonrpc.Response) {
	key := string(resp.ID)

	a.mu.Lock()
	child, tracked := a.parentIDToChild[key]
	ctx := a.parentIDToCtx[key]
	delete(a.parentIDToChild, key)
	delete(a.parentIDToCtx, key)
	a.mu.Unlock()

	if !tracked {
		a.log.Debug("dropping response for unknown routed id", "id", key)
		return
	}

	if resp.Error != nil {
		normalized := rpcerr.Normalize(resp.Error, rpcerr.Context{Method: ctx.Method, ToolName: ctx.ToolName, ServerName: child.Spec.Name})
		if a.opts.ErrorPassthrough {
			normalized = resp.Error
		}

		a.resolveRouted(resp.ID, nil, normalized)
		return
	}

	a.resolveRouted(resp.ID, resp.Result, nil)
}

func (a *Aggregator) resolveRouted(id json.RawMessage, result json.RawMessage, rpcErr *jsonrpc.Error) {
	if rpcErr != nil {
		a.replyError(id, rpcErr)
		return
	}

	a.writeResponse(&jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Result: result})
}

func (a *Aggregator) forwardNotificationToParent(note *jsonrpc.Notification) {
	var params any
	if len(note.Params) > 0 {
		params = json.RawMessage(note.Params)
	}

	forwarded, err := jsonrpc.NewNotification(note.Method, params)
	if err != nil {
		a.log.Debug("failed to re-marshal child notification", "error", err)
		return
	}

	a.writeMessage(forwarded)
}

// handleChildExit drops the child from the live set. When no children
// remain there is nothing left to serve, so Run is signalled to return
// with this child's exit status (0 if it could not be determined),
// per the last-child-to-exit contract.
func (a *Aggregator) handleChildExit(c *childproc.Client, err error) {
	remaining := a.dropChild(c)
	code := c.ExitCode()

	a.log.Info("child exited", "child", c.Spec.Name, "remaining", remaining, "error", err, "exitCode", code)

	if remaining > 0 {
		return
	}

	if code < 0 {
		code = 0
	}

	select {
	case a.childrenExhausted <- code:
	default:
	}
}

// LiveCount reports how many children are currently alive.
func (a *Aggregator) LiveCount() int {
	return len(a.liveChildren())
}

func (a *Aggregator) replyResult(id json.RawMessage, result any) {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		a.log.Debug("failed to marshal result response", "error", err)
		return
	}

	a.writeMessage(resp)
}

func (a *Aggregator) replyError(id json.RawMessage, rpcErr *jsonrpc.Error) {
	a.writeMessage(jsonrpc.NewErrorResponse(id, rpcErr))
}

func (a *Aggregator) writeResponse(resp *jsonrpc.Response) {
	a.writeMessage(resp)
}

func (a *Aggregator) writeMessage(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.log.Debug("failed to marshal outgoing message", "error", err)
		return
	}

	if err := a.parentEnc.Write(body); err != nil {
		a.log.Warn("failed to write to parent", "error", err)
	}
}
