// Client wraps one attached WebSocket connection: a read loop that
// dispatches inbound frames and a write loop that serializes outbound
// ones, with backpressure that drops projects_updated frames but never
// drops invocation frames.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgateway/internal/watch"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// invocationFrameQueueSize bounds the blocking invocation-frame queue.
// A full queue makes the stdout pump block, not drop.
const invocationFrameQueueSize = 64

// Client is one attached socket. It implements watch.Sender so the
// broadcaster can push projects_updated frames directly.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	writeMu sync.Mutex // serializes conn.WriteJSON across both queues

	invocationFrames chan protocol.OutboundFrame
	watchFrames      chan watch.Frame

	mu          sync.Mutex
	closed      bool
	invocations map[string]string // invocationId -> current abort key

	done chan struct{}
}

// NewClient wraps conn for server s.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:               uuid.NewString(),
		conn:             conn,
		server:           s,
		invocationFrames: make(chan protocol.OutboundFrame, invocationFrameQueueSize),
		watchFrames:      make(chan watch.Frame, 1),
		invocations:      make(map[string]string),
		done:             make(chan struct{}),
	}
}

// Run blocks for the connection's lifetime, running the read and
// write loops concurrently.
func (c *Client) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	wg.Wait()

	// Socket closed: abort every invocation this client still owns,
	// since this socket was its sole owner.
	c.mu.Lock()
	keys := make([]string, 0, len(c.invocations))
	for _, k := range c.invocations {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.server.runner.Abort(k)
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame protocol.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendInvocation(protocol.NewError("malformed frame: " + err.Error()))
			continue
		}
		c.handleInbound(frame)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case f, ok := <-c.invocationFrames:
			if !ok {
				return
			}
			c.writeJSON(f)
		case f, ok := <-c.watchFrames:
			if !ok {
				return
			}
			c.writeJSON(watchFrameToOutbound(f))
		case <-c.done:
			// Drain whatever is already queued before exiting so a
			// terminal agent-complete enqueued just before close is
			// not silently lost.
			for {
				select {
				case f, ok := <-c.invocationFrames:
					if !ok {
						return
					}
					c.writeJSON(f)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) writeJSON(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Warn("gateway: write failed", "client", c.id, "error", err)
	}
}

func watchFrameToOutbound(f watch.Frame) protocol.OutboundFrame {
	projectsJSON, err := json.Marshal(f.Projects)
	if err != nil {
		projectsJSON = []byte("[]")
	}
	return protocol.OutboundFrame{
		Type:        protocol.OutboundProjectsUpdated,
		Projects:    projectsJSON,
		Timestamp:   f.Timestamp,
		ChangeType:  f.ChangeType,
		ChangedFile: f.ChangedFile,
	}
}

func (c *Client) handleInbound(frame protocol.InboundFrame) {
	switch frame.Type {
	case protocol.InboundClaudeCommand:
		c.handleClaudeCommand(frame)
	case protocol.InboundAbortSession:
		success := c.server.runner.Abort(frame.SessionID)
		c.sendInvocation(protocol.OutboundFrame{
			Type:      protocol.OutboundSessionAborted,
			SessionID: frame.SessionID,
			Success:   success,
		})
	default:
		c.sendInvocation(protocol.NewError("unknown frame type: " + frame.Type))
	}
}

func (c *Client) handleClaudeCommand(frame protocol.InboundFrame) {
	opts := protocol.RunOptions{}
	if frame.Options != nil {
		opts = *frame.Options
	}

	resolved, err := c.server.resolveRunOptions(opts)
	if err != nil {
		c.sendInvocation(protocol.NewError(err.Error()))
		return
	}

	invocationID := uuid.NewString()
	if resolved.Resume && resolved.SessionID != "" {
		// Resumed sessions are keyed by their session id from the
		// start so a same-id abort-session works immediately, without
		// waiting on a rekey from captured stdout.
		invocationID = resolved.SessionID
	}

	c.mu.Lock()
	c.invocations[invocationID] = invocationID
	c.mu.Unlock()

	go c.runInvocation(invocationID, resolved, frame.Command)
}

func (c *Client) runInvocation(invocationID string, opts protocol.RunOptions, command string) {
	emit := func(f protocol.OutboundFrame) {
		if f.Type == protocol.OutboundSessionCreated {
			c.mu.Lock()
			c.invocations[invocationID] = f.SessionID
			c.mu.Unlock()
		}
		c.sendInvocation(f)
	}

	if err := c.server.runner.Run(c.server.ctx, invocationID, opts, command, emit); err != nil {
		slog.Info("gateway: invocation ended with error", "invocation", invocationID, "error", err)
	}

	c.mu.Lock()
	delete(c.invocations, invocationID)
	c.mu.Unlock()
}

// sendInvocation blocks until the frame is queued: invocation frames
// are never dropped.
func (c *Client) sendInvocation(f protocol.OutboundFrame) {
	if !c.IsOpen() {
		return
	}
	c.invocationFrames <- f
}

// Send implements watch.Sender. projects_updated frames are dropped,
// never blocked on, when the client isn't draining fast enough.
func (c *Client) Send(f watch.Frame) error {
	select {
	case c.watchFrames <- f:
		return nil
	default:
		slog.Warn("gateway: dropping projects_updated, client backpressured", "client", c.id)
		return nil
	}
}

// IsOpen implements watch.Sender.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close tears the connection down idempotently.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()
}
