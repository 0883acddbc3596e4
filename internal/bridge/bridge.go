// Package bridge presents tools hosted by external MCP servers as locally
// invocable proxies, over a subprocess stdio transport or a network
// streaming transport.
//
// This package uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// as the protocol client; the SDK performs the initialize handshake on
// connect, and list_tools / call_tool run over whichever transport was
// selected.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Errors for bridge operations.
var (
	ErrToolNotFound       = errors.New("tool not found")
	ErrNotConnected       = errors.New("tool server not connected")
	ErrServerNotConnected = errors.New("server not connected")
)

// RemoteError carries a tool failure reported by the server. The message
// passes through verbatim.
type RemoteError struct {
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// ToolDescriptor describes one locally invocable tool proxy.
type ToolDescriptor struct {
	// Name is the externally visible name, namespaced as
	// mcp_<server_id>_<original_name> when a server id was supplied at
	// connect time.
	Name string `json:"name"`

	// ServerID identifies the owning session.
	ServerID string `json:"server_id"`

	// OriginalName is the name the server advertises.
	OriginalName string `json:"original_name"`

	Description string `json:"description,omitempty"`

	// InputSchema is the JSON schema the server advertises for the tool's
	// arguments, carried opaquely as the SDK delivers it.
	InputSchema any `json:"input_schema,omitempty"`
}

// session is one live connection to a tool server.
type session struct {
	id    string
	cs    *mcp.ClientSession
	tools []string
}

// proxy binds a descriptor to its owning session.
type proxy struct {
	desc ToolDescriptor
	sess *session
}

// Config configures a bridge.
type Config struct {
	// ClientName and ClientVersion identify this client in the handshake.
	ClientName    string
	ClientVersion string

	// InvokeRate limits tool invocations per second across all sessions.
	// Zero disables the limiter. InvokeBurst defaults to 1 when a rate is
	// set.
	InvokeRate  float64
	InvokeBurst int

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ClientName:    "flowd",
		ClientVersion: "1.0.0",
		Logger:        zap.NewNop(),
	}
}

// Bridge manages tool server sessions and the proxy map. Sessions and
// proxies are mutated only by Connect and Disconnect.
type Bridge struct {
	mu       sync.Mutex
	impl     *mcp.Implementation
	logger   *zap.Logger
	limiter  *rate.Limiter
	metrics  *Metrics
	sessions map[string]*session
	proxies  map[string]*proxy
}

// New creates a bridge with no sessions.
func New(cfg Config) *Bridge {
	if cfg.ClientName == "" {
		cfg.ClientName = "flowd"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.InvokeRate > 0 {
		burst := cfg.InvokeBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.InvokeRate), burst)
	}
	return &Bridge{
		impl:     &mcp.Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion},
		logger:   cfg.Logger,
		limiter:  limiter,
		metrics:  NewMetrics(cfg.Logger),
		sessions: make(map[string]*session),
		proxies:  make(map[string]*proxy),
	}
}

// Connect builds the transport described by tc and connects to it under
// serverID. See ConnectTransport for the connection semantics.
func (b *Bridge) Connect(ctx context.Context, serverID string, tc TransportConfig) ([]ToolDescriptor, error) {
	tr, err := tc.transport()
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", serverID, err)
	}
	return b.ConnectTransport(ctx, serverID, tr)
}

// ConnectTransport connects to a tool server over an already built
// transport, performs the initialize handshake, discovers its tools, and
// registers one proxy per tool under the namespaced name rule. If serverID
// already has a live session, its proxies are atomically replaced by the new
// ones and the old session is closed; in-flight calls on the replaced
// session are discarded, not queued. The transport is released on every exit
// path, including a discovery failure mid-handshake.
func (b *Bridge) ConnectTransport(ctx context.Context, serverID string, tr mcp.Transport) ([]ToolDescriptor, error) {
	client := mcp.NewClient(b.impl, nil)
	cs, err := client.Connect(ctx, tr, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", serverID, err)
	}

	listed, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		if cerr := cs.Close(); cerr != nil {
			b.logger.Warn("close after failed discovery", zap.String("server_id", serverID), zap.Error(cerr))
		}
		return nil, fmt.Errorf("list tools on %q: %w", serverID, err)
	}

	sess := &session{id: serverID, cs: cs}
	descs := make([]ToolDescriptor, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		name := t.Name
		if serverID != "" {
			name = fmt.Sprintf("mcp_%s_%s", serverID, t.Name)
		}
		sess.tools = append(sess.tools, name)
		descs = append(descs, ToolDescriptor{
			Name:         name,
			ServerID:     serverID,
			OriginalName: t.Name,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
		})
	}

	// Swap under the lock so callers never observe a half-replaced proxy
	// set; the old session is closed after the lock is released.
	b.mu.Lock()
	old := b.sessions[serverID]
	if old != nil {
		b.removeProxiesLocked(old)
	}
	b.sessions[serverID] = sess
	for _, d := range descs {
		if existing, ok := b.proxies[d.Name]; ok && existing.sess != sess {
			b.logger.Warn("tool name collision, last registration wins",
				zap.String("tool", d.Name),
				zap.String("previous_server", existing.desc.ServerID),
				zap.String("server_id", serverID),
			)
		}
		b.proxies[d.Name] = &proxy{desc: d, sess: sess}
	}
	b.mu.Unlock()

	if old != nil {
		if cerr := old.cs.Close(); cerr != nil {
			b.logger.Warn("close replaced session", zap.String("server_id", serverID), zap.Error(cerr))
		}
	}

	b.metrics.RecordConnect(ctx, serverID, len(descs))
	b.logger.Info("tool server connected",
		zap.String("server_id", serverID),
		zap.Int("tools", len(descs)),
	)
	return descs, nil
}

// Disconnect closes the session for serverID and removes exactly the
// proxies whose server id matches, leaving all others untouched.
func (b *Bridge) Disconnect(serverID string) error {
	b.mu.Lock()
	sess, ok := b.sessions[serverID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrServerNotConnected, serverID)
	}
	delete(b.sessions, serverID)
	b.removeProxiesLocked(sess)
	b.mu.Unlock()

	b.logger.Info("tool server disconnected", zap.String("server_id", serverID))
	if err := sess.cs.Close(); err != nil {
		return fmt.Errorf("close %q: %w", serverID, err)
	}
	return nil
}

// DisconnectAll closes every session and clears the entire proxy set. Close
// failures are aggregated; teardown proceeds regardless.
func (b *Bridge) DisconnectAll() error {
	b.mu.Lock()
	closing := make([]*session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		closing = append(closing, sess)
	}
	b.sessions = make(map[string]*session)
	b.proxies = make(map[string]*proxy)
	b.mu.Unlock()

	var err error
	for _, sess := range closing {
		if cerr := sess.cs.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %q: %w", sess.id, cerr))
		}
	}
	return err
}

// removeProxiesLocked deletes the proxies owned by sess. A name that was
// overwritten by a later registration belongs to the overwriter and stays.
func (b *Bridge) removeProxiesLocked(sess *session) {
	for _, name := range sess.tools {
		if p, ok := b.proxies[name]; ok && p.sess == sess {
			delete(b.proxies, name)
		}
	}
}

// Invoke calls the named tool proxy and returns the concatenated text
// content of the result. It fails immediately when the proxy's session was
// torn down concurrently. A result without any content parts is an
// empty-but-successful result, not an error.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.Lock()
	p, ok := b.proxies[name]
	if !ok {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	sess := p.sess
	if b.sessions[sess.id] != sess {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: tool %q on server %q", ErrNotConnected, name, sess.id)
	}
	original := p.desc.OriginalName
	b.mu.Unlock()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("invoke %q: %w", name, err)
		}
	}

	b.metrics.InvocationStarted(ctx)
	start := time.Now()
	res, err := sess.cs.CallTool(ctx, &mcp.CallToolParams{Name: original, Arguments: args})
	b.metrics.InvocationFinished(ctx, name, time.Since(start), err != nil || (res != nil && res.IsError))
	if err != nil {
		return "", fmt.Errorf("invoke %q on %q: %w", name, sess.id, err)
	}
	if res.IsError {
		return "", &RemoteError{Tool: name, Message: joinText(res.Content)}
	}
	return joinText(res.Content), nil
}

// Tools returns descriptors for every registered proxy, ordered by name.
func (b *Bridge) Tools() []ToolDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ToolDescriptor, 0, len(b.proxies))
	for _, p := range b.proxies {
		out = append(out, p.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerIDs returns the ids of all connected servers, sorted.
func (b *Bridge) ServerIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// joinText concatenates all text content parts with ", ". Non-text parts
// are skipped.
func joinText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, ", ")
}
