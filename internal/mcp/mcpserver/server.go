// Package mcpserver exposes the wargame operations as Model Context Protocol
// tools, so that an LLM agent can inspect formations and resolve battles.
//
// The server is built on the official MCP Go SDK. It is served either over
// Streamable HTTP (mounted on the application mux via [Server.Handler]) or
// over stdin/stdout via [Server.Run].
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/qjm/internal/battle"
	"github.com/MrWong99/qjm/internal/observe"
	"github.com/MrWong99/qjm/internal/scenario"
)

const (
	serverName    = "qjm"
	serverVersion = "1.0.0"
)

// Transport selects how the tool server talks to its client.
type Transport string

const (
	// TransportHTTP serves the MCP Streamable HTTP protocol on the API mux.
	TransportHTTP Transport = "http"

	// TransportStdio serves over the process's stdin/stdout.
	TransportStdio Transport = "stdio"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportHTTP || t == TransportStdio
}

// Wargame is the subset of [scenario.Wargame] the tools call.
type Wargame interface {
	Factions() ([]scenario.Node, error)
	Formation(id string) (scenario.FormationInfo, error)
	FormationByName(name string) (scenario.FormationInfo, error)
	Personnel(attackers, defenders []string) (scenario.PersonnelCount, error)
	Simulate(ctx context.Context, req scenario.BattleRequest) (*battle.Result, error)
	Commit(ctx context.Context, req scenario.BattleRequest) (*battle.Outcome, error)
	Snapshot(ctx context.Context, date string, locs []scenario.UnitLocation) error
	Snapshots(date string) (scenario.SnapshotView, error)
	Equipment(name string) (scenario.EquipmentInfo, error)
	FactorTable(name string) (scenario.FactorTable, error)
}

var _ Wargame = (*scenario.Wargame)(nil)

// Server wraps an [mcp.Server] with the wargame tools registered.
type Server struct {
	srv     *mcp.Server
	wg      Wargame
	metrics *observe.Metrics
}

// New registers every tool against wg. A nil m uses
// [observe.DefaultMetrics].
func New(wg Wargame, m *observe.Metrics) *Server {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	s := &Server{
		srv:     mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		wg:      wg,
		metrics: m,
	}
	s.register()
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Handler returns an http.Handler serving the Streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

// Run serves over t until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.srv.Run(ctx, t)
}

// RunStdio serves over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// instrument wraps a typed handler with a span, a latency histogram sample
// and a call counter.
func instrument[I, O any](s *Server, name string, h mcp.ToolHandlerFor[I, O]) mcp.ToolHandlerFor[I, O] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in I) (*mcp.CallToolResult, O, error) {
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+name)
		start := time.Now()
		res, out, err := h(ctx, req, in)
		observe.EndSpan(span, err)
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("tool", name)))

		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Debug("tool call failed", "tool", name, "err", err)
		}
		s.metrics.RecordToolCall(ctx, name, status)
		return res, out, err
	}
}

func addTool[I, O any](s *Server, tool *mcp.Tool, h mcp.ToolHandlerFor[I, O]) {
	mcp.AddTool(s.srv, tool, instrument(s, tool.Name, h))
}
