// Package mcp exposes the voice bridge to MCP clients.
//
// A [Server] registers two tools on top of the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk):
//
//   - converse: speak a message through the browser endpoint and, unless
//     wait_for_response is false, return the transcription of the reply.
//   - voice_chat_status: report whether a browser endpoint is connected.
//
// Cycle failures never surface as protocol errors. They are returned as text
// results with IsError set, rendered by [bridge.Describe].
//
// Typical usage:
//
//	srv := mcp.NewServer(b, mcp.Config{Transport: mcp.TransportStdio})
//	err := srv.Run(ctx) // blocks until the client disconnects
//
// With [TransportStreamableHTTP] the server is mounted on an existing mux via
// [Server.Handler] instead and Run only waits for ctx.
package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/observe"
)

// Tool names.
const (
	ToolConverse = "converse"
	ToolStatus   = "voice_chat_status"
)

const (
	defaultName    = "voice-chat"
	defaultVersion = "dev"
	defaultPath    = "/mcp"
)

// Bridge is the part of [bridge.Bridge] the tools need.
type Bridge interface {
	Converse(ctx context.Context, req bridge.ConverseRequest) (string, error)
	Status() string
}

var _ Bridge = (*bridge.Bridge)(nil)

// Config configures a [Server].
type Config struct {
	// Transport selects stdio or streamable HTTP. Empty means stdio.
	Transport Transport

	// Path is the HTTP path the streamable handler is mounted on.
	// Defaults to "/mcp".
	Path string

	// Name and Version are reported to clients during initialization.
	Name    string
	Version string
}

// Server is the MCP tool surface of the bridge.
type Server struct {
	cfg     Config
	bridge  Bridge
	server  *mcpsdk.Server
	metrics *observe.Metrics
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool calls into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// converseInput is the argument schema of the converse tool.
type converseInput struct {
	Message         string `json:"message" jsonschema:"Text to speak to the user."`
	WaitForResponse *bool  `json:"wait_for_response,omitempty" jsonschema:"Listen for the user's spoken response after playback. Defaults to true."`
	Voice           string `json:"voice,omitempty" jsonschema:"TTS voice name. The configured default voice is used when empty."`
}

// NewServer creates a Server that forwards tool calls to b.
func NewServer(b Bridge, cfg Config, opts ...Option) *Server {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}

	s := &Server{cfg: cfg, bridge: b}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name: ToolConverse,
		Description: "Speak a message to the user via TTS and optionally listen for their spoken response via STT. " +
			"Returns the user's transcribed speech, or a status message if not listening.",
	}, s.converse)
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        ToolStatus,
		Description: "Check if a browser is connected to the Voice Chat WebSocket.",
	}, s.status)
	return s
}

// Transport returns the configured transport.
func (s *Server) Transport() Transport { return s.cfg.Transport }

// Path returns the HTTP path for [Server.Handler].
func (s *Server) Path() string { return s.cfg.Path }

// SDK returns the underlying SDK server, for callers that want to connect a
// custom transport.
func (s *Server) SDK() *mcpsdk.Server { return s.server }

// Run serves the tool surface. With [TransportStdio] it blocks until the
// client closes stdin or ctx is cancelled. With [TransportStreamableHTTP] the
// work happens in [Server.Handler] and Run just waits for ctx.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Transport == TransportStreamableHTTP {
		<-ctx.Done()
		return nil
	}
	slog.Info("mcp server listening on stdio")
	err := s.server.Run(ctx, &mcpsdk.StdioTransport{})
	if err == nil || ctx.Err() != nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Handler returns the streamable HTTP handler. Every client session shares
// the same tool set.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.server
	}, nil)
}

func (s *Server) converse(ctx context.Context, _ *mcpsdk.CallToolRequest, in converseInput) (*mcpsdk.CallToolResult, any, error) {
	wait := true
	if in.WaitForResponse != nil {
		wait = *in.WaitForResponse
	}
	slog.Info("converse called", "chars", len(in.Message), "wait", wait, "voice", in.Voice)

	start := time.Now()
	text, err := s.bridge.Converse(ctx, bridge.ConverseRequest{
		Message:         in.Message,
		WaitForResponse: wait,
		Voice:           in.Voice,
	})
	s.record(ctx, ToolConverse, start, err)
	if err != nil {
		slog.Warn("converse failed", "err", err)
		return errorResult(bridge.Describe(err)), nil, nil
	}
	return textResult(text), nil, nil
}

func (s *Server) status(ctx context.Context, _ *mcpsdk.CallToolRequest, _ struct{}) (*mcpsdk.CallToolResult, any, error) {
	start := time.Now()
	text := s.bridge.Status()
	s.record(ctx, ToolStatus, start, nil)
	slog.Debug("voice_chat_status called", "status", text)
	return textResult(text), nil, nil
}

func (s *Server) record(ctx context.Context, tool string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordToolCall(ctx, tool, status)
	s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("tool", tool), attribute.String("status", status)))
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func errorResult(text string) *mcpsdk.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}
