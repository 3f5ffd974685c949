package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/atlas/pkg/agent"
	"github.com/harun/atlas/pkg/metadata"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AgentResourceURI    = "atlas://agent"
	TaskResourcePrefix  = "atlas://tasks/"
	TaskResourceURI     = TaskResourcePrefix + "{id}"
	CancelTaskToolName  = "cancel_task"
	EventToolName       = "handle_event"
	defaultServerName   = "atlas"
	defaultVersion      = "dev"
	jsonMIMEType        = "application/json"
	cancelTaskParameter = "task_id"
)

// TaskIDMetaKey names the task id in the _meta of tool calls and their results.
const TaskIDMetaKey = "task_id"

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Logger  *zerolog.Logger
}

// Server adapts an Agent to an MCP server.
type Server struct {
	agent  *agent.Agent
	mcp    *server.MCPServer
	logger zerolog.Logger

	mu   sync.Mutex
	http *server.StreamableHTTPServer
}

// New registers the agent's tools and resources on a fresh MCP server.
func New(a *agent.Agent, opts Options) (*Server, error) {
	if a == nil {
		return nil, errors.New("agent is required")
	}
	if opts.Name == "" {
		opts.Name = defaultServerName
	}
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	cfg := a.Config()
	instructions := cfg.Description()
	if instructions == "" {
		instructions = fmt.Sprintf("Tools of agent %s. Each call runs as a tracked task.", cfg.Name())
	}

	s := &Server{
		agent:  a,
		logger: logger.With().Str("component", "mcp_server").Logger(),
		mcp: server.NewMCPServer(
			opts.Name,
			opts.Version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithInstructions(instructions),
			server.WithRecovery(),
		),
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() error {
	exposed := map[string]bool{}
	for _, d := range s.agent.Tools() {
		schema, ok := s.agent.Registry().InputSchema(d.Name)
		if !ok {
			continue
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("failed to encode schema of %s: %w", d.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(d.Name, d.Description, raw), s.callTool(d.Name))
		exposed[d.Name] = true
	}

	if !exposed[CancelTaskToolName] {
		s.mcp.AddTool(mcp.NewTool(
			CancelTaskToolName,
			mcp.WithDescription("Cancel a pending or running task."),
			mcp.WithString(cancelTaskParameter, mcp.Required(), mcp.Description("Id of the task to cancel")),
		), s.cancelTask)
	}

	s.logger.Debug().Int("tools", len(exposed)).Msg("MCP tools registered")
	return nil
}

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(
		AgentResourceURI,
		"agent",
		mcp.WithResourceDescription("Agent identity, capabilities and tools"),
		mcp.WithMIMEType(jsonMIMEType),
	), s.readAgent)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		TaskResourceURI,
		"task",
		mcp.WithTemplateDescription("Snapshot of a task by id"),
		mcp.WithTemplateMIMEType(jsonMIMEType),
	), s.readTask)
}

// callTool runs name as an agent task. The task id comes from the request's _meta.task_id when
// the client supplies one, so a redelivered request maps to the same task; otherwise a fresh id
// is generated. Every result carries the id in its own _meta.
func (s *Server) callTool(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := taskIDFromMeta(request.Params.Meta)
		if id == "" {
			id = uuid.NewString()
		}

		args, _ := request.Params.Arguments.(map[string]interface{})
		params, err := toMetadata(name, args)
		if err != nil {
			env := agent.Envelope{Kind: agent.KindInvalidRequest, Message: err.Error(), TaskID: id}
			return withTaskMeta(mcp.NewToolResultError(env.JSON()), id), nil
		}

		result, err := s.agent.ExecuteTask(ctx, id, params)
		if err != nil {
			env := agent.EnvelopeFrom(err)
			if env.TaskID == "" {
				env.TaskID = id
			}
			s.logger.Debug().
				Str("tool", name).
				Str("kind", env.Kind).
				Str("task_id", id).
				Msg("MCP tool call failed")
			return withTaskMeta(mcp.NewToolResultError(env.JSON()), id), nil
		}
		return withTaskMeta(mcp.NewToolResultText(result.String()), id), nil
	}
}

func taskIDFromMeta(meta *mcp.Meta) string {
	if meta == nil {
		return ""
	}
	id, _ := meta.AdditionalFields[TaskIDMetaKey].(string)
	return id
}

func withTaskMeta(result *mcp.CallToolResult, id string) *mcp.CallToolResult {
	result.Meta = mcp.NewMetaFromMap(map[string]any{TaskIDMetaKey: id})
	return result
}

func (s *Server) cancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	id, _ := args[cancelTaskParameter].(string)
	if id == "" {
		env := agent.Envelope{Kind: agent.KindInvalidRequest, Message: "task_id is required"}
		return mcp.NewToolResultError(env.JSON()), nil
	}
	if err := s.agent.Cancel(ctx, id); err != nil {
		return mcp.NewToolResultError(agent.EnvelopeFrom(err).JSON()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"task_id":%q,"status":"cancelled"}`, id)), nil
}

func (s *Server) handleEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	eventType, _ := args["type"].(string)
	payload := metadata.New()
	if raw, ok := args["payload"].(map[string]interface{}); ok {
		decoded, err := metadata.FromMap(raw)
		if err != nil {
			env := agent.Envelope{Kind: agent.KindInvalidRequest, Message: err.Error()}
			return mcp.NewToolResultError(env.JSON()), nil
		}
		payload = decoded
	}

	event := agent.NewEvent(eventType, payload)
	if err := s.agent.HandleEvent(ctx, event); err != nil {
		return mcp.NewToolResultError(agent.EnvelopeFrom(err).JSON()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"event_id":%q,"status":"applied"}`, event.ID)), nil
}

// toMetadata builds the agent request for tool from MCP call arguments.
func toMetadata(tool string, args map[string]interface{}) (*metadata.Metadata, error) {
	params := metadata.New().Insert(agent.ToolKey, metadata.String(tool))
	if len(args) == 0 {
		return params, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	decoded, err := metadata.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	decoded.Range(func(key string, v metadata.Value) bool {
		if key != agent.ToolKey {
			params.Insert(key, v)
		}
		return true
	})
	return params, nil
}

type toolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

type agentInfo struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Capabilities []string           `json:"capabilities"`
	Tools        []toolInfo         `json:"tools"`
	State        *metadata.Metadata `json:"state"`
}

func (s *Server) readAgent(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cfg := s.agent.Config()
	info := agentInfo{
		Name:         cfg.Name(),
		Description:  cfg.Description(),
		Capabilities: cfg.Capabilities(),
		Tools:        []toolInfo{},
		State:        s.agent.State(),
	}
	for _, d := range s.agent.Tools() {
		schema, _ := s.agent.Registry().InputSchema(d.Name)
		info.Tools = append(info.Tools, toolInfo{Name: d.Name, Description: d.Description, InputSchema: schema})
	}

	body, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: request.Params.URI, MIMEType: jsonMIMEType, Text: string(body)},
	}, nil
}

func (s *Server) readTask(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, TaskResourcePrefix)
	if id == "" || id == request.Params.URI {
		return nil, fmt.Errorf("invalid task uri %q", request.Params.URI)
	}

	snap, err := s.agent.Task(ctx, id)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: request.Params.URI, MIMEType: jsonMIMEType, Text: string(body)},
	}, nil
}

// ServeStdio serves MCP over the process's stdin and stdout until ctx is done or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeStdioWith(ctx, os.Stdin, os.Stdout)
}

// ServeStdioWith serves MCP over in and out.
func (s *Server) ServeStdioWith(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("Serving MCP over stdio")
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

// StartHTTP serves MCP over streamable HTTP on addr. It blocks until Shutdown is called.
func (s *Server) StartHTTP(addr string) error {
	s.mu.Lock()
	if s.http != nil {
		s.mu.Unlock()
		return errors.New("http server already started")
	}
	s.http = server.NewStreamableHTTPServer(s.mcp)
	httpServer := s.http
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("Serving MCP over streamable HTTP")
	if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP transport if it was started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.http
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}
