// Package mcp implements the Model Context Protocol server for synapse
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/graph"
	"github.com/CanopyHQ/synapse/internal/logger"
	"github.com/CanopyHQ/synapse/internal/synapse"
)

// Version is reported in serverInfo. Set by the CLI.
var Version = "dev"

const (
	resourcePrefix      = "synapse://graph/"
	conversationSummary = "synapse://conversation-summary"
)

// Server implements the MCP protocol over stdio
type Server struct {
	svc     *synapse.Service
	scanner *bufio.Scanner
	out     io.Writer
	log     *logger.Logger
}

// NewServer opens the engine from cfg and serves it on stdin/stdout.
func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	svc, err := synapse.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	return NewServerWithService(svc, os.Stdin, os.Stdout, log), nil
}

// NewServerWithService serves an existing engine over the given streams.
func NewServerWithService(svc *synapse.Service, in io.Reader, out io.Writer, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	scanner := bufio.NewScanner(in)
	// ingest_graph carries whole mermaid documents
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &Server{svc: svc, scanner: scanner, out: out, log: log.With("component", "mcp")}
}

// Start runs the request loop until stdin closes.
func (s *Server) Start() error {
	s.log.Info("mcp server ready", "version", Version)

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&request)
	}

	return s.scanner.Err()
}

// Stop closes the engine.
func (s *Server) Stop() {
	if s.svc != nil {
		s.svc.Close()
	}
}

// Service exposes the engine behind the server.
func (s *Server) Service() *synapse.Service {
	return s.svc
}

func (s *Server) handleRequest(req *JSONRPCRequest) {
	ctx := context.Background()

	// notifications carry no id and are never answered
	if req.ID == nil {
		if req.Method != "notifications/initialized" {
			s.log.Debug("ignoring notification", "method", req.Method)
		}
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	case "prompts/list":
		s.handlePromptsList(req)
	case "prompts/get":
		s.handlePromptsGet(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "synapse-mcp",
			"version": Version,
		},
	}
	s.sendResult(req.ID, result)
}

func graphProperty(desc string, values ...graph.Source) map[string]interface{} {
	enum := make([]string, len(values))
	for i, v := range values {
		enum[i] = string(v)
	}
	return map[string]interface{}{"type": "string", "enum": enum, "description": desc}
}

func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := []map[string]interface{}{
		{
			"name":        "track_conversation",
			"description": "Record one chat turn. User turns are scanned for concepts from the domain and syllabus graphs; detected concepts update the learner's personal graph and mastery.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{
						"type":        "string",
						"description": "The message text",
					},
					"role": map[string]interface{}{
						"type":        "string",
						"description": "Who sent it: user (default) or assistant. Only user turns are scored.",
					},
					"topic_hint": map[string]interface{}{
						"type":        "string",
						"description": "Optional topic of the conversation, passed to inference",
					},
				},
				"required": []string{"message"},
			},
		},
		{
			"name":        "detect_concepts",
			"description": "Detect which known concepts a text mentions, without recording anything.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "Text to scan",
					},
					"topic_hint": map[string]interface{}{
						"type":        "string",
						"description": "Optional topic hint",
					},
				},
				"required": []string{"text"},
			},
		},
		{
			"name":        "get_progress",
			"description": "List the learner's mastery per concept with counts per state (unknown, learning, known).",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "get_conversation_summary",
			"description": "Summarize the tracked chat turns: counts per role and topic, the most recent turns, and current mastery counts.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"topic": map[string]interface{}{
						"type":        "string",
						"description": "Only turns tracked with this topic hint",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Number of recent turns to include (default: 10)",
					},
				},
			},
		},
		{
			"name":        "get_learning_goals",
			"description": "List the syllabus learning outcomes and whether the learner has mastered each, plus how much of the syllabus the domain graph covers.",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "get_assignments",
			"description": "List syllabus assignments with due dates and a status: completed once the learner knows the concept, overdue past the due date, pending otherwise.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"all", "pending", "completed", "overdue"},
						"description": "Filter by status (default: all)",
					},
				},
			},
		},
		{
			"name":        "align_knowledge",
			"description": "Rebuild exact alignments, add embedding alignments, and report how much the domain, syllabus and personal graphs overlap.",
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			"name":        "next_up",
			"description": "Recommend what to study next: syllabus-relevant domain concepts the learner hasn't shown yet, ranked by readiness, assessment and due dates.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of recommendations (default: 5)",
					},
				},
			},
		},
		{
			"name":        "get_graph",
			"description": "Return the latest mermaid snapshot of a graph.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"graph": graphProperty("Which graph", graph.Sources...),
				},
				"required": []string{"graph"},
			},
		},
		{
			"name":        "ingest_graph",
			"description": "Load a domain or syllabus graph from mermaid text. Syllabus concepts may carry provenance (assignment, module, page, ...).",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"graph": graphProperty("Target graph", graph.Domain, graph.Syllabus),
					"mermaid": map[string]interface{}{
						"type":        "string",
						"description": "Mermaid flowchart text",
					},
					"provenance": map[string]interface{}{
						"type":        "array",
						"description": "Optional syllabus provenance entries, matched to concepts by label",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"label":      map[string]interface{}{"type": "string"},
								"provenance": map[string]interface{}{"type": "object"},
							},
							"required": []string{"label", "provenance"},
						},
					},
				},
				"required": []string{"graph", "mermaid"},
			},
		},
		{
			"name":        "start_learning",
			"description": "Draft a domain graph for a topic with the configured model and align it against the stored syllabus and progress.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"topic": map[string]interface{}{
						"type":        "string",
						"description": "The subject to learn",
					},
					"fresh": map[string]interface{}{
						"type":        "boolean",
						"description": "Clear all stored graphs and progress first (default: false)",
					},
				},
				"required": []string{"topic"},
			},
		},
		{
			"name":        "start_fresh_session",
			"description": "Start over on a topic: clear stored graphs, progress and chat history, then draft a new domain graph.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"topic": map[string]interface{}{
						"type":        "string",
						"description": "The subject to learn",
					},
					"reset_graphs": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether to clear stored state first (default: true)",
					},
				},
				"required": []string{"topic"},
			},
		},
		{
			"name":        "reset_session",
			"description": "Delete all graphs, progress, evidence and alignments.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"confirm": map[string]interface{}{
						"type":        "boolean",
						"description": "Must be true",
					},
				},
				"required": []string{"confirm"},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"tools": tools})
}

func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	var result interface{}
	var err error

	switch params.Name {
	case "track_conversation":
		result, err = s.toolTrackConversation(ctx, params.Arguments)
	case "detect_concepts":
		result, err = s.toolDetectConcepts(ctx, params.Arguments)
	case "get_progress":
		result, err = s.svc.Progress(ctx)
	case "get_conversation_summary":
		result, err = s.svc.ConversationSummary(ctx, argString(params.Arguments, "topic"), argInt(params.Arguments, "limit", synapse.DefaultSummaryLimit))
	case "get_learning_goals":
		result, err = s.svc.LearningGoals(ctx)
	case "get_assignments":
		result, err = s.toolGetAssignments(ctx, params.Arguments)
	case "align_knowledge":
		result, err = s.svc.Align(ctx)
	case "next_up":
		result, err = s.svc.NextUp(ctx, argInt(params.Arguments, "limit", 5))
	case "get_graph":
		result, err = s.toolGetGraph(ctx, params.Arguments)
	case "ingest_graph":
		result, err = s.toolIngestGraph(ctx, params.Arguments)
	case "start_learning":
		result, err = s.toolStartLearning(ctx, params.Arguments, "fresh", false)
	case "start_fresh_session":
		result, err = s.toolStartLearning(ctx, params.Arguments, "reset_graphs", true)
	case "reset_session":
		result, err = s.toolResetSession(ctx, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		s.log.Warn("tool call failed", "tool", params.Name, "error", err)
		s.sendResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("Error: %v", err)},
			},
			"isError": true,
		})
		return
	}

	text, _ := json.MarshalIndent(result, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	})
}

func (s *Server) toolTrackConversation(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	msg := argString(args, "message")
	if strings.TrimSpace(msg) == "" {
		return nil, fmt.Errorf("message is required")
	}
	return s.svc.TrackMessage(ctx, synapse.Message{
		Role:      argString(args, "role"),
		Text:      msg,
		TopicHint: argString(args, "topic_hint"),
	})
}

func (s *Server) toolDetectConcepts(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text := argString(args, "text")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	hits, err := s.svc.DetectConceptMentions(ctx, text, argString(args, "topic_hint"))
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []graph.Hit{}
	}
	return map[string]interface{}{"hits": hits}, nil
}

func (s *Server) toolGetGraph(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	src, err := graph.ParseSource(argString(args, "graph"))
	if err != nil {
		return nil, err
	}
	snap, err := s.svc.Snapshot(ctx, src)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Server) toolIngestGraph(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	src, err := graph.ParseSource(argString(args, "graph"))
	if err != nil {
		return nil, err
	}
	text := argString(args, "mermaid")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("mermaid is required")
	}
	var meta []synapse.Meta
	if raw, ok := args["provenance"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid provenance: %w", err)
		}
		if meta, err = synapse.ParseMeta(data); err != nil {
			return nil, err
		}
	}
	return s.svc.IngestGraph(ctx, src, text, meta)
}

func (s *Server) toolGetAssignments(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	status, err := synapse.ParseAssignmentStatus(argString(args, "status"))
	if err != nil {
		return nil, err
	}
	return s.svc.Assignments(ctx, status)
}

// toolStartLearning reads the reset flag under key, defaulting to def.
func (s *Server) toolStartLearning(ctx context.Context, args map[string]interface{}, key string, def bool) (interface{}, error) {
	fresh := def
	if v, ok := args[key].(bool); ok {
		fresh = v
	}
	return s.svc.StartLearning(ctx, argString(args, "topic"), fresh)
}

func (s *Server) toolResetSession(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if ok, _ := args["confirm"].(bool); !ok {
		return nil, fmt.Errorf("reset requires confirm=true")
	}
	if err := s.svc.Reset(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "reset"}, nil
}

func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	var resources []map[string]interface{}
	for _, src := range graph.Sources {
		resources = append(resources, map[string]interface{}{
			"uri":         resourcePrefix + string(src),
			"name":        strings.ToUpper(string(src[:1])) + string(src[1:]) + " Graph",
			"description": fmt.Sprintf("Latest mermaid snapshot of the %s graph", src),
			"mimeType":    "text/vnd.mermaid",
		})
	}
	resources = append(resources, map[string]interface{}{
		"uri":         conversationSummary,
		"name":        "Conversation Summary",
		"description": "Tracked chat turns by role and topic, with the most recent turns",
		"mimeType":    "application/json",
	})
	s.sendResult(req.ID, map[string]interface{}{"resources": resources})
}

func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	if params.URI == conversationSummary {
		sum, err := s.svc.ConversationSummary(ctx, "", synapse.DefaultSummaryLimit)
		if err != nil {
			s.sendError(req.ID, -32603, "Internal error", err.Error())
			return
		}
		text, _ := json.MarshalIndent(sum, "", "  ")
		s.sendResult(req.ID, map[string]interface{}{
			"contents": []map[string]interface{}{
				{"uri": params.URI, "mimeType": "application/json", "text": string(text)},
			},
		})
		return
	}

	name, ok := strings.CutPrefix(params.URI, resourcePrefix)
	if !ok {
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
		return
	}
	src, err := graph.ParseSource(name)
	if err != nil {
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
		return
	}
	snap, err := s.svc.Snapshot(ctx, src)
	if err != nil {
		s.sendError(req.ID, -32603, "Internal error", err.Error())
		return
	}

	s.sendResult(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "text/vnd.mermaid",
				"text":     snap.Text,
			},
		},
	})
}

func (s *Server) handlePromptsList(req *JSONRPCRequest) {
	prompts := []map[string]interface{}{
		{
			"name":        "study_plan",
			"description": "Ask for help with the learner's next concepts",
			"arguments": []map[string]interface{}{
				{
					"name":        "goal",
					"description": "What the learner is working towards",
					"required":    false,
				},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"prompts": prompts})
}

// handlePromptsGet builds a prompt from the current next-up list.
func (s *Server) handlePromptsGet(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}
	if params.Name != "study_plan" {
		s.sendError(req.ID, -32602, "Unknown prompt", params.Name)
		return
	}

	var b strings.Builder
	recs, err := s.svc.NextUp(ctx, 5)
	if err != nil {
		s.sendError(req.ID, -32603, "Internal error", err.Error())
		return
	}
	if len(recs) == 0 {
		b.WriteString("I have no syllabus-aligned concepts queued yet.\n")
	} else {
		b.WriteString("These are the concepts I should study next:\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s (%s)", r.Label, r.Why)
			if r.DueInDays != nil {
				fmt.Fprintf(&b, ", due in %d day(s)", *r.DueInDays)
			}
			if len(r.MissingPrereqs) > 0 {
				fmt.Fprintf(&b, ", missing: %s", strings.Join(r.MissingPrereqs, ", "))
			}
			b.WriteString("\n")
		}
	}
	if goal := strings.TrimSpace(params.Arguments["goal"]); goal != "" {
		fmt.Fprintf(&b, "\nMy goal: %s\n", goal)
	}
	b.WriteString("\nHelp me plan a short study session covering these.")

	s.sendResult(req.ID, map[string]interface{}{
		"description": "Study plan seeded with next-up concepts",
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": map[string]interface{}{
					"type": "text",
					"text": b.String(),
				},
			},
		},
	})
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt reads a JSON number argument, falling back to def when absent or not positive.
func argInt(args map[string]interface{}, key string, def int) int {
	if f, ok := args[key].(float64); ok && f >= 1 {
		return int(f)
	}
	return def
}

// JSON-RPC types and helpers

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) write(resp JSONRPCResponse) {
	data, _ := json.Marshal(resp)
	fmt.Fprintln(s.out, string(data))
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	s.write(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id interface{}, code int, message, data string) {
	s.write(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
