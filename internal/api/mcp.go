package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/interviewd/internal/orchestrator"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/supervisor"
	"github.com/kalambet/interviewd/internal/transport"
)

const sessionURIPrefix = "session://"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Supervisor *supervisor.Supervisor
	Store      *storage.Store
}

// NewMCPServer creates an MCP server that lets an agent drive interview
// sessions through tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"interviewd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("interviewd runs mock interviews. Start a session, then alternate ask_next_question and submit_response until the interview concludes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start an interview session driven by tool calls."),
			mcp.WithString("payload", mcp.Description(`JSON creation payload: {"sessionId", "interviewConfig", "candidateProfile"}`), mcp.Required()),
		),
		mcpStartSession(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_next_question",
			mcp.WithDescription("Ask the next interview question, or conclude the interview when it is over."),
			mcp.WithString("session_id", mcp.Description("Live session id"), mcp.Required()),
		),
		mcpAskNextQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_response",
			mcp.WithDescription("Submit the candidate's answer to the current question and get spoken feedback."),
			mcp.WithString("session_id", mcp.Description("Live session id"), mcp.Required()),
			mcp.WithString("response", mcp.Description("The candidate's answer"), mcp.Required()),
			mcp.WithNumber("question_index", mcp.Description("Index of the question being answered (optional)")),
		),
		mcpSubmitResponse(deps),
	)

	s.AddTool(
		mcp.NewTool("provide_hint",
			mcp.WithDescription("Get a structural hint for the current question."),
			mcp.WithString("session_id", mcp.Description("Live session id"), mcp.Required()),
		),
		mcpProvideHint(deps),
	)

	s.AddTool(
		mcp.NewTool("clarify_question",
			mcp.WithDescription("Restate or clarify the current question."),
			mcp.WithString("session_id", mcp.Description("Live session id"), mcp.Required()),
			mcp.WithString("request", mcp.Description("What the candidate asked about")),
		),
		mcpClarifyQuestion(deps),
	)

	s.AddTool(
		mcp.NewTool("conclude_interview",
			mcp.WithDescription("End the interview now and return the final feedback."),
			mcp.WithString("session_id", mcp.Description("Live session id"), mcp.Required()),
		),
		mcpConcludeInterview(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			sessionURIPrefix+"{id}",
			"Interview Session",
			mcp.WithTemplateDescription("Progress snapshot of a live or finished session as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

// toolConn is the Conn of a session driven only by tool calls. It never
// produces events; outbound envelopes are dropped since every tool call
// returns its result directly.
type toolConn struct {
	events chan transport.Event
}

func newToolConn() *toolConn {
	return &toolConn{events: make(chan transport.Event)}
}

func (c *toolConn) Events() <-chan transport.Event { return c.events }

func (c *toolConn) Send(context.Context, transport.Envelope) error { return nil }

func mcpStartSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}
		p, err := supervisor.Decode([]byte(raw))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		o, err := deps.Supervisor.Launch(p, newToolConn())
		if err != nil {
			return mcpError(fmt.Sprintf("starting session: %v", err)), nil
		}
		if err := o.Connect(ctx); err != nil {
			return mcpError(fmt.Sprintf("connecting session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Session %s started (%s interview for %s). Call ask_next_question to begin.",
			o.ID(), o.Config().Kind, o.Config().TargetRole)), nil
	}
}

type turnResult struct {
	Prompt     string                  `json:"prompt,omitempty"`
	Question   *session.QuestionRecord `json:"question,omitempty"`
	Conclusion *orchestrator.Conclusion `json:"conclusion,omitempty"`
}

func mcpAskNextQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, res := liveSession(deps, req)
		if res != nil {
			return res, nil
		}

		turn, err := o.AskNextQuestion(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("asking next question: %v", err)), nil
		}
		return mcpJSON(turnResult{Prompt: turn.Prompt, Question: turn.Question, Conclusion: turn.Conclusion})
	}
}

func mcpSubmitResponse(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, res := liveSession(deps, req)
		if res != nil {
			return res, nil
		}
		text, err := req.RequireString("response")
		if err != nil {
			return mcpError("response is required"), nil
		}

		var index *int
		if _, ok := req.GetArguments()["question_index"]; ok {
			i := req.GetInt("question_index", 0)
			index = &i
		}

		reply, err := o.SubmitResponse(ctx, text, index)
		if err != nil {
			return mcpError(fmt.Sprintf("submitting response: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpProvideHint(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, res := liveSession(deps, req)
		if res != nil {
			return res, nil
		}
		return mcpText(o.ProvideHint(ctx)), nil
	}
}

func mcpClarifyQuestion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, res := liveSession(deps, req)
		if res != nil {
			return res, nil
		}
		return mcpText(o.HandleClarification(ctx, req.GetString("request", ""))), nil
	}
}

func mcpConcludeInterview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		o, res := liveSession(deps, req)
		if res != nil {
			return res, nil
		}
		c, err := o.ConcludeInterview(ctx, orchestrator.ReasonRequested)
		if err != nil {
			return mcpError(fmt.Sprintf("concluding interview: %v", err)), nil
		}
		return mcpJSON(c)
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(req.Params.URI, sessionURIPrefix)
		if id == "" || id == req.Params.URI {
			return nil, fmt.Errorf("invalid session uri %q", req.Params.URI)
		}

		var snap session.Snapshot
		if o, ok := deps.Supervisor.Get(id); ok {
			snap = o.Snapshot()
		} else {
			var err error
			snap, err = deps.Store.LatestSnapshot(id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("session %s not found", id)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to load session: %w", err)
			}
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// liveSession resolves the session_id argument. A non-nil result is the
// error to hand back to the caller.
func liveSession(deps MCPDeps, req mcp.CallToolRequest) (*orchestrator.Orchestrator, *mcp.CallToolResult) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return nil, mcpError("session_id is required")
	}
	o, ok := deps.Supervisor.Get(id)
	if !ok {
		return nil, mcpError(fmt.Sprintf("session %s is not live", id))
	}
	return o, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
