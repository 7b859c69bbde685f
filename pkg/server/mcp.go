package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/jsonutil"
	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/sop"
	"github.com/jingkaihe/skillbox/pkg/textutil"
	"github.com/jingkaihe/skillbox/pkg/version"
	"github.com/jingkaihe/skillbox/pkg/weather"
)

const defaultRunListLimit = 10

// toolset backs the MCP tools.
type toolset struct {
	classifier *classifier.Classifier
	runner     *sop.Runner
	weather    *weather.Client
}

// NewMCPServer builds an MCP server exposing a subset of the skills as
// tools. The SOP tools are only registered when deps.Runner is set, and the
// weather tool only when wc is non-nil.
func NewMCPServer(deps Deps, wc *weather.Client) *mcpserver.MCPServer {
	if deps.Classifier == nil {
		deps.Classifier = classifier.MustNew()
	}
	ts := &toolset{classifier: deps.Classifier, runner: deps.Runner, weather: wc}

	s := mcpserver.NewMCPServer(
		"skillbox",
		version.Get().Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("classify_command",
		mcp.WithDescription("Rate the risk of a shell command before running it"),
		mcp.WithString("command", mcp.Required(), mcp.Description("The shell command to classify")),
	), ts.classifyCommand)

	modes := make([]string, len(textutil.CaseModes))
	for i, m := range textutil.CaseModes {
		modes[i] = string(m)
	}
	s.AddTool(mcp.NewTool("text_case",
		mcp.WithDescription("Convert text between letter cases"),
		mcp.WithString("text", mcp.Required(), mcp.Description("The text to convert")),
		mcp.WithString("mode", mcp.Required(), mcp.Description("Target case"), mcp.Enum(modes...)),
	), ts.textCase)

	s.AddTool(mcp.NewTool("json_validate",
		mcp.WithDescription("Check that a document is valid JSON, optionally against a JSON Schema"),
		mcp.WithString("document", mcp.Required(), mcp.Description("The JSON document")),
		mcp.WithBoolean("jsonc", mcp.Description("Accept comments and trailing commas")),
		mcp.WithString("schema", mcp.Description("JSON Schema the document must satisfy")),
	), ts.jsonValidate)

	if wc != nil {
		s.AddTool(mcp.NewTool("weather",
			mcp.WithDescription("Current conditions and a short forecast for a location"),
			mcp.WithString("location", mcp.Required(), mcp.Description("City name, airport code or coordinates")),
		), ts.currentWeather)
	}

	if deps.Runner != nil {
		s.AddTool(mcp.NewTool("sop_status",
			mcp.WithDescription("Show an SOP run, or list the most recent runs when no id is given"),
			mcp.WithString("run_id", mcp.Description("Run id")),
			mcp.WithString("status", mcp.Description("Only list runs in this status")),
		), ts.sopStatus)

		s.AddTool(mcp.NewTool("sop_approve",
			mcp.WithDescription("Approve the step an SOP run is waiting on"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
			mcp.WithString("approver", mcp.Required(), mcp.Description("Who is approving")),
			mcp.WithString("note", mcp.Description("Reason or ticket reference")),
		), ts.sopApprove)
	}

	return s
}

// ServeMCP serves the tools over stdio until the client disconnects.
func ServeMCP(ctx context.Context, s *mcpserver.MCPServer) error {
	logger.G(ctx).Info("serving MCP over stdio")
	if err := mcpserver.ServeStdio(s); err != nil {
		return errors.Wrap(err, "MCP server error")
	}
	return nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := any(req.Params.Arguments).(map[string]any)
	if args == nil {
		return map[string]any{}
	}
	return args
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func requiredArg(args map[string]any, key string) (string, error) {
	s := strings.TrimSpace(stringArg(args, key))
	if s == "" {
		return "", errors.Errorf("%s is required", key)
	}
	return s, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tool result")
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *toolset) classifyCommand(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := requiredArg(arguments(req), "command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t.classifier.Classify(command))
}

func (t *toolset) textCase(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	mode, err := requiredArg(args, "mode")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := textutil.ConvertCase(stringArg(args, "text"), textutil.CaseMode(mode))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(out), nil
}

type validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (t *toolset) jsonValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	doc := []byte(stringArg(args, "document"))
	jsonc, _ := args["jsonc"].(bool)

	if err := jsonutil.Validate(doc, jsonc); err != nil {
		return jsonResult(validation{Error: err.Error()})
	}
	if schema := stringArg(args, "schema"); schema != "" {
		if jsonc {
			std, err := jsonutil.Standardize(doc)
			if err != nil {
				return jsonResult(validation{Error: err.Error()})
			}
			doc = std
		}
		if err := jsonutil.ValidateSchema(doc, []byte(schema)); err != nil {
			return jsonResult(validation{Error: err.Error()})
		}
	}
	return jsonResult(validation{Valid: true})
}

func (t *toolset) currentWeather(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	location, err := requiredArg(arguments(req), "location")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := t.weather.Current(ctx, location)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report)
}

func (t *toolset) sopStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	if id := strings.TrimSpace(stringArg(args, "run_id")); id != "" {
		run, err := t.runner.Get(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(run)
	}

	runs, err := t.runner.List(ctx, sop.RunFilter{
		Status: sop.Status(stringArg(args, "status")),
		Limit:  defaultRunListLimit,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if runs == nil {
		runs = []*sop.Run{}
	}
	return jsonResult(runs)
}

func (t *toolset) sopApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	id, err := requiredArg(args, "run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	approver, err := requiredArg(args, "approver")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	run, err := t.runner.Approve(ctx, id, "mcp:"+approver, stringArg(args, "note"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(run)
}
