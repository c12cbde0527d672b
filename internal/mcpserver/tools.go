package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marchese29/HubitatRulesMCP/internal/common/logger"
	"github.com/marchese29/HubitatRulesMCP/internal/store"
)

func registerTools(s *server.MCPServer, deps Deps, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("get_rules",
			mcp.WithDescription("List every persisted rule, annotated with whether it is currently installed and running."),
		),
		getRulesHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("install_rule",
			mcp.WithDescription("Install a persisted rule by name, resolving its trigger/action code against the process's compiled rule registry."),
			mcp.WithString("name", mcp.Required(), mcp.Description("The rule's name")),
		),
		installRuleHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("uninstall_rule",
			mcp.WithDescription("Stop and remove a currently installed rule."),
			mcp.WithString("name", mcp.Required(), mcp.Description("The rule's name")),
		),
		uninstallRuleHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("get_scenes",
			mcp.WithDescription("List scenes, optionally filtered by name or member device, annotated with whether each is currently applied."),
			mcp.WithString("name", mcp.Description("Filter to a single scene name (optional)")),
			mcp.WithNumber("device_id", mcp.Description("Filter to scenes that reference this device id (optional)")),
		),
		getScenesHandler(deps),
	)

	s.AddTool(
		mcp.NewTool("set_scene",
			mcp.WithDescription("Apply a scene's device commands."),
			mcp.WithString("name", mcp.Required(), mcp.Description("The scene's name")),
		),
		setSceneHandler(deps),
	)
}

func getRulesHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Store.ListRules(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list rules: %v", err)), nil
		}
		active := make(map[string]bool)
		for _, name := range deps.Handler.GetActiveRules() {
			active[name] = true
		}
		type ruleView struct {
			*store.RuleRecord
			Active bool `json:"active"`
		}
		views := make([]ruleView, 0, len(records))
		for _, r := range records {
			views = append(views, ruleView{RuleRecord: r, Active: active[r.Name]})
		}
		encoded, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode rules: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

func installRuleHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if deps.Install == nil {
			return mcp.NewToolResultError("no rule registry configured for this process"), nil
		}
		if err := deps.Install(ctx, name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to install rule %q: %v", name, err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("rule %q installed", name)), nil
	}
}

func uninstallRuleHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := deps.Handler.UninstallRule(name); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to uninstall rule %q: %v", name, err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("rule %q uninstalled", name)), nil
	}
}

func getScenesHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := req.GetString("name", "")
		deviceID := int(req.GetFloat("device_id", 0))

		scenes, err := deps.Scenes.GetScenes(ctx, name, deviceID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list scenes: %v", err)), nil
		}
		encoded, err := json.MarshalIndent(scenes, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode scenes: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}

func setSceneHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, err := deps.Scenes.SetScene(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to set scene %q: %v", name, err)), nil
		}
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(encoded)), nil
	}
}
