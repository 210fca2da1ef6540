package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	configsvc "github.com/alanyang/lead-mesh/internal/service/config"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"
)

// Services bundles what the tools call into.
type Services struct {
	Agents *agentsvc.Service
	Leads  *leadsvc.Service
	Config *configsvc.Service
	Dist   portdist.Distributor
	Bulk   portdist.BulkDistributor
}

// RegisterTools registers all MCP tools on the server.
func RegisterTools(s *mcpserver.MCPServer, reg *SessionRegistry, svc Services) {
	s.AddTool(mcpmcp.NewTool("connect_agent",
		mcpmcp.WithDescription("Bind this session to an agent so new lead assignments arrive as notifications. Marks the agent available; closing the session marks it unavailable again."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
	), connectAgentHandler(reg, svc.Agents))

	s.AddTool(mcpmcp.NewTool("set_availability",
		mcpmcp.WithDescription("Toggle whether the agent receives new leads."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
		mcpmcp.WithBoolean("available", mcpmcp.Required(), mcpmcp.Description("true to join the distribution pool")),
	), setAvailabilityHandler(svc.Agents))

	s.AddTool(mcpmcp.NewTool("list_my_leads",
		mcpmcp.WithDescription("Leads currently assigned to the agent, oldest first."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
	), listMyLeadsHandler(svc.Leads))

	s.AddTool(mcpmcp.NewTool("update_lead_status",
		mcpmcp.WithDescription("Move a lead through open, contacted, qualified and closed. Closing a lead frees capacity for new assignments."),
		mcpmcp.WithString("lead_id", mcpmcp.Required(), mcpmcp.Description("Lead UUID")),
		mcpmcp.WithString("from", mcpmcp.Required(), mcpmcp.Description("Current status (CAS guard)")),
		mcpmcp.WithString("to", mcpmcp.Required(), mcpmcp.Description("Target status")),
		mcpmcp.WithString("stage", mcpmcp.Description("Free-text pipeline stage")),
	), updateLeadStatusHandler(svc.Leads))

	s.AddTool(mcpmcp.NewTool("assign_lead",
		mcpmcp.WithDescription("Run the distribution policy for one unassigned lead."),
		mcpmcp.WithString("lead_id", mcpmcp.Required(), mcpmcp.Description("Lead UUID")),
	), assignLeadHandler(svc.Dist))

	s.AddTool(mcpmcp.NewTool("distribute_leads",
		mcpmcp.WithDescription("Assign every unassigned lead, oldest first."),
	), distributeLeadsHandler(svc.Bulk))

	s.AddTool(mcpmcp.NewTool("list_unassigned_leads",
		mcpmcp.WithDescription("Leads waiting for an owner, oldest first."),
	), listUnassignedHandler(svc.Leads))

	s.AddTool(mcpmcp.NewTool("get_distribution_config",
		mcpmcp.WithDescription("The algorithm new leads are distributed with."),
	), getConfigHandler(svc.Config))

	s.AddTool(mcpmcp.NewTool("set_distribution_algorithm",
		mcpmcp.WithDescription("Switch the distribution algorithm. Takes effect on the next assignment."),
		mcpmcp.WithString("algorithm", mcpmcp.Required(), mcpmcp.Description("One of: round-robin, least-busy, random")),
	), setAlgorithmHandler(svc.Config))
}

// ── Tool handlers ─────────────────────────────────────────────────────────

func connectAgentHandler(reg *SessionRegistry, agents *agentsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, ok := parseUUID(req, "agent_id")
		if !ok {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}

		a, err := agents.GetByID(ctx, agentID)
		if err != nil {
			return errorResult(err), nil
		}
		if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
			reg.Register(session.SessionID(), a.ID)
		}
		if !a.Available {
			if err := agents.SetAvailability(ctx, a.ID, true); err != nil {
				return errorResult(err), nil
			}
			a.Available = true
		}
		return jsonResult(a), nil
	}
}

func setAvailabilityHandler(agents *agentsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, ok := parseUUID(req, "agent_id")
		if !ok {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		available := mcpmcp.ParseBoolean(req, "available", false)
		if err := agents.SetAvailability(ctx, agentID, available); err != nil {
			return errorResult(err), nil
		}
		return mcpmcp.NewToolResultText(`{"ok":true}`), nil
	}
}

func listMyLeadsHandler(leads *leadsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, ok := parseUUID(req, "agent_id")
		if !ok {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		list, err := leads.List(ctx, domainlead.ListFilters{AssignedTo: &agentID, OldestFirst: true})
		if err != nil {
			return errorResult(err), nil
		}
		if list == nil {
			list = []domainlead.Lead{}
		}
		return jsonResult(list), nil
	}
}

func updateLeadStatusHandler(leads *leadsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		leadID, ok := parseUUID(req, "lead_id")
		if !ok {
			return mcpmcp.NewToolResultText("error: invalid lead_id"), nil
		}
		from := domainlead.Status(mcpmcp.ParseString(req, "from", ""))
		to := domainlead.Status(mcpmcp.ParseString(req, "to", ""))
		stage := mcpmcp.ParseString(req, "stage", "")

		l, err := leads.UpdateStatus(ctx, leadID, from, to, stage)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(l), nil
	}
}

func assignLeadHandler(dist portdist.Distributor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		leadID, ok := parseUUID(req, "lead_id")
		if !ok {
			return mcpmcp.NewToolResultText("error: invalid lead_id"), nil
		}
		res, err := dist.Assign(ctx, leadID)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(res), nil
	}
}

func distributeLeadsHandler(bulk portdist.BulkDistributor) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		results, err := bulk.DistributeUnassigned(ctx)
		if results == nil {
			results = []domainassignment.Result{}
		}
		if err != nil {
			data, _ := json.Marshal(map[string]any{"assigned": results, "error": err.Error()})
			return mcpmcp.NewToolResultText(string(data)), nil
		}
		return jsonResult(map[string]any{"assigned": results, "count": len(results)}), nil
	}
}

func listUnassignedHandler(leads *leadsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		list, err := leads.List(ctx, domainlead.ListFilters{Unassigned: true, OldestFirst: true})
		if err != nil {
			return errorResult(err), nil
		}
		if list == nil {
			list = []domainlead.Lead{}
		}
		return jsonResult(list), nil
	}
}

func getConfigHandler(cfg *configsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		conf, err := cfg.Get(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(conf), nil
	}
}

func setAlgorithmHandler(cfg *configsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		conf, err := cfg.SetAlgorithm(ctx, mcpmcp.ParseString(req, "algorithm", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(conf), nil
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func parseUUID(req mcpmcp.CallToolRequest, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mcpmcp.ParseString(req, key, ""))
	return id, err == nil
}

func jsonResult(v any) *mcpmcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err))
	}
	return mcpmcp.NewToolResultText(string(data))
}

// errorResult keeps tool failures in-band as text, the way agents read them.
// Configuration problems are flagged so an operator can be paged.
func errorResult(err error) *mcpmcp.CallToolResult {
	if distribution.IsConfiguration(err) {
		return mcpmcp.NewToolResultText(fmt.Sprintf("error: configuration: %s", err))
	}
	return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err))
}
