package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	configsvc "github.com/alanyang/lead-mesh/internal/service/config"
)

var algorithmHelp = map[distribution.Algorithm]string{
	distribution.RoundRobin: "Leads rotate through available agents in creation order; agents at capacity are skipped.",
	distribution.LeastBusy:  "Each lead goes to the available agent with the fewest open leads; ties go to the longest-registered agent.",
	distribution.Random:     "Each lead goes to a randomly chosen available agent with spare capacity.",
}

// RegisterPrompts registers the distribution_policy prompt, which tells an
// assistant how leads are currently being routed.
func RegisterPrompts(s *mcpserver.MCPServer, cfg *configsvc.Service) {
	s.AddPrompt(
		mcpmcp.NewPrompt("distribution_policy",
			mcpmcp.WithPromptDescription("Explains the active lead distribution policy and its fallback rules."),
		),
		policyPromptHandler(cfg),
	)
}

func policyPromptHandler(cfg *configsvc.Service) mcpserver.PromptHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.GetPromptRequest) (*mcpmcp.GetPromptResult, error) {
		conf, err := cfg.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("get distribution config: %w", err)
		}

		return mcpmcp.NewGetPromptResult(
			"Lead distribution policy",
			[]mcpmcp.PromptMessage{
				mcpmcp.NewPromptMessage(
					mcpmcp.RoleUser,
					mcpmcp.TextContent{
						Type: "text",
						Text: policyText(conf.Algorithm),
					},
				),
			},
		), nil
	}
}

func policyText(algo distribution.Algorithm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active algorithm: %s.\n%s\n\n", algo, algorithmHelp[algo])
	b.WriteString("Only agents with role user that are marked available take part. ")
	b.WriteString("Closed leads do not count toward an agent's max_leads.\n")
	b.WriteString("If no agent is available, or all are at capacity, the lead goes to the first administrator. ")
	b.WriteString("If there is no administrator the lead stays unassigned and the call fails with a configuration error.")
	return b.String()
}
