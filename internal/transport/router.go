package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/lead-mesh/internal/domain/event"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	porteventbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	configsvc "github.com/alanyang/lead-mesh/internal/service/config"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"

	agenthandler "github.com/alanyang/lead-mesh/internal/transport/agent"
	disthandler "github.com/alanyang/lead-mesh/internal/transport/distribution"
	leadhandler "github.com/alanyang/lead-mesh/internal/transport/lead"
	wshandler "github.com/alanyang/lead-mesh/internal/transport/ws"
)

// Engine is the distributor as the HTTP surface sees it.
type Engine interface {
	portdist.Distributor
	portdist.BulkDistributor
}

func NewRouter(
	ctx context.Context,
	leadSvc *leadsvc.Service,
	agentSvc *agentsvc.Service,
	configSvc *configsvc.Service,
	engine Engine,
	hub *wshandler.Hub,
	mcpHandler http.Handler,
	idem portidem.Store,
	eventBus porteventbus.EventBus,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())
	r.Use(IdempotencyMiddleware(idem))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")

	leadhandler.Register(api.Group("/leads"), leadSvc, engine)
	agenthandler.Register(api.Group("/agents"), agentSvc)
	disthandler.Register(api.Group("/distribution"), configSvc, engine)
	hub.Register(api.Group("/ws"))

	if mcpHandler != nil {
		r.Any("/mcp", gin.WrapH(mcpHandler))
	}

	// Bridge: one subscription per domain channel. Every event is forwarded to
	// dashboard sockets; event.Type in the payload lets the client filter.
	for _, ch := range event.Channels() {
		c := ch
		if _, err := eventBus.Subscribe(ctx, c, func(_ context.Context, e event.Event) {
			hub.Broadcast(e)
		}); err != nil {
			slog.Error("failed to subscribe channel to WS hub", "channel", c, "error", err)
		}
	}

	return r
}
