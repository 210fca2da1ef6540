package wire

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	amqpadapter "github.com/alanyang/lead-mesh/internal/adapter/amqp"
	"github.com/alanyang/lead-mesh/internal/adapter/fanout"
	"github.com/alanyang/lead-mesh/internal/adapter/memory"
	pgdb "github.com/alanyang/lead-mesh/internal/adapter/postgres"
	pgagent "github.com/alanyang/lead-mesh/internal/adapter/postgres/agent"
	pgassignment "github.com/alanyang/lead-mesh/internal/adapter/postgres/assignment"
	pgeventbus "github.com/alanyang/lead-mesh/internal/adapter/postgres/eventbus"
	pgidempotency "github.com/alanyang/lead-mesh/internal/adapter/postgres/idempotency"
	pglead "github.com/alanyang/lead-mesh/internal/adapter/postgres/lead"
	pglocker "github.com/alanyang/lead-mesh/internal/adapter/postgres/locker"
	pgsettings "github.com/alanyang/lead-mesh/internal/adapter/postgres/settings"

	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
	portassignment "github.com/alanyang/lead-mesh/internal/port/assignment"
	portconfig "github.com/alanyang/lead-mesh/internal/port/config"
	porteventbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
	portlead "github.com/alanyang/lead-mesh/internal/port/lead"

	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	configsvc "github.com/alanyang/lead-mesh/internal/service/config"
	"github.com/alanyang/lead-mesh/internal/service/distributor"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"

	"github.com/alanyang/lead-mesh/internal/transport"
	mcptransport "github.com/alanyang/lead-mesh/internal/transport/mcp"
	wshandler "github.com/alanyang/lead-mesh/internal/transport/ws"
)

// App holds the top-level resources needed to run and gracefully stop the server.
type App struct {
	Server    *http.Server
	Engine    *distributor.Engine
	MCPServer *mcptransport.Server

	sweeper *sweeper
	closers []func()
}

// Close releases connections in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type agentStore interface {
	portagent.Repository
	portagent.PoolReader
}

type leadStore interface {
	portlead.Repository
	portlead.CapacityCounter
}

type assignmentStore interface {
	portassignment.Writer
	portassignment.Transferrer
	portassignment.LogReader
}

type storage struct {
	agents      agentStore
	leads       leadStore
	assignments assignmentStore
	settings    portconfig.Store
	idempotency portidem.Store
	bus         porteventbus.EventBus
	engineOpts  []distributor.Option
}

// Build is the composition root: the only place concrete types are wired to their
// interface dependencies.
func Build(ctx context.Context, cfg Config) (*App, error) {
	app := &App{}

	// ── Storage ──────────────────────────────────────────────────────────────
	var st storage
	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL not set")
		}
		pool, err := pgdb.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		if err := pgdb.Migrate(ctx, pool); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		bus := pgeventbus.New(pool)
		app.closers = append(app.closers, bus.Close)

		st = storage{
			agents:      pgagent.New(pool),
			leads:       pglead.New(pool),
			assignments: pgassignment.New(pool),
			settings:    pgsettings.New(pool),
			idempotency: pgidempotency.New(pool),
			bus:         bus,
			// Replicas share one database, so the critical section must too.
			engineOpts: []distributor.Option{distributor.WithLocker(pglocker.New(pool))},
		}
	case StorageMemory:
		store := memory.NewStore()
		st = storage{
			agents:      store.Agents(),
			leads:       store.Leads(),
			assignments: store,
			settings:    store,
			idempotency: memory.NewIdempotencyStore(),
			bus:         memory.NewEventBus(),
		}
		slog.Warn("using in-memory storage; state is lost on restart and replicas are not coordinated")
	default:
		return nil, fmt.Errorf("unknown STORAGE %q (want %s or %s)", cfg.Storage, StoragePostgres, StorageMemory)
	}

	// ── Notifiers ────────────────────────────────────────────────────────────
	hub := wshandler.NewHub()
	reg := mcptransport.NewSessionRegistry()
	notifier := fanout.Notifier{hub, reg}

	if cfg.AMQPURL != "" {
		pub, err := amqpadapter.New(cfg.AMQPURL, cfg.AMQPExchange, "lead-mesh")
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connecting to amqp: %w", err)
		}
		app.closers = append(app.closers, func() {
			if err := pub.Close(); err != nil {
				slog.Error("amqp close failed", "error", err)
			}
		})
		notifier = append(notifier, pub)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	engine := distributor.NewEngine(
		st.agents,
		st.leads,
		st.leads,
		st.assignments,
		st.settings,
		notifier,
		st.bus,
		st.engineOpts...,
	)

	agentSvc := agentsvc.NewService(st.agents, st.bus)
	configSvc := configsvc.NewService(st.settings, st.bus)
	leadSvc := leadsvc.NewService(st.leads, st.agents, st.assignments, st.assignments, engine, notifier, st.bus, cfg.AutoAssign)

	mcpServer := mcptransport.New(reg, mcptransport.Services{
		Agents: agentSvc,
		Leads:  leadSvc,
		Config: configSvc,
		Dist:   engine,
		Bulk:   engine,
	})

	// ── Transport ─────────────────────────────────────────────────────────────
	router := transport.NewRouter(
		ctx,
		leadSvc,
		agentSvc,
		configSvc,
		engine,
		hub,
		mcpServer.Handler(),
		st.idempotency,
		st.bus,
	)

	app.Server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	app.Engine = engine
	app.MCPServer = mcpServer

	// ── Backlog sweeper ──────────────────────────────────────────────────────
	// With auto-assign off, leads wait for an explicit assign or distribution run.
	if cfg.AutoAssign {
		sw, err := startSweeper(ctx, st.bus, engine, cfg.SweepDebounce)
		if err != nil {
			slog.Error("sweeper: failed to subscribe to agent channel", "error", err)
		}
		app.sweeper = sw
	}

	slog.Info("application wired",
		"port", cfg.Port, "storage", cfg.Storage, "auto_assign", cfg.AutoAssign, "amqp", cfg.AMQPURL != "")
	return app, nil
}
