package wire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyang/lead-mesh/internal/domain/event"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	porteventbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
)

// sweeper drains the unassigned backlog when capacity appears. Leads that fell
// through while nobody was available (or were bulk-imported with auto-assign
// off) reach the next agent who comes online without an operator running
// distribution by hand.
//
// Bursts of AgentAvailable events (a shift starting) collapse into one run
// after the debounce window.
type sweeper struct {
	ctx      context.Context
	bulk     portdist.BulkDistributor
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // bumped by every trigger; only the newest timer may run
}

func startSweeper(ctx context.Context, bus porteventbus.EventBus, bulk portdist.BulkDistributor, debounce time.Duration) (*sweeper, error) {
	s := &sweeper{ctx: ctx, bulk: bulk, debounce: debounce}

	if _, err := bus.Subscribe(ctx, event.ChannelAgent, func(_ context.Context, e event.Event) {
		if e.Type == event.TypeAgentAvailable {
			s.trigger()
		}
	}); err != nil {
		return nil, err
	}

	// Startup sweep: leads left behind by a restart.
	s.trigger()
	return s, nil
}

func (s *sweeper) trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
}

// fire runs the sweep unless a later trigger superseded this timer. Stop cannot
// recall a timer whose callback has already started, so the generation check
// is what drops it.
func (s *sweeper) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.run()
}

func (s *sweeper) run() {
	if s.ctx.Err() != nil {
		return
	}
	results, err := s.bulk.DistributeUnassigned(s.ctx)
	if err != nil {
		slog.Error("sweeper: distribution failed", "assigned", len(results), "error", err)
		return
	}
	if len(results) > 0 {
		slog.Info("sweeper: assigned waiting leads", "count", len(results))
	}
}
