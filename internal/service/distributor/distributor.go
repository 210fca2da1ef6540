package distributor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	portagent "github.com/alanyang/lead-mesh/internal/port/agent"
	portassignment "github.com/alanyang/lead-mesh/internal/port/assignment"
	portconfig "github.com/alanyang/lead-mesh/internal/port/config"
	portdist "github.com/alanyang/lead-mesh/internal/port/distributor"
	portbus "github.com/alanyang/lead-mesh/internal/port/eventbus"
	portlead "github.com/alanyang/lead-mesh/internal/port/lead"
	portlocker "github.com/alanyang/lead-mesh/internal/port/locker"
	portnotifier "github.com/alanyang/lead-mesh/internal/port/notifier"
)

var (
	_ portdist.Distributor     = (*Engine)(nil)
	_ portdist.BulkDistributor = (*Engine)(nil)
)

// Shuffler reorders the eligible pool in place for the random algorithm.
type Shuffler func(agents []domainagent.Agent)

type Option func(*Engine)

// WithShuffle replaces the random source so tests can pin the order.
func WithShuffle(fn Shuffler) Option {
	return func(e *Engine) { e.shuffle = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocker extends the critical section across processes sharing the database.
func WithLocker(l portlocker.AdvisoryLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// Engine decides which agent receives each lead.
//
// Every decision runs inside one critical section: the rotation cursor, the capacity
// reads and the assignment write happen under e.mu (and the advisory lock when one is
// configured), so two leads can never both pass a stale capacity check.
type Engine struct {
	pool     portagent.PoolReader
	leads    portlead.Reader
	capacity portlead.CapacityCounter
	writer   portassignment.Writer
	config   portconfig.Store
	notifier portnotifier.AssignmentNotifier
	bus      portbus.EventBus
	locker   portlocker.AdvisoryLocker
	shuffle  Shuffler
	now      func() time.Time

	mu     sync.Mutex
	cursor uint64
}

func NewEngine(
	pool portagent.PoolReader,
	leads portlead.Reader,
	capacity portlead.CapacityCounter,
	writer portassignment.Writer,
	config portconfig.Store,
	notifier portnotifier.AssignmentNotifier,
	bus portbus.EventBus,
	opts ...Option,
) *Engine {
	e := &Engine{
		pool:     pool,
		leads:    leads,
		capacity: capacity,
		writer:   writer,
		config:   config,
		notifier: notifier,
		bus:      bus,
		shuffle: func(agents []domainagent.Agent) {
			rand.Shuffle(len(agents), func(i, j int) { agents[i], agents[j] = agents[j], agents[i] })
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cursor reports how many round-robin attempts have been made since start.
func (e *Engine) Cursor() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Assign gives an unassigned lead to exactly one agent, falling back to an
// administrator when no eligible agent has capacity. Assigning a lead that already
// has an owner fails with distribution.ErrAlreadyAssigned.
func (e *Engine) Assign(ctx context.Context, leadID uuid.UUID) (domainassignment.Result, error) {
	var res domainassignment.Result
	err := e.critical(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.assignLocked(ctx, leadID)
		return err
	})
	if err != nil {
		return domainassignment.Result{}, err
	}
	e.announce(ctx, res)
	return res, nil
}

// DistributeUnassigned assigns every currently unassigned lead, oldest first, sharing
// one critical section and one rotation cursor across the batch. Results committed
// before an error are still returned.
func (e *Engine) DistributeUnassigned(ctx context.Context) ([]domainassignment.Result, error) {
	var results []domainassignment.Result
	err := e.critical(ctx, func(ctx context.Context) error {
		pending, err := e.leads.List(ctx, domainlead.ListFilters{Unassigned: true, OldestFirst: true})
		if err != nil {
			return fmt.Errorf("list unassigned leads: %w", err)
		}
		for _, l := range pending {
			res, err := e.assignLocked(ctx, l.ID)
			if errors.Is(err, distribution.ErrAlreadyAssigned) {
				continue
			}
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	for _, res := range results {
		e.announce(ctx, res)
	}
	if err != nil {
		return results, fmt.Errorf("distribute unassigned leads: %w", err)
	}
	return results, nil
}

func (e *Engine) critical(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locker == nil {
		return fn(ctx)
	}
	return e.locker.WithLock(ctx, lockKey, fn)
}

type decision struct {
	agent    domainagent.Agent
	reason   string
	fallback bool
}

func (e *Engine) assignLocked(ctx context.Context, leadID uuid.UUID) (domainassignment.Result, error) {
	l, err := e.leads.GetByID(ctx, leadID)
	if err != nil {
		return domainassignment.Result{}, fmt.Errorf("load lead %s: %w", leadID, err)
	}
	if l.IsAssigned() {
		return domainassignment.Result{}, fmt.Errorf("assign lead %s: %w", leadID, distribution.ErrAlreadyAssigned)
	}

	algo := e.algorithm(ctx)
	d, err := e.decide(ctx, algo)
	if err != nil {
		return domainassignment.Result{}, fmt.Errorf("assign lead %s: %w", leadID, err)
	}

	now := e.now()
	agentID := d.agent.ID
	rec := domainassignment.Record{
		LeadID:     leadID,
		AgentID:    agentID,
		AssignedAt: now,
		Entry:      domainassignment.NewLogEntry(leadID, &agentID, fmt.Sprintf("assigned to %s (%s)", d.agent.Name, d.reason), now),
	}
	if !d.fallback {
		rec.CapacityGuard = d.agent.MaxLeads
	}
	if err := e.writer.Assign(ctx, rec); err != nil {
		return domainassignment.Result{}, fmt.Errorf("persist assignment for lead %s: %w", leadID, err)
	}

	return domainassignment.Result{
		LeadID:     leadID,
		AgentID:    agentID,
		AgentName:  d.agent.Name,
		Reason:     d.reason,
		Algorithm:  algo,
		Fallback:   d.fallback,
		AssignedAt: now,
	}, nil
}

// algorithm reads the configured algorithm at assignment time. Any problem degrades
// to the default rather than failing the assignment.
func (e *Engine) algorithm(ctx context.Context) distribution.Algorithm {
	raw, ok, err := e.config.Get(ctx, distribution.SettingKey)
	if err != nil {
		slog.WarnContext(ctx, "distribution: config read failed, using default", "default", distribution.DefaultAlgorithm, "error", err)
		return distribution.DefaultAlgorithm
	}
	if !ok {
		return distribution.DefaultAlgorithm
	}
	algo, valid := distribution.ParseAlgorithm(raw)
	if !valid {
		slog.WarnContext(ctx, "distribution: unknown algorithm, using default", "configured", raw, "default", algo)
	}
	return algo
}

func (e *Engine) decide(ctx context.Context, algo distribution.Algorithm) (decision, error) {
	pool, err := e.pool.ListEligible(ctx)
	if err != nil {
		return decision{}, fmt.Errorf("list eligible agents: %w", err)
	}
	if len(pool) == 0 {
		return e.fallback(ctx, distribution.ReasonNoAgents)
	}

	var picked *domainagent.Agent
	switch algo {
	case distribution.LeastBusy:
		picked, err = e.leastBusy(ctx, pool)
	case distribution.Random:
		picked, err = e.random(ctx, pool)
	default:
		picked, err = e.roundRobin(ctx, pool)
	}
	if err != nil {
		return decision{}, err
	}
	if picked == nil {
		return e.fallback(ctx, distribution.ReasonCapacityExhausted)
	}
	return decision{agent: *picked, reason: string(algo)}, nil
}

func (e *Engine) fallback(ctx context.Context, reason string) (decision, error) {
	admin, err := e.pool.FirstAdmin(ctx)
	if err != nil {
		if errors.Is(err, distribution.ErrNoAdmin) {
			return decision{}, &distribution.ConfigurationError{Reason: reason, Err: err}
		}
		return decision{}, fmt.Errorf("find fallback admin: %w", err)
	}
	slog.WarnContext(ctx, "distribution: falling back to admin", "reason", reason, "admin_id", admin.ID)
	return decision{agent: admin, reason: reason, fallback: true}, nil
}

// roundRobin advances the cursor before checking each candidate, so rejected candidates
// still move the rotation forward. At most one full revolution is made.
func (e *Engine) roundRobin(ctx context.Context, pool []domainagent.Agent) (*domainagent.Agent, error) {
	n := uint64(len(pool))
	for range pool {
		a := pool[e.cursor%n]
		e.cursor++
		ok, err := e.hasCapacity(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok {
			return &a, nil
		}
	}
	return nil, nil
}

// leastBusy picks the agent with the fewest active leads among those under capacity.
// Ties go to the earliest agent in pool order.
func (e *Engine) leastBusy(ctx context.Context, pool []domainagent.Agent) (*domainagent.Agent, error) {
	best, bestCount := -1, 0
	for i, a := range pool {
		count, err := e.capacity.CountActive(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("count active leads for agent %s: %w", a.ID, err)
		}
		if !a.HasCapacity(count) {
			continue
		}
		if best < 0 || count < bestCount {
			best, bestCount = i, count
		}
	}
	if best < 0 {
		return nil, nil
	}
	return &pool[best], nil
}

func (e *Engine) random(ctx context.Context, pool []domainagent.Agent) (*domainagent.Agent, error) {
	shuffled := slices.Clone(pool)
	e.shuffle(shuffled)
	for _, a := range shuffled {
		ok, err := e.hasCapacity(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok {
			return &a, nil
		}
	}
	return nil, nil
}

func (e *Engine) hasCapacity(ctx context.Context, a domainagent.Agent) (bool, error) {
	count, err := e.capacity.CountActive(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("count active leads for agent %s: %w", a.ID, err)
	}
	return a.HasCapacity(count), nil
}

// announce publishes the committed assignment. Failures are logged only; the
// assignment is already durable.
func (e *Engine) announce(ctx context.Context, res domainassignment.Result) {
	slog.InfoContext(ctx, "lead assigned",
		"lead_id", res.LeadID, "agent_id", res.AgentID, "reason", res.Reason, "fallback", res.Fallback)

	if err := e.bus.Publish(ctx, event.New(event.TypeLeadAssigned, res.LeadID)); err != nil {
		slog.ErrorContext(ctx, "failed to publish LeadAssigned event", "lead_id", res.LeadID, "error", err)
	}
	if err := e.notifier.NotifyAssignment(ctx, res.Notification()); err != nil {
		slog.ErrorContext(ctx, "failed to notify assignment", "lead_id", res.LeadID, "error", err)
	}
}

var lockKey = advisoryKey("lead-distribution")

// advisoryKey hashes a name to a stable int64 for pg_advisory_lock.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
