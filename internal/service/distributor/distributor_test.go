package distributor_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/lead-mesh/internal/adapter/memory"
	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	"github.com/alanyang/lead-mesh/internal/domain/distribution"
	"github.com/alanyang/lead-mesh/internal/domain/event"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	"github.com/alanyang/lead-mesh/internal/service/distributor"
)

// ── helpers ───────────────────────────────────────────────────────────────────

type captureNotifier struct {
	mu    sync.Mutex
	calls []domainassignment.Notification
	err   error
}

func (c *captureNotifier) NotifyAssignment(_ context.Context, n domainassignment.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, n)
	return c.err
}

// failingConfig returns an error from every read.
type failingConfig struct{}

func (failingConfig) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("settings unavailable")
}
func (failingConfig) Set(context.Context, string, string) error { return nil }

type countingLocker struct {
	mu    sync.Mutex
	calls int
	keys  map[int64]bool
}

func (l *countingLocker) WithLock(ctx context.Context, key int64, fn func(context.Context) error) error {
	l.mu.Lock()
	l.calls++
	if l.keys == nil {
		l.keys = map[int64]bool{}
	}
	l.keys[key] = true
	l.mu.Unlock()
	return fn(ctx)
}

type harness struct {
	store    *memory.Store
	bus      *memory.EventBus
	notifier *captureNotifier
	engine   *distributor.Engine
	base     time.Time
	seq      int
}

func newHarness(t *testing.T, opts ...distributor.Option) *harness {
	t.Helper()
	store := memory.NewStore()
	h := &harness{
		store:    store,
		bus:      memory.NewEventBus(),
		notifier: &captureNotifier{},
		base:     time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	h.engine = distributor.NewEngine(
		store.Agents(), store.Leads(), store.Leads(), store, store, h.notifier, h.bus, opts...,
	)
	return h
}

func (h *harness) tick() time.Time {
	h.seq++
	return h.base.Add(time.Duration(h.seq) * time.Second)
}

func (h *harness) agent(t *testing.T, name string, maxLeads int) domainagent.Agent {
	t.Helper()
	a := domainagent.New(name, name+"@crm.test", domainagent.RoleUser, maxLeads)
	a.CreatedAt = h.tick()
	created, err := h.store.Agents().Create(context.Background(), a)
	require.NoError(t, err)
	return created
}

func (h *harness) admin(t *testing.T, name string) domainagent.Agent {
	t.Helper()
	a := domainagent.New(name, name+"@crm.test", domainagent.RoleAdmin, 0)
	a.CreatedAt = h.tick()
	created, err := h.store.Agents().Create(context.Background(), a)
	require.NoError(t, err)
	return created
}

func (h *harness) lead(t *testing.T) domainlead.Lead {
	t.Helper()
	l := domainlead.New("lead", "+5511900000000", domainlead.SourceWhatsApp)
	l.CreatedAt = h.tick()
	created, err := h.store.Leads().Create(context.Background(), l)
	require.NoError(t, err)
	return created
}

// holdActive gives agent a n active leads directly through the store.
func (h *harness) holdActive(t *testing.T, a domainagent.Agent, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		l := h.lead(t)
		at := h.tick()
		require.NoError(t, h.store.Assign(context.Background(), domainassignment.Record{
			LeadID: l.ID, AgentID: a.ID, AssignedAt: at,
			Entry: domainassignment.NewLogEntry(l.ID, &a.ID, "seed", at),
		}))
	}
}

func (h *harness) setAlgorithm(t *testing.T, algo string) {
	t.Helper()
	require.NoError(t, h.store.Set(context.Background(), distribution.SettingKey, algo))
}

func (h *harness) assign(t *testing.T, l domainlead.Lead) domainassignment.Result {
	t.Helper()
	res, err := h.engine.Assign(context.Background(), l.ID)
	require.NoError(t, err)
	return res
}

func reverseShuffle(agents []domainagent.Agent) { slices.Reverse(agents) }

// ── round-robin ───────────────────────────────────────────────────────────────

func TestAssign_RoundRobin_CapacityThenFallback(t *testing.T) {
	h := newHarness(t)
	admin := h.admin(t, "root")
	a := h.agent(t, "A", 1)
	b := h.agent(t, "B", 1)
	l1, l2, l3 := h.lead(t), h.lead(t), h.lead(t)

	r1 := h.assign(t, l1)
	assert.Equal(t, a.ID, r1.AgentID)
	assert.Equal(t, "round-robin", r1.Reason)
	assert.Equal(t, uint64(1), h.engine.Cursor())

	r2 := h.assign(t, l2)
	assert.Equal(t, b.ID, r2.AgentID)
	assert.Equal(t, uint64(2), h.engine.Cursor())

	r3 := h.assign(t, l3)
	assert.Equal(t, admin.ID, r3.AgentID)
	assert.True(t, r3.Fallback)
	assert.Equal(t, distribution.ReasonCapacityExhausted, r3.Reason)
	assert.Equal(t, uint64(4), h.engine.Cursor(), "both rejected attempts on L3 advance the cursor")
}

func TestAssign_RoundRobin_RotatesAcrossCalls(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a, b, c := h.agent(t, "A", 5), h.agent(t, "B", 5), h.agent(t, "C", 5)

	var got []uuid.UUID
	for i := 0; i < 4; i++ {
		got = append(got, h.assign(t, h.lead(t)).AgentID)
	}
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID, a.ID}, got)
}

func TestAssign_RoundRobin_RejectedAttemptShiftsNextStart(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a := h.agent(t, "A", 1)
	b := h.agent(t, "B", 5)
	h.holdActive(t, a, 1)

	// Try A (full, cursor→1), then B (cursor→2).
	assert.Equal(t, b.ID, h.assign(t, h.lead(t)).AgentID)
	assert.Equal(t, uint64(2), h.engine.Cursor())

	// Cursor 2 lands on A again (full, →3), then B (→4).
	assert.Equal(t, b.ID, h.assign(t, h.lead(t)).AgentID)
	assert.Equal(t, uint64(4), h.engine.Cursor())
}

func TestAssign_RoundRobin_PoolReadLive(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a := h.agent(t, "A", 5)
	b := h.agent(t, "B", 5)

	assert.Equal(t, a.ID, h.assign(t, h.lead(t)).AgentID)

	require.NoError(t, h.store.Agents().SetAvailability(context.Background(), b.ID, false))
	// Cursor is 1 but the pool now has a single member.
	assert.Equal(t, a.ID, h.assign(t, h.lead(t)).AgentID)
}

// ── least-busy ────────────────────────────────────────────────────────────────

func TestAssign_LeastBusy(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness) uuid.UUID
		wantFB  bool
		wantRsn string
	}{
		{
			name: "lowest count wins regardless of pool order",
			setup: func(t *testing.T, h *harness) uuid.UUID {
				a := h.agent(t, "A", 5)
				b := h.agent(t, "B", 5)
				h.holdActive(t, a, 2)
				return b.ID
			},
			wantRsn: "least-busy",
		},
		{
			name: "lowest count wins when it comes first",
			setup: func(t *testing.T, h *harness) uuid.UUID {
				b := h.agent(t, "B", 5)
				a := h.agent(t, "A", 5)
				h.holdActive(t, a, 2)
				return b.ID
			},
			wantRsn: "least-busy",
		},
		{
			name: "ties go to the first agent in pool order",
			setup: func(t *testing.T, h *harness) uuid.UUID {
				first := h.agent(t, "first", 5)
				second := h.agent(t, "second", 5)
				h.holdActive(t, first, 1)
				h.holdActive(t, second, 1)
				return first.ID
			},
			wantRsn: "least-busy",
		},
		{
			name: "agents at capacity are skipped even with the lowest count",
			setup: func(t *testing.T, h *harness) uuid.UUID {
				h.agent(t, "zero-cap", 0)
				busy := h.agent(t, "busy", 5)
				h.holdActive(t, busy, 3)
				return busy.ID
			},
			wantRsn: "least-busy",
		},
		{
			name: "all at capacity falls back",
			setup: func(t *testing.T, h *harness) uuid.UUID {
				a := h.agent(t, "A", 1)
				h.holdActive(t, a, 1)
				adm, err := h.store.Agents().FirstAdmin(context.Background())
				require.NoError(t, err)
				return adm.ID
			},
			wantFB:  true,
			wantRsn: distribution.ReasonCapacityExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.admin(t, "root")
			h.setAlgorithm(t, "least-busy")
			want := tt.setup(t, h)

			res := h.assign(t, h.lead(t))
			assert.Equal(t, want, res.AgentID)
			assert.Equal(t, tt.wantFB, res.Fallback)
			assert.Equal(t, tt.wantRsn, res.Reason)
			assert.Equal(t, distribution.LeastBusy, res.Algorithm)
		})
	}
}

// ── random ────────────────────────────────────────────────────────────────────

func TestAssign_Random_InjectedShuffle(t *testing.T) {
	h := newHarness(t, distributor.WithShuffle(reverseShuffle))
	h.admin(t, "root")
	a := h.agent(t, "A", 5)
	b := h.agent(t, "B", 1)
	h.setAlgorithm(t, "random")

	assert.Equal(t, b.ID, h.assign(t, h.lead(t)).AgentID)
	// B is now full; reversed scan moves on to A.
	assert.Equal(t, a.ID, h.assign(t, h.lead(t)).AgentID)
	assert.Equal(t, uint64(0), h.engine.Cursor(), "random never touches the rotation cursor")
}

func TestAssign_Random_SeededIsReproducible(t *testing.T) {
	run := func() []string {
		rng := rand.New(rand.NewPCG(7, 11))
		h := newHarness(t, distributor.WithShuffle(func(agents []domainagent.Agent) {
			rng.Shuffle(len(agents), func(i, j int) { agents[i], agents[j] = agents[j], agents[i] })
		}))
		h.admin(t, "root")
		for _, n := range []string{"A", "B", "C", "D"} {
			h.agent(t, n, 10)
		}
		h.setAlgorithm(t, "random")

		var names []string
		for i := 0; i < 8; i++ {
			names = append(names, h.assign(t, h.lead(t)).AgentName)
		}
		return names
	}

	assert.Equal(t, run(), run())
}

// ── fallback & errors ─────────────────────────────────────────────────────────

func TestAssign_EmptyPoolFallsBackToAdmin(t *testing.T) {
	h := newHarness(t)
	admin := h.admin(t, "root")
	h.admin(t, "later-admin")
	l := h.lead(t)

	res := h.assign(t, l)
	assert.Equal(t, admin.ID, res.AgentID)
	assert.True(t, res.Fallback)
	assert.Equal(t, distribution.ReasonNoAgents, res.Reason)

	logs, err := h.store.ListByLead(context.Background(), l.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].AgentID)
	assert.Equal(t, admin.ID, *logs[0].AgentID)
	assert.Contains(t, logs[0].Action, distribution.ReasonNoAgents)
}

func TestAssign_UnavailableAgentsAreNotEligible(t *testing.T) {
	h := newHarness(t)
	admin := h.admin(t, "root")
	a := h.agent(t, "A", 5)
	require.NoError(t, h.store.Agents().SetAvailability(context.Background(), a.ID, false))

	res := h.assign(t, h.lead(t))
	assert.Equal(t, admin.ID, res.AgentID)
	assert.Equal(t, distribution.ReasonNoAgents, res.Reason)
}

func TestAssign_NoAdminIsConfigurationError(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		reason string
	}{
		{name: "empty pool", setup: func(*testing.T, *harness) {}, reason: distribution.ReasonNoAgents},
		{
			name: "capacity exhausted",
			setup: func(t *testing.T, h *harness) {
				a := h.agent(t, "A", 1)
				h.holdActive(t, a, 1)
			},
			reason: distribution.ReasonCapacityExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)
			l := h.lead(t)

			_, err := h.engine.Assign(context.Background(), l.ID)
			require.Error(t, err)
			var cfgErr *distribution.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.reason, cfgErr.Reason)
			assert.True(t, errors.Is(err, distribution.ErrNoAdmin))

			got, _ := h.store.Leads().GetByID(context.Background(), l.ID)
			assert.Nil(t, got.AssignedTo, "no partial assignment on failure")
			assert.Empty(t, h.notifier.calls)
		})
	}
}

func TestAssign_AlreadyAssignedIsRejected(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a := h.agent(t, "A", 5)
	h.agent(t, "B", 5)
	l := h.lead(t)
	h.assign(t, l)

	_, err := h.engine.Assign(context.Background(), l.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, distribution.ErrAlreadyAssigned))

	got, _ := h.store.Leads().GetByID(context.Background(), l.ID)
	assert.Equal(t, a.ID, *got.AssignedTo, "owner unchanged")
	logs, _ := h.store.ListByLead(context.Background(), l.ID)
	assert.Len(t, logs, 1)
	assert.Equal(t, uint64(1), h.engine.Cursor(), "a rejected call does not advance the cursor")
}

func TestAssign_UnknownLead(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")

	_, err := h.engine.Assign(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, distribution.ErrLeadNotFound))
}

func TestAssign_AlgorithmConfigDegradesToRoundRobin(t *testing.T) {
	t.Run("unknown value", func(t *testing.T) {
		h := newHarness(t)
		h.admin(t, "root")
		a := h.agent(t, "A", 5)
		h.setAlgorithm(t, "weighted-fair")

		res := h.assign(t, h.lead(t))
		assert.Equal(t, a.ID, res.AgentID)
		assert.Equal(t, distribution.RoundRobin, res.Algorithm)
	})

	t.Run("config read failure", func(t *testing.T) {
		store := memory.NewStore()
		notifier := &captureNotifier{}
		engine := distributor.NewEngine(store.Agents(), store.Leads(), store.Leads(), store, failingConfig{}, notifier, memory.NewEventBus())

		a := domainagent.New("A", "a@crm.test", domainagent.RoleUser, 5)
		_, err := store.Agents().Create(context.Background(), a)
		require.NoError(t, err)
		l, err := store.Leads().Create(context.Background(), domainlead.New("x", "+1", domainlead.SourceManual))
		require.NoError(t, err)

		res, err := engine.Assign(context.Background(), l.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, res.AgentID)
		assert.Equal(t, distribution.RoundRobin, res.Algorithm)
	})
}

// ── side effects ──────────────────────────────────────────────────────────────

func TestAssign_PublishesAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a := h.agent(t, "Ana", 5)
	l := h.lead(t)

	var events []event.Event
	_, err := h.bus.Subscribe(context.Background(), event.ChannelLead, func(_ context.Context, e event.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)

	h.assign(t, l)

	require.Len(t, events, 1)
	assert.Equal(t, event.TypeLeadAssigned, events[0].Type)
	assert.Equal(t, l.ID, events[0].EntityID)

	require.Len(t, h.notifier.calls, 1)
	n := h.notifier.calls[0]
	assert.Equal(t, l.ID, n.LeadID)
	assert.Equal(t, a.ID, n.AssignedTo)
	assert.Equal(t, "Ana", n.AssignedName)
	assert.Equal(t, "round-robin", n.Reason)
}

func TestAssign_NotificationFailureKeepsAssignment(t *testing.T) {
	h := newHarness(t)
	h.admin(t, "root")
	a := h.agent(t, "A", 5)
	h.notifier.err = errors.New("socket gone")
	l := h.lead(t)

	res, err := h.engine.Assign(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.AgentID)

	got, _ := h.store.Leads().GetByID(context.Background(), l.ID)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, a.ID, *got.AssignedTo)
}

func TestAssign_UsesAdvisoryLockWhenConfigured(t *testing.T) {
	locker := &countingLocker{}
	h := newHarness(t, distributor.WithLocker(locker))
	h.admin(t, "root")
	h.agent(t, "A", 5)

	h.assign(t, h.lead(t))
	h.assign(t, h.lead(t))
	_, err := h.engine.DistributeUnassigned(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, locker.calls)
	assert.Len(t, locker.keys, 1, "every decision shares one lock key")
}

func TestAssign_ClockStampsAssignment(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	h := newHarness(t, distributor.WithClock(func() time.Time { return fixed }))
	h.admin(t, "root")
	h.agent(t, "A", 5)
	l := h.lead(t)

	res := h.assign(t, l)
	assert.Equal(t, fixed, res.AssignedAt)

	got, _ := h.store.Leads().GetByID(context.Background(), l.ID)
	require.NotNil(t, got.AssignedAt)
	assert.Equal(t, fixed, *got.AssignedAt)
}

// ── bulk distribution ─────────────────────────────────────────────────────────

func TestDistributeUnassigned_SharesCursorInCreationOrder(t *testing.T) {
	h := newHarness(t)
	admin := h.admin(t, "root")
	a := h.agent(t, "A", 1)
	b := h.agent(t, "B", 1)
	l1, l2, l3 := h.lead(t), h.lead(t), h.lead(t)

	results, err := h.engine.DistributeUnassigned(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []uuid.UUID{l1.ID, l2.ID, l3.ID},
		[]uuid.UUID{results[0].LeadID, results[1].LeadID, results[2].LeadID})
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, admin.ID},
		[]uuid.UUID{results[0].AgentID, results[1].AgentID, results[2].AgentID})
	assert.Equal(t, uint64(4), h.engine.Cursor())
	assert.Len(t, h.notifier.calls, 3)

	again, err := h.engine.DistributeUnassigned(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDistributeUnassigned_ConfigurationErrorReturnsPartial(t *testing.T) {
	h := newHarness(t)
	a := h.agent(t, "A", 1)
	h.lead(t)
	h.lead(t)

	results, err := h.engine.DistributeUnassigned(context.Background())
	require.Error(t, err)
	assert.True(t, distribution.IsConfiguration(err))
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].AgentID)
	assert.Len(t, h.notifier.calls, 1, "committed assignments are still announced")
}

// ── invariants ────────────────────────────────────────────────────────────────

func TestAssign_ConcurrentCallersNeverOvershootCapacity(t *testing.T) {
	h := newHarness(t)
	admin := h.admin(t, "root")
	a := h.agent(t, "A", 3)
	b := h.agent(t, "B", 3)

	var leads []domainlead.Lead
	for i := 0; i < 20; i++ {
		leads = append(leads, h.lead(t))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(leads))
	for _, l := range leads {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := h.engine.Assign(context.Background(), id); err != nil {
				errs <- err
			}
		}(l.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	na, _ := h.store.Leads().CountActive(ctx, a.ID)
	nb, _ := h.store.Leads().CountActive(ctx, b.ID)
	nadm, _ := h.store.Leads().CountActive(ctx, admin.ID)
	assert.Equal(t, 3, na)
	assert.Equal(t, 3, nb)
	assert.Equal(t, 14, nadm)
	assert.Equal(t, uint64(6+2*14), h.engine.Cursor())
}

func TestAssign_EveryLeadAssignedAndCapacityHeld(t *testing.T) {
	for _, algo := range distribution.Algorithms() {
		t.Run(string(algo), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(42, uint64(len(algo))))
			for trial := 0; trial < 25; trial++ {
				h := newHarness(t, distributor.WithShuffle(func(agents []domainagent.Agent) {
					rng.Shuffle(len(agents), func(i, j int) { agents[i], agents[j] = agents[j], agents[i] })
				}))
				h.admin(t, "root")
				h.setAlgorithm(t, string(algo))

				agents := map[uuid.UUID]domainagent.Agent{}
				poolSize, leadCount := rng.IntN(5), 1+rng.IntN(12)
				for i := 0; i < poolSize; i++ {
					a := h.agent(t, "agent", rng.IntN(4))
					agents[a.ID] = a
				}

				ctx := context.Background()
				for i := 0; i < leadCount; i++ {
					l := h.lead(t)
					res := h.assign(t, l)

					got, err := h.store.Leads().GetByID(ctx, l.ID)
					require.NoError(t, err)
					require.NotNil(t, got.AssignedTo)
					assert.Equal(t, res.AgentID, *got.AssignedTo)

					if a, ok := agents[res.AgentID]; ok {
						require.False(t, res.Fallback)
						n, _ := h.store.Leads().CountActive(ctx, a.ID)
						assert.LessOrEqual(t, n, a.MaxLeads)
					} else {
						assert.True(t, res.Fallback)
					}
				}
			}
		})
	}
}
