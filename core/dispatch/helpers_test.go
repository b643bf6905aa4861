package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/leadroute/core/model"
	"github.com/kilianp07/leadroute/core/notify"
	"github.com/kilianp07/leadroute/infra/logger"
	"github.com/kilianp07/leadroute/infra/store/memory"
)

var brisbane = model.Point{Lat: -27.4698, Lng: 153.0251}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sendCall struct {
	contractorID string
	round        int
	at           time.Time
}

type recordingNotifier struct {
	mu          sync.Mutex
	calls       []sendCall
	fail        map[string]bool
	hold        time.Duration
	inflight    int
	maxInflight int
}

func newNotifier(fail ...string) *recordingNotifier {
	n := &recordingNotifier{fail: make(map[string]bool)}
	for _, id := range fail {
		n.fail[id] = true
	}
	return n
}

func (n *recordingNotifier) SendLeadAlert(_ context.Context, c model.Contractor, _ *model.Lead, a model.DistributionAttempt) (notify.Report, error) {
	n.mu.Lock()
	n.inflight++
	n.maxInflight = max(n.maxInflight, n.inflight)
	n.calls = append(n.calls, sendCall{contractorID: c.ID, round: a.Round, at: time.Now()})
	n.mu.Unlock()

	if n.hold > 0 {
		time.Sleep(n.hold)
	}

	n.mu.Lock()
	n.inflight--
	n.mu.Unlock()

	if n.fail[c.ID] {
		return notify.Report{ContractorID: c.ID, Deliveries: []notify.Delivery{
			{Channel: "sms", Err: errors.New("sms gateway down")},
			{Channel: "email", Err: errors.New("smtp refused")},
		}}, nil
	}
	return notify.Report{ContractorID: c.ID, Deliveries: []notify.Delivery{{Channel: "sms", Delivered: true}}}, nil
}

func (n *recordingNotifier) snapshot() []sendCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sendCall(nil), n.calls...)
}

func (n *recordingNotifier) ids() []string {
	var out []string
	for _, c := range n.snapshot() {
		out = append(out, c.contractorID)
	}
	return out
}

// manualScheduler runs retries only when the test fires them.
type manualScheduler struct {
	mu        sync.Mutex
	pending   map[string]func()
	scheduled int
	cancelled []string
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[string]func())}
}

func (m *manualScheduler) Schedule(leadID string, _ time.Duration, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[leadID]; ok {
		return false
	}
	m.pending[leadID] = fn
	m.scheduled++
	return true
}

func (m *manualScheduler) Cancel(leadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[leadID]
	delete(m.pending, leadID)
	if ok {
		m.cancelled = append(m.cancelled, leadID)
	}
	return ok
}

func (m *manualScheduler) Pending(leadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[leadID]
	return ok
}

func (m *manualScheduler) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manualScheduler) Stop() {
	m.mu.Lock()
	m.pending = make(map[string]func())
	m.mu.Unlock()
}

func (m *manualScheduler) fire(t *testing.T, leadID string) {
	t.Helper()
	m.mu.Lock()
	fn, ok := m.pending[leadID]
	delete(m.pending, leadID)
	m.mu.Unlock()
	require.True(t, ok, "no retry pending for %s", leadID)
	fn()
}

// contractor returns an eligible water damage contractor northKm north of
// Brisbane.
func contractor(id string, tier model.Tier, northKm float64, lastActive time.Time) model.Contractor {
	return model.Contractor{
		ID:                 id,
		Name:               "Contractor " + id,
		Tier:               tier,
		Rating:             4.5,
		CompletionRate:     0.9,
		Workload:           1,
		ServiceRadiusKm:    50,
		Specializations:    []model.ServiceType{model.ServiceWaterDamage},
		Location:           model.Point{Lat: brisbane.Lat + northKm/111.0, Lng: brisbane.Lng},
		LastActiveAt:       lastActive,
		Available:          true,
		AvgResponseMinutes: 20,
	}
}

func pendingLead(id string, created time.Time) *model.Lead {
	return &model.Lead{
		ID:             id,
		Services:       []model.ServiceType{model.ServiceWaterDamage},
		Priority:       model.PriorityMedium,
		Status:         model.StatusPending,
		Location:       brisbane,
		EstimatedValue: 5000,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

type fixture struct {
	clock    *testClock
	store    *memory.Store
	notifier *recordingNotifier
	retries  *manualScheduler
	orch     *Orchestrator
}

func newFixture(t *testing.T, cfg Config, contractors []model.Contractor, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newTestClock(),
		store:    memory.New(),
		notifier: newNotifier(),
		retries:  newManualScheduler(),
	}
	for _, c := range contractors {
		f.store.PutContractor(c)
	}
	f.store.PutLead(pendingLead("l1", f.clock.Now()))
	base := []Option{WithClock(f.clock.Now), WithRetryScheduler(f.retries)}
	o, err := NewOrchestrator(cfg, f.store, f.notifier, logger.NopLogger{}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	f.orch = o
	return f
}

func (f *fixture) lead(t *testing.T, id string) *model.Lead {
	t.Helper()
	l, err := f.store.FindLead(context.Background(), id)
	require.NoError(t, err)
	return l
}

func parallelConfig(limit int) Config {
	return Config{Method: MethodParallel, MaxContractorsPerLead: limit}
}
