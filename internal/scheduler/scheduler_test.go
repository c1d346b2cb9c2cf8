package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"market-alerts/internal/activity"
	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/evaluator"
	"market-alerts/internal/lifecycle"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/store"
	"market-alerts/pkg/utils"
)

// scriptedData returns the next market data of a fixed script on every
// call, repeating the last entry once the script runs out.
type scriptedData struct {
	mu     sync.Mutex
	script []models.MarketData
	calls  int
	err    error
}

func (d *scriptedData) Get(ctx context.Context, symbol string) (models.MarketData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return models.MarketData{}, d.err
	}
	if len(d.script) == 0 {
		return models.MarketData{Symbol: symbol, Price: 1}, nil
	}
	i := d.calls - 1
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	md := d.script[i]
	md.Symbol = symbol
	return md, nil
}

func (d *scriptedData) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type countingStore struct {
	*store.MemoryStore
	loads int32
}

func (c *countingStore) LoadActive(ctx context.Context, symbol string) ([]*models.Alert, error) {
	atomic.AddInt32(&c.loads, 1)
	return c.MemoryStore.LoadActive(ctx, symbol)
}

type countingEvaluator struct {
	next  Evaluator
	calls int
}

func (c *countingEvaluator) Evaluate(a *models.Alert, md models.MarketData, snap *indicators.Snapshot) (evaluator.Decision, error) {
	c.calls++
	return c.next.Evaluate(a, md, snap)
}

type failingDispatcher struct {
	mu    sync.Mutex
	sends int
}

func (f *failingDispatcher) Send(ctx context.Context, t models.ChannelTarget, ac notify.AlertContext) notify.Result {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	return notify.Result{Err: errors.New("gateway timeout"), Timestamp: time.Now()}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	sched   *Scheduler
	store   *store.MemoryStore
	data    *scriptedData
	manager *lifecycle.Manager
	clock   *clock
}

func newHarness(t *testing.T, d notify.Dispatcher, script ...models.MarketData) *harness {
	t.Helper()
	c := &clock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore()
	data := &scriptedData{script: script}
	mgr := lifecycle.NewManager(st, d, lifecycle.Config{
		DispatchTimeout: time.Second,
		Retry:           utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2},
	}, nil, zerolog.Nop())
	mgr.SetClock(c.Now)

	tracker := activity.NewTracker(5*time.Minute, 4)
	tracker.SetClock(c.Now)

	s := New(Config{
		ActiveInterval: 20 * time.Second,
		IdleInterval:   2 * time.Minute,
		FetchTimeout:   time.Second,
		ActivityBuffer: 4,
	}, Deps{Store: st, Data: data, Lifecycle: mgr, Tracker: tracker}, zerolog.Nop())
	s.SetClock(c.Now)
	return &harness{sched: s, store: st, data: data, manager: mgr, clock: c}
}

func (h *harness) monitor(symbol string) *monitor {
	return newMonitor(symbol, h.sched.cfg.IdleInterval, func() {}, h.clock.Now())
}

func priceAlert(t *testing.T, id, symbol string, target float64, policy models.TriggerPolicy, channels ...string) *models.Alert {
	t.Helper()
	var targets []models.ChannelTarget
	for _, c := range channels {
		targets = append(targets, models.ChannelTarget{Channel: c, Destination: "dest"})
	}
	a, err := models.NewAlert(id, "user-1", symbol, models.VariantPriceAbove,
		&models.TargetParams{TargetPrice: target}, nil, policy, models.NotificationTarget{Channels: targets})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func prices(ps ...float64) []models.MarketData {
	out := make([]models.MarketData, len(ps))
	for i, p := range ps {
		out[i] = models.MarketData{Price: p}
	}
	return out
}

func window(closes ...float64) []models.Candle {
	base := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Timestamp: base.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return out
}

func TestScenario_NoAlertsNoPolling(t *testing.T) {
	h := newHarness(t, nil)
	cs := &countingStore{MemoryStore: h.store}
	h.sched.store = cs

	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	h.sched.Stop()

	if n := atomic.LoadInt32(&cs.loads); n != 1 {
		t.Fatalf("expected a single LoadActive at startup, got %d", n)
	}
	if len(h.sched.Status()) != 0 || h.data.callCount() != 0 {
		t.Fatal("no instrument may be polled without active alerts")
	}
}

func TestScenario_PriceAboveTriggersOnThirdTick(t *testing.T) {
	h := newHarness(t, nil, prices(49000, 49500, 50050)...)
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "BTCUSDT", 50000, models.TriggerPolicy{MaxTriggers: 1}))

	m := h.monitor("BTCUSDT")
	for i := 1; i <= 3; i++ {
		if !h.sched.tick(ctx, m) {
			t.Fatalf("tick %d stopped the monitor early", i)
		}
		got, _ := h.store.Get(ctx, "a1")
		if want := map[bool]int{true: 1, false: 0}[i == 3]; got.TriggerCount() != want {
			t.Fatalf("after tick %d: %d triggers, want %d", i, got.TriggerCount(), want)
		}
		h.clock.Advance(20 * time.Second)
	}

	got, _ := h.store.Get(ctx, "a1")
	if got.LastTrigger().Price != 50050 {
		t.Fatalf("observed price = %v, want 50050", got.LastTrigger().Price)
	}
	if h.sched.tick(ctx, m) {
		t.Fatal("monitor should stop once its only alert is spent")
	}
}

func TestScenario_RSIOverboughtStopsAfterMax(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100 + float64(i%2)
	}
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	h := newHarness(t, nil,
		models.MarketData{Price: 101, Window: window(flat...)},
		models.MarketData{Price: 129, Window: window(rising...)},
		models.MarketData{Price: 135, Window: window(rising...)},
	)
	ce := &countingEvaluator{next: h.sched.evaluator}
	h.sched.evaluator = ce
	ctx := context.Background()

	a, err := models.NewAlert("rsi", "user-1", "INFY", models.VariantRSIOverbought, nil,
		&models.IndicatorConfig{Overbought: 70}, models.TriggerPolicy{MaxTriggers: 1}, models.NotificationTarget{})
	if err != nil {
		t.Fatal(err)
	}
	h.store.SaveAlert(ctx, a)

	m := h.monitor("INFY")
	h.sched.tick(ctx, m)
	got, _ := h.store.Get(ctx, "rsi")
	if got.TriggerCount() != 0 {
		t.Fatal("RSI near 50 must not trigger")
	}

	h.sched.tick(ctx, m)
	got, _ = h.store.Get(ctx, "rsi")
	if got.TriggerCount() != 1 || got.Status != models.StatusTriggered || got.Enabled {
		t.Fatalf("expected one trigger and triggered/disabled, got %d %s %v", got.TriggerCount(), got.Status, got.Enabled)
	}

	if h.sched.tick(ctx, m) {
		t.Fatal("third tick should find no active alerts")
	}
	if ce.calls != 2 {
		t.Fatalf("alert evaluated %d times, want 2", ce.calls)
	}
}

func TestScenario_DispatchFailureKeepsSingleRecord(t *testing.T) {
	d := &failingDispatcher{}
	h := newHarness(t, d, prices(101, 101)...)
	h.sched.newTick = func() string { return "tick-42" }
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "INFY", 100, models.TriggerPolicy{MaxTriggers: 5}, "webhook"))

	m := h.monitor("INFY")
	h.sched.tick(ctx, m)
	h.sched.tick(ctx, m)

	got, _ := h.store.Get(ctx, "a1")
	if got.TriggerCount() != 1 {
		t.Fatalf("same tick applied %d times", got.TriggerCount())
	}
	out := got.LastTrigger().Outcomes
	if len(out) != 1 || out[0].Success || out[0].Error == "" {
		t.Fatalf("expected one failed outcome, got %+v", out)
	}
	if d.sends != 1 {
		t.Fatalf("dispatch attempted %d times, want 1", d.sends)
	}
}

func TestTick_ConfirmationDelay(t *testing.T) {
	h := newHarness(t, nil, prices(101, 101, 99, 101, 101, 101)...)
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "INFY", 100,
		models.TriggerPolicy{MaxTriggers: 1, ConfirmationDelay: 30 * time.Second}))

	m := h.monitor("INFY")
	count := func() int {
		got, _ := h.store.Get(ctx, "a1")
		return got.TriggerCount()
	}

	h.sched.tick(ctx, m) // 101, pending
	h.clock.Advance(20 * time.Second)
	h.sched.tick(ctx, m) // 101, held 20s
	h.clock.Advance(20 * time.Second)
	h.sched.tick(ctx, m) // 99, reset
	if count() != 0 {
		t.Fatal("fired before the condition held for the delay")
	}

	h.clock.Advance(20 * time.Second)
	h.sched.tick(ctx, m) // 101, pending again
	h.clock.Advance(20 * time.Second)
	h.sched.tick(ctx, m) // held 20s
	if count() != 0 {
		t.Fatal("pending state was not reset by the false evaluation")
	}
	h.clock.Advance(10 * time.Second)
	h.sched.tick(ctx, m) // held 30s
	if count() != 1 {
		t.Fatalf("expected trigger once confirmed, got %d", count())
	}
}

func TestTick_IneligibleAlertIsNotEvaluated(t *testing.T) {
	h := newHarness(t, nil, prices(101, 101, 101)...)
	ce := &countingEvaluator{next: h.sched.evaluator}
	h.sched.evaluator = ce
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "INFY", 100,
		models.TriggerPolicy{MaxTriggers: 5, MinInterval: time.Hour}))

	m := h.monitor("INFY")
	for i := 0; i < 3; i++ {
		h.sched.tick(ctx, m)
		h.clock.Advance(time.Minute)
	}

	got, _ := h.store.Get(ctx, "a1")
	if got.TriggerCount() != 1 {
		t.Fatalf("triggers = %d, want 1", got.TriggerCount())
	}
	if ce.calls != 1 {
		t.Fatalf("alert in cooldown evaluated %d times, want 1", ce.calls)
	}
}

func TestTick_CooldownClearsPendingConfirmation(t *testing.T) {
	h := newHarness(t, nil, prices(101, 101, 101, 101)...)
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "INFY", 100,
		models.TriggerPolicy{MaxTriggers: 5, MinInterval: time.Minute, ConfirmationDelay: 10 * time.Second}))

	m := h.monitor("INFY")
	h.sched.tick(ctx, m) // pending
	h.clock.Advance(10 * time.Second)
	h.sched.tick(ctx, m) // confirmed, fires
	if _, ok := m.pending["a1"]; ok {
		t.Fatal("pending confirmation kept after trigger")
	}

	h.clock.Advance(30 * time.Second)
	h.sched.tick(ctx, m) // cooldown, skipped
	if _, ok := m.pending["a1"]; ok {
		t.Fatal("confirmation started while the alert could not fire")
	}

	h.clock.Advance(30 * time.Second)
	h.sched.tick(ctx, m) // eligible again, pending restarts
	got, _ := h.store.Get(ctx, "a1")
	if got.TriggerCount() != 1 {
		t.Fatalf("triggers = %d, want 1 until the delay holds again", got.TriggerCount())
	}
}

func TestSnapshots_WarnsOnShortWindow(t *testing.T) {
	h := newHarness(t, nil)
	var buf bytes.Buffer
	h.sched.log = zerolog.New(&buf)

	a, err := models.NewAlert("gc", "user-1", "INFY", models.VariantMAGoldenCross, nil,
		&models.IndicatorConfig{}, models.TriggerPolicy{MaxTriggers: 1}, models.NotificationTarget{})
	if err != nil {
		t.Fatal(err)
	}
	m := h.monitor("INFY")
	short := window(100, 101, 102, 103, 104)

	h.sched.snapshots(m, []*models.Alert{a}, short)
	if !strings.Contains(buf.String(), "lookback") {
		t.Fatalf("expected a lookback warning, got %q", buf.String())
	}

	buf.Reset()
	h.sched.snapshots(m, []*models.Alert{a}, short)
	if buf.Len() != 0 {
		t.Fatalf("warning repeated for a known config: %q", buf.String())
	}
}

func TestTick_UnavailableDataKeepsMonitor(t *testing.T) {
	h := newHarness(t, nil)
	h.data.err = apperrors.ErrDataUnavailable
	ctx := context.Background()
	h.store.SaveAlert(ctx, priceAlert(t, "a1", "INFY", 100, models.TriggerPolicy{MaxTriggers: 1}))

	if !h.sched.tick(ctx, h.monitor("INFY")) {
		t.Fatal("a failed fetch must only skip the tick")
	}
}

func TestTick_ExpiredAlertIsExpired(t *testing.T) {
	h := newHarness(t, nil, prices(150)...)
	ctx := context.Background()
	a := priceAlert(t, "a1", "INFY", 100, models.TriggerPolicy{MaxTriggers: 1})
	exp := h.clock.Now().Add(-time.Second)
	a.ExpiresAt = &exp
	h.store.SaveAlert(ctx, a)

	if h.sched.tick(ctx, h.monitor("INFY")) {
		t.Fatal("monitor with only an expired alert should stop")
	}
	got, _ := h.store.Get(ctx, "a1")
	if got.Status != models.StatusExpired || got.TriggerCount() != 0 {
		t.Fatalf("expected expired without trigger, got %s/%d", got.Status, got.TriggerCount())
	}
}

func TestActivity_IntervalSwitchIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	s := h.sched
	m := h.monitor("INFY")
	s.monitors["INFY"] = m

	for i := 0; i < 10; i++ {
		s.applyActivity(activityEvent{userID: "u1", symbol: "INFY"})
	}
	if m.currentInterval() != s.cfg.ActiveInterval || m.generation() != 2 {
		t.Fatalf("interval=%v generation=%d, want active/2", m.currentInterval(), m.generation())
	}
	if len(m.wake) != 1 {
		t.Fatalf("expected a single wake-up, got %d", len(m.wake))
	}

	h.clock.Advance(5 * time.Minute)
	s.recheck(m)
	s.recheck(m)
	if m.currentInterval() != s.cfg.IdleInterval || m.generation() != 3 {
		t.Fatalf("interval=%v generation=%d, want idle/3", m.currentInterval(), m.generation())
	}
}

func TestNotifyActivity_Backpressure(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 4; i++ {
		if err := h.sched.NotifyActivity("u", "INFY"); err != nil {
			t.Fatalf("event %d rejected: %v", i, err)
		}
	}
	if err := h.sched.NotifyActivity("u", "INFY"); !apperrors.Is(err, apperrors.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure on a full queue, got %v", err)
	}
	var verr *apperrors.ValidationError
	if err := h.sched.NotifyActivity("u", "  "); !apperrors.As(err, &verr) {
		t.Fatalf("expected validation error for empty symbol, got %v", err)
	}
}

func TestSelectInstruments_Priority(t *testing.T) {
	h := newHarness(t, nil)
	s := h.sched
	s.cfg.MaxInstruments = 2
	base := h.clock.Now()

	mk := func() []*candidate {
		return []*candidate{
			{symbol: "OLD", newestEdit: base.Add(-3 * time.Hour), hasUser: true, lastSeen: base},
			{symbol: "MID", newestEdit: base.Add(-2 * time.Hour)},
			{symbol: "NEW", newestEdit: base.Add(-1 * time.Hour)},
		}
	}

	got := s.selectInstruments(mk())
	if !got["OLD"] || !got["NEW"] || got["MID"] {
		t.Fatalf("activity_then_recency picked %v", got)
	}

	s.cfg.Priority = PriorityRecency
	got = s.selectInstruments(mk())
	if !got["NEW"] || !got["MID"] || got["OLD"] {
		t.Fatalf("recency picked %v", got)
	}
}

func TestStartStop_CapAndTeardown(t *testing.T) {
	h := newHarness(t, nil)
	h.sched.cfg.MaxInstruments = 1
	h.sched.cfg.IdleInterval = time.Hour
	ctx := context.Background()

	old := priceAlert(t, "a1", "AAA", 1000, models.TriggerPolicy{MaxTriggers: 1})
	old.CreatedAt = h.clock.Now().Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	h.store.SaveAlert(ctx, old)
	h.store.SaveAlert(ctx, priceAlert(t, "a2", "BBB", 1000, models.TriggerPolicy{MaxTriggers: 1}))

	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.sched.Stop()

	if !h.sched.Monitored("BBB") || h.sched.Monitored("AAA") {
		t.Fatalf("cap should keep the most recently edited instrument, got %+v", h.sched.Status())
	}

	h.store.PersistStatus(ctx, "a2", models.StatusPaused, false)
	if err := h.sched.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if h.sched.Monitored("BBB") || !h.sched.Monitored("AAA") {
		t.Fatalf("sync should swap instruments, got %+v", h.sched.Status())
	}
}

// Property: the generation counter moves only when the desired interval
// actually changes, whatever the sequence of rechecks.
func TestProperty_IntervalSwitchIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("generation counts interval changes", prop.ForAll(
		func(steps []bool) bool {
			h := newHarness(t, nil)
			s := h.sched
			m := h.monitor("SYM")
			s.monitors["SYM"] = m

			changes := uint64(0)
			cur := m.currentInterval()
			for _, active := range steps {
				if active {
					s.applyActivity(activityEvent{userID: "u", symbol: "SYM"})
				} else {
					h.clock.Advance(10 * time.Minute)
					s.recheck(m)
				}
				if next := m.currentInterval(); next != cur {
					changes++
					cur = next
				}
			}
			return m.generation() == 1+changes && len(m.wake) <= 1
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
