// Package monitor implements StreamMonitor: a per-platform, rate-limited
// batch liveness poller over a set of tracked streamer ids, driving each
// one through the NotLive/Live/terminal/error state machine of
// spec.md §4.13 and emitting state-change events for the orchestrator
// wiring layer to consume (typically: start recording on a transition
// into Live).
package monitor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/streamkeep/corerec/internal/models"
	"github.com/streamkeep/corerec/internal/observability"
)

// Config configures a Monitor, mirroring config.MonitorConfig.
type Config struct {
	MaxBatchSize        int
	MaxRetries          int
	ProbeRatePerSec     float64
	ProbeBurst          int
	PollCron            string
	TemporalDisableBase time.Duration
	TemporalDisableMax  time.Duration
}

// DefaultConfig matches config.SetDefaults' monitor section.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        100,
		MaxRetries:          5,
		ProbeRatePerSec:     2,
		ProbeBurst:          4,
		PollCron:            "*/30 * * * * *",
		TemporalDisableBase: 60 * time.Second,
		TemporalDisableMax:  time.Hour,
	}
}

type streamerEntry struct {
	id                string
	state             StreamerState
	consecutiveErrors int
	disabledUntil     time.Time
}

func (e *streamerEntry) eligible(now time.Time) bool {
	if e.state.terminal() {
		return false
	}
	if e.state == StateTemporalDisabled && now.Before(e.disabledUntil) {
		return false
	}
	return true
}

// Monitor tracks a set of streamer ids on one platform and polls their
// liveness on PollCron's schedule via Prober.
type Monitor struct {
	cfg     Config
	platform string
	prober  Prober
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	streamers map[string]*streamerEntry
	order     []string

	// OnEvent receives every per-streamer state transition; may be nil.
	OnEvent func(StateEvent)

	// now is overridable by tests; defaults to time.Now.
	now func() time.Time
}

// New returns a Monitor for platform, probing through prober.
func New(cfg Config, platform string, prober Prober, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.ProbeRatePerSec)
	if cfg.ProbeRatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.ProbeBurst
	if burst < 1 {
		burst = 1
	}
	return &Monitor{
		cfg:       cfg,
		platform:  platform,
		prober:    prober,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
		metrics:   metrics,
		streamers: make(map[string]*streamerEntry),
		now:       time.Now,
	}
}

// Add starts tracking streamerID in StateNotLive. It is a no-op if
// streamerID is already tracked.
func (m *Monitor) Add(streamerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streamers[streamerID]; ok {
		return
	}
	m.streamers[streamerID] = &streamerEntry{id: streamerID, state: StateNotLive}
	m.order = append(m.order, streamerID)
}

// Cancel transitions streamerID to the terminal StateCancelled,
// removing it from future probe batches.
func (m *Monitor) Cancel(streamerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streamers[streamerID]
	if !ok {
		return ErrUnknownStreamer
	}
	m.transitionLocked(e, StateCancelled, models.MediaInfo{})
	return nil
}

// State reports streamerID's current state.
func (m *Monitor) State(streamerID string) (StreamerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streamers[streamerID]
	if !ok {
		return "", ErrUnknownStreamer
	}
	return e.state, nil
}

// Run schedules PollOnce on cfg.PollCron until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(m.cfg.PollCron, func() { m.PollOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// PollOnce runs a single probe round over every eligible tracked
// streamer, chunked into batches of at most cfg.MaxBatchSize, and
// applies the resulting state transitions.
func (m *Monitor) PollOnce(ctx context.Context) {
	batches := m.eligibleBatches()
	for _, batch := range batches {
		if ctx.Err() != nil {
			return
		}
		m.probeBatch(ctx, batch)
	}
}

func (m *Monitor) eligibleBatches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	var eligible []string
	for _, id := range m.order {
		e := m.streamers[id]
		if e != nil && e.eligible(now) {
			eligible = append(eligible, id)
		}
	}
	sort.Strings(eligible)

	size := m.cfg.MaxBatchSize
	if size < 1 {
		size = 1
	}
	var batches [][]string
	for start := 0; start < len(eligible); start += size {
		end := start + size
		if end > len(eligible) {
			end = len(eligible)
		}
		batches = append(batches, eligible[start:end])
	}
	return batches
}

func (m *Monitor) nowFn() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// probeBatch issues one Probe call for ids, retrying on rate-limit
// responses up to cfg.MaxRetries, then applies per-streamer outcomes.
func (m *Monitor) probeBatch(ctx context.Context, ids []string) {
	if err := m.limiter.Wait(ctx); err != nil {
		return
	}

	if m.metrics != nil {
		m.metrics.MonitorProbesTotal.WithLabelValues(m.platform).Inc()
	}

	var outcomes map[string]ProbeOutcome
	var err error
	for attempt := 0; ; attempt++ {
		outcomes, err = m.prober.Probe(ctx, ids)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return
		}
		rle, isRateLimited := asRateLimited(err)
		if !isRateLimited || attempt >= m.cfg.MaxRetries {
			m.logger.Warn("monitor: batch probe failed", slog.String("platform", m.platform), slog.String("error", err.Error()), slog.Int("batch_size", len(ids)))
			m.recordOutcome("request_failed")
			return
		}
		sleepFor(ctx, retryAfterDelay(rle, attempt))
	}

	for _, id := range ids {
		outcome, ok := outcomes[id]
		if !ok {
			continue
		}
		m.applyOutcome(id, outcome)
	}
}

func asRateLimited(err error) (*RateLimitedError, bool) {
	rle, ok := err.(*RateLimitedError)
	return rle, ok
}

// retryAfterDelay computes the wait before retrying a rate-limited
// batch: the server's Retry-After if given, else 1s*2^attempt with
// ±25% jitter, per spec.md §4.13.
func retryAfterDelay(rle *RateLimitedError, attempt int) time.Duration {
	if rle != nil && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	base := time.Second << uint(min(attempt, 10))
	jitter := float64(base) * (rand.Float64()*0.5 - 0.25)
	return base + time.Duration(jitter)
}

func sleepFor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (m *Monitor) applyOutcome(id string, outcome ProbeOutcome) {
	m.mu.Lock()
	e, ok := m.streamers[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	switch {
	case outcome.NotFound:
		m.transitionLocked(e, StateNotFound, outcome.Info)
		m.mu.Unlock()
		m.recordOutcome("not_found")
		return

	case outcome.Banned:
		m.transitionLocked(e, StateBanned, outcome.Info)
		m.mu.Unlock()
		m.recordOutcome("banned")
		return

	case outcome.Err != nil:
		e.consecutiveErrors++
		if e.consecutiveErrors >= 3 {
			m.transitionLocked(e, StateTemporalDisabled, outcome.Info)
			e.disabledUntil = m.nowFn().Add(disableDuration(m.cfg, e.consecutiveErrors))
		} else {
			m.transitionLocked(e, StateFatalError, outcome.Info)
		}
		m.mu.Unlock()
		m.recordOutcome("error")
		return
	}

	e.consecutiveErrors = 0
	next := StateNotLive
	if outcome.Info.IsLive {
		next = StateLive
	}
	m.transitionLocked(e, next, outcome.Info)
	m.mu.Unlock()

	if next == StateLive {
		m.recordOutcome("live")
	} else {
		m.recordOutcome("not_live")
	}
}

// disableDuration implements min(base * 2^(errors-3), max), per
// spec.md §4.13.
func disableDuration(cfg Config, consecutiveErrors int) time.Duration {
	base := cfg.TemporalDisableBase
	if base <= 0 {
		base = 60 * time.Second
	}
	max := cfg.TemporalDisableMax
	if max <= 0 {
		max = time.Hour
	}
	shift := consecutiveErrors - 3
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	d := base * time.Duration(int64(1)<<uint(shift))
	if d > max || d < 0 {
		d = max
	}
	return d
}

func (m *Monitor) recordOutcome(outcome string) {
	if m.metrics != nil {
		m.metrics.MonitorProbeOutcomesTotal.WithLabelValues(m.platform, outcome).Inc()
	}
}

// transitionLocked updates e's state and emits a StateEvent if it
// actually changed. Callers must hold m.mu.
func (m *Monitor) transitionLocked(e *streamerEntry, to StreamerState, info models.MediaInfo) {
	from := e.state
	e.state = to
	if from == to {
		return
	}
	if m.OnEvent != nil {
		m.OnEvent(StateEvent{StreamerID: e.id, From: from, To: to, Info: info, Timestamp: m.nowFn()})
	}
}
