package runtimeconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
)

// RefresherConfig controls the refresh schedule and per-call timeouts.
type RefresherConfig struct {
	// Interval between scheduled cycles. Must be positive.
	Interval time.Duration
	// CycleTimeout bounds one whole cycle.
	CycleTimeout time.Duration
	// FetchTimeout bounds each Source call.
	FetchTimeout time.Duration
	// ResolveTimeout bounds each SecretResolver call.
	ResolveTimeout time.Duration
	// SecretReuseTTL is how long a resolved secret is reused while its
	// entry ETag is unchanged. Zero resolves on every cycle.
	SecretReuseTTL time.Duration
	// MaxConsecutiveFailures withdraws the published snapshot after this many
	// failed cycles in a row. Zero keeps serving the last good snapshot indefinitely.
	MaxConsecutiveFailures int
}

// DefaultRefresherConfig returns the default schedule.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval:       30 * time.Second,
		CycleTimeout:   25 * time.Second,
		FetchTimeout:   10 * time.Second,
		ResolveTimeout: 10 * time.Second,
		SecretReuseTTL: 5 * time.Minute,
	}
}

// Validate checks the schedule settings.
func (c RefresherConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %v", c.Interval)
	}
	if c.CycleTimeout <= 0 || c.FetchTimeout <= 0 || c.ResolveTimeout <= 0 {
		return errors.New("refresh timeouts must be positive")
	}
	if c.SecretReuseTTL < 0 {
		return errors.New("secret reuse TTL cannot be negative")
	}
	if c.MaxConsecutiveFailures < 0 {
		return errors.New("max consecutive failures cannot be negative")
	}
	return nil
}

// Status summarizes refresher activity. It never contains secret values.
type Status struct {
	Interval            string     `json:"interval"`
	Refreshing          bool       `json:"refreshing"`
	Cycles              uint64     `json:"cycles"`
	Successes           uint64     `json:"successes"`
	Failures            uint64     `json:"failures"`
	SkippedTicks        uint64     `json:"skipped_ticks"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastErrorType       string     `json:"last_error_type,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	SnapshotVersion     uint64     `json:"snapshot_version"`
	Revoked             bool       `json:"revoked"`
}

type resolvedSecret struct {
	etag       string
	uri        string
	value      string
	resolvedAt time.Time
}

// Refresher runs fetch, resolve, validate and publish cycles.
// At most one cycle runs at a time; a tick that fires during a cycle is dropped.
type Refresher struct {
	source   Source
	resolver SecretResolver
	builder  *Builder
	store    *SnapshotStore
	recorder Recorder
	logger   *zap.Logger
	cfg      RefresherConfig

	refreshing atomic.Bool
	version    atomic.Uint64

	mu       sync.Mutex
	status   Status
	secrets  map[string]resolvedSecret
	started  bool
	stopped  bool
	loopCtx  context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	cycles   sync.WaitGroup
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithRecorder reports every cycle to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Refresher) {
		r.recorder = rec
	}
}

// NewRefresher creates a Refresher publishing into store.
func NewRefresher(source Source, resolver SecretResolver, builder *Builder, store *SnapshotStore, logger *zap.Logger, cfg RefresherConfig, opts ...Option) (*Refresher, error) {
	if source == nil || resolver == nil || builder == nil || store == nil {
		return nil, errors.New("refresher requires a source, resolver, builder and store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Refresher{
		source:   source,
		resolver: resolver,
		builder:  builder,
		store:    store,
		logger:   logger.Named("refresher"),
		cfg:      cfg,
		secrets:  make(map[string]resolvedSecret),
	}
	r.status.Interval = cfg.Interval.String()
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start runs one cycle synchronously and then schedules a cycle every Interval
// until ctx is cancelled or Stop is called. A failed first cycle does not fail Start.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("refresher already started")
	}
	if r.stopped {
		r.mu.Unlock()
		return services.ErrRefresherStopped
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.loopCtx = loopCtx
	r.cancel = cancel
	r.loopDone = make(chan struct{})
	r.started = true
	r.mu.Unlock()

	r.logger.Info("starting config refresher",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("max_consecutive_failures", r.cfg.MaxConsecutiveFailures))

	r.tick(loopCtx, TriggerStartup)
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the schedule and any in-flight cycle, scheduled or manual, then
// waits for them to exit. A cancelled cycle never publishes, and once Stop
// returns nil no further snapshot is published. Trigger fails after Stop.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	cancel, done := r.cancel, r.loopDone
	r.started = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		if done != nil {
			<-done
		}
		r.cycles.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		r.logger.Info("config refresher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("config refresher stop: %w", ctx.Err())
	}
}

// Trigger runs one cycle now. It returns services.ErrRefreshInProgress
// when a cycle is already running and services.ErrRefresherStopped after Stop.
// While the schedule runs, the cycle is also cancelled by Stop.
func (r *Refresher) Trigger(ctx context.Context) (*Snapshot, error) {
	ctx, release, err := r.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if !r.refreshing.CompareAndSwap(false, true) {
		r.recordSkip(TriggerManual)
		return nil, services.ErrRefreshInProgress
	}
	defer r.refreshing.Store(false)

	report := r.runCycle(ctx, TriggerManual)
	return report.Snapshot, report.Err
}

// Status returns a copy of the current counters.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.status
	st.Refreshing = r.refreshing.Load()
	st.Revoked = r.store.Revoked()
	return st
}

// admit registers a manual cycle with Stop. The returned context is cancelled
// when either ctx or the schedule ends.
func (r *Refresher) admit(ctx context.Context) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, nil, services.ErrRefresherStopped
	}
	r.cycles.Add(1)
	if !r.started {
		return ctx, r.cycles.Done, nil
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	unlink := context.AfterFunc(r.loopCtx, cancel)
	return cycleCtx, func() {
		unlink()
		cancel()
		r.cycles.Done()
	}, nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycles.Add(1)
			go func() {
				defer r.cycles.Done()
				r.tick(ctx, TriggerSchedule)
			}()
		}
	}
}

// tick runs a cycle unless one is already in progress. It reports whether a cycle ran.
func (r *Refresher) tick(ctx context.Context, trigger Trigger) bool {
	if !r.refreshing.CompareAndSwap(false, true) {
		r.recordSkip(trigger)
		return false
	}
	defer r.refreshing.Store(false)

	r.runCycle(ctx, trigger)
	return true
}

func (r *Refresher) runCycle(ctx context.Context, trigger Trigger) CycleReport {
	report := CycleReport{
		CycleID:   uuid.New(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	snap, err := r.refresh(ctx)
	report.FinishedAt = time.Now().UTC()

	if err != nil {
		report.Outcome = OutcomeFailure
		report.Err = err
		r.onFailure(report)
	} else {
		report.Outcome = OutcomeSuccess
		report.Snapshot = snap
		r.onSuccess(report)
	}

	if r.recorder != nil {
		r.recorder.RecordCycle(report)
	}
	return report
}

func (r *Refresher) refresh(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CycleTimeout)
	defer cancel()

	entries := make(map[string]RawConfigEntry, len(RequiredKeys))
	for _, key := range RequiredKeys {
		entry, err := r.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		entries[key] = entry
	}

	values := make(map[string]string, len(entries))
	for _, key := range RequiredKeys {
		value, err := r.valueOf(ctx, entries[key])
		if err != nil {
			return nil, err
		}
		values[key] = value
	}

	cfg, err := r.builder.Build(Candidate{
		ChatLLM:  values[KeyChatLLM],
		Endpoint: values[KeyEndpoint],
		APIKey:   values[KeyAPIKey],
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, services.WrapInternal("refresh cycle cancelled before publish", err)
	}

	etags := make(map[string]string, len(entries))
	for key, entry := range entries {
		etags[key] = entry.ETag
	}

	snap := NewSnapshot(cfg, r.version.Add(1), etags)
	if err := r.store.Publish(snap); err != nil {
		return nil, services.WrapInternal("failed to publish snapshot", err)
	}
	return snap, nil
}

func (r *Refresher) fetch(ctx context.Context, key string) (RawConfigEntry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	entry, err := r.source.FetchOne(fetchCtx, key)
	if err != nil {
		if services.IsNotFoundError(err) {
			return RawConfigEntry{}, services.NewDomainError(services.ErrorTypeValidation, "required configuration entry is missing", err).
				WithDetail("key", key)
		}
		return RawConfigEntry{}, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to fetch configuration entry", err).
			WithDetail("key", key)
	}
	if entry.Key == "" {
		entry.Key = key
	}
	return entry, nil
}

func (r *Refresher) valueOf(ctx context.Context, entry RawConfigEntry) (string, error) {
	if !entry.IsSecretReference() {
		return entry.Value, nil
	}

	ref, err := ParseSecretReference(entry.Value)
	if err != nil {
		return "", services.NewDomainError(services.ErrorTypeValidation, "invalid secret reference", err).
			WithDetail("key", entry.Key)
	}

	if value, ok := r.reusableSecret(entry, ref); ok {
		r.logger.Debug("reusing resolved secret for unchanged entry",
			zap.String("key", entry.Key),
			zap.String("etag", entry.ETag))
		return value, nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, r.cfg.ResolveTimeout)
	defer cancel()

	value, err := r.resolver.Resolve(resolveCtx, ref)
	if err != nil {
		errType := services.GetErrorType(err)
		if errType != services.ErrorTypeSecretNotFound {
			errType = services.ErrorTypeSecretUnavailable
		}
		return "", services.NewDomainError(errType, "failed to resolve secret reference", err).
			WithDetail("key", entry.Key).
			WithDetail("secret", ref.URI)
	}

	r.rememberSecret(entry, ref, value)
	return value, nil
}

func (r *Refresher) reusableSecret(entry RawConfigEntry, ref SecretReference) (string, bool) {
	if r.cfg.SecretReuseTTL == 0 || entry.ETag == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.secrets[entry.Key]
	if !ok || prev.etag != entry.ETag || prev.uri != ref.URI {
		return "", false
	}
	if time.Since(prev.resolvedAt) >= r.cfg.SecretReuseTTL {
		return "", false
	}
	return prev.value, true
}

func (r *Refresher) rememberSecret(entry RawConfigEntry, ref SecretReference, value string) {
	if entry.ETag == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.secrets[entry.Key] = resolvedSecret{
		etag:       entry.ETag,
		uri:        ref.URI,
		value:      value,
		resolvedAt: time.Now(),
	}
}

func (r *Refresher) onSuccess(report CycleReport) {
	snap := report.Snapshot
	prev := r.store.Previous()
	changed := prev == nil || !sameETags(prev, snap)

	r.mu.Lock()
	r.status.Cycles++
	r.status.Successes++
	r.status.ConsecutiveFailures = 0
	finished := report.FinishedAt
	r.status.LastSuccessAt = &finished
	r.status.SnapshotVersion = snap.Version()
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("cycle_id", report.CycleID.String()),
		zap.String("trigger", string(report.Trigger)),
		zap.Uint64("version", snap.Version()),
		zap.Object("config", snap.config),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if changed {
		r.logger.Info("published configuration snapshot", fields...)
	} else {
		r.logger.Debug("published configuration snapshot (unchanged)", fields...)
	}
}

func (r *Refresher) onFailure(report CycleReport) {
	r.mu.Lock()
	r.status.Cycles++
	r.status.Failures++
	r.status.ConsecutiveFailures++
	finished := report.FinishedAt
	r.status.LastFailureAt = &finished
	r.status.LastErrorType = string(services.GetErrorType(report.Err))
	r.status.LastError = report.Err.Error()
	consecutive := r.status.ConsecutiveFailures
	r.mu.Unlock()

	r.logger.Warn("refresh cycle failed, keeping last known good configuration",
		zap.String("cycle_id", report.CycleID.String()),
		zap.String("trigger", string(report.Trigger)),
		zap.String("error_type", string(services.GetErrorType(report.Err))),
		zap.Error(report.Err),
		zap.Int("consecutive_failures", consecutive))

	if r.cfg.MaxConsecutiveFailures > 0 && consecutive >= r.cfg.MaxConsecutiveFailures && !r.store.Revoked() {
		r.store.Revoke()
		r.logger.Error("staleness ceiling reached, configuration withdrawn",
			zap.Int("consecutive_failures", consecutive),
			zap.Int("max_consecutive_failures", r.cfg.MaxConsecutiveFailures))
	}
}

func (r *Refresher) recordSkip(trigger Trigger) {
	r.mu.Lock()
	r.status.SkippedTicks++
	r.mu.Unlock()

	r.logger.Debug("refresh cycle already in progress, tick dropped", zap.String("trigger", string(trigger)))

	if r.recorder != nil {
		now := time.Now().UTC()
		r.recorder.RecordCycle(CycleReport{
			CycleID:    uuid.New(),
			Trigger:    trigger,
			Outcome:    OutcomeSkipped,
			StartedAt:  now,
			FinishedAt: now,
		})
	}
}

func sameETags(a, b *Snapshot) bool {
	for _, key := range RequiredKeys {
		if a.ETag(key) == "" || a.ETag(key) != b.ETag(key) {
			return false
		}
	}
	return true
}
