package colmena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FederationConfig configures the federation engine.
type FederationConfig struct {
	// Privacy governs validation, quorum, noise, and retention.
	Privacy PrivacyConfig `json:"privacy" yaml:"privacy"`

	// PurgeInterval is how often the retention sweep runs.
	PurgeInterval Duration `json:"purge_interval" yaml:"purge_interval"`

	// QueueDepth is the per-model-type aggregation task buffer.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`

	// Stream configures WebSocket delivery of released aggregates.
	Stream StreamConfig `json:"stream" yaml:"stream"`
}

// DefaultFederationConfig returns the default engine configuration.
func DefaultFederationConfig() FederationConfig {
	return FederationConfig{
		Privacy:       DefaultPrivacyConfig(),
		PurgeInterval: Duration(time.Hour),
		QueueDepth:    8,
		Stream:        DefaultStreamConfig(),
	}
}

// Federation is the server-side pool engine. It validates incoming
// contributions, accumulates them per model type, and releases noised
// aggregates once quorum is reached. Aggregation runs on one worker
// goroutine per model type so submissions for different types never
// serialize behind each other.
type Federation struct {
	config    FederationConfig
	gate      *AnonymizationGate
	agg       *Aggregator
	estimator ConfidenceEstimator
	noise     *NoiseInjector
	pool      *ContributionStore
	snapshots SnapshotStore
	durable   *SQLiteStore
	audit     *AuditLog
	hub       *StreamHub

	versionsMu sync.Mutex
	versions   map[ModelType]int64

	metricsMu        sync.Mutex
	metricsBySegment map[string]int

	tasksMu sync.RWMutex
	tasks   map[ModelType]chan struct{}

	// aggMu serializes the whole snapshot-combine-store sequence per
	// model type; ForceAggregate shares it with the type's worker.
	aggMu map[ModelType]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool

	// Stats
	contributionsAccepted int64
	contributionsRejected int64
	metricsAccepted       int64
	metricsRejected       int64
	aggregatesReleased    int64
	recordsPurged         int64
}

// SubmitStatus reports where a pool stands after a submission.
type SubmitStatus struct {
	ContributionID string    `json:"contribution_id,omitempty"`
	State          PoolState `json:"state"`
	Contributions  int       `json:"contributions"`
	Quorum         int       `json:"quorum"`
}

// MetricsStatus reports an accepted metrics contribution: an opaque
// submission id and how many metrics contributions the segment has made
// so far, including this one.
type MetricsStatus struct {
	MetricsID          string `json:"metrics_id"`
	TotalContributions int    `json:"total_contributions"`
}

// FederationStats is a point-in-time view of the engine.
type FederationStats struct {
	ContributionsAccepted int64                `json:"contributions_accepted"`
	ContributionsRejected int64                `json:"contributions_rejected"`
	MetricsAccepted       int64                `json:"metrics_accepted"`
	MetricsRejected       int64                `json:"metrics_rejected"`
	AggregatesReleased    int64                `json:"aggregates_released"`
	RecordsPurged         int64                `json:"records_purged"`
	PoolCounts            map[ModelType]int    `json:"pool_counts"`
	PoolStates            map[ModelType]string `json:"pool_states"`
	AvailableModels       []ModelType          `json:"available_models"`
	MetricsSegments       int                  `json:"metrics_segments"`
	AuditEntries          int                  `json:"audit_entries"`
	Subscribers           int                  `json:"subscribers"`
}

// NewFederation creates and starts an engine. snapshots may be nil for
// an in-memory store. When the snapshot store is a *SQLiteStore it also
// persists contribution records, metrics, and audit entries, and the
// engine reloads accumulated contributions from it at startup.
func NewFederation(config FederationConfig, snapshots SnapshotStore) (*Federation, error) {
	if config.Privacy.Quorum <= 0 {
		config.Privacy.Quorum = 3
	}
	if config.PurgeInterval <= 0 {
		config.PurgeInterval = Duration(time.Hour)
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 8
	}
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &Federation{
		config:           config,
		gate:             NewAnonymizationGate(config.Privacy.MinSampleCount, config.Privacy.MinCohortSize),
		agg:              NewAggregator(config.Privacy.StrictShapes),
		noise:            NewNoiseInjector(config.Privacy.Epsilon),
		pool:             NewContributionStore(config.Privacy.Quorum),
		snapshots:        snapshots,
		audit:            NewAuditLog(),
		hub:              NewStreamHub(config.Stream),
		versions:         make(map[ModelType]int64),
		metricsBySegment: make(map[string]int),
		tasks:            make(map[ModelType]chan struct{}),
		aggMu:            make(map[ModelType]*sync.Mutex),
		ctx:              ctx,
		cancel:           cancel,
	}
	f.durable, _ = snapshots.(*SQLiteStore)

	if err := f.restore(); err != nil {
		cancel()
		return nil, err
	}

	for _, typ := range SupportedModelTypes() {
		ch := make(chan struct{}, config.QueueDepth)
		f.tasks[typ] = ch
		f.aggMu[typ] = &sync.Mutex{}
		f.wg.Add(1)
		go f.worker(typ, ch)
	}

	f.wg.Add(1)
	go f.purgeLoop()

	return f, nil
}

// restore rebuilds in-memory state from the durable store.
func (f *Federation) restore() error {
	existing, err := f.snapshots.List()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, model := range existing {
		f.versions[model.ModelType] = model.Version
	}

	if f.durable == nil {
		return nil
	}

	records, err := f.durable.LoadContributions()
	if err != nil {
		return fmt.Errorf("failed to reload contributions: %w", err)
	}
	for _, rec := range records {
		f.pool.Restore(rec)
	}
	if len(records) > 0 {
		slog.Info("restored contribution pools", "records", len(records))
	}
	return nil
}

// SubmitContribution runs a contribution through the anonymization
// gate, stores it on success, and schedules an aggregation attempt for
// its model type. The returned status reflects the pool immediately
// after insertion; aggregation itself is asynchronous.
func (f *Federation) SubmitContribution(c *ModelContribution) (SubmitStatus, error) {
	if f.isClosed() {
		return SubmitStatus{}, ErrClosed
	}

	if !isSupportedModelType(c.ModelType) {
		atomic.AddInt64(&f.contributionsRejected, 1)
		return SubmitStatus{}, newValidationError(ReasonUnknown, "model_type",
			fmt.Sprintf("unsupported model type %q", c.ModelType))
	}

	if err := f.gate.Validate(c); err != nil {
		atomic.AddInt64(&f.contributionsRejected, 1)
		f.record(AuditContributionRejected, c.ModelType, err.Error())
		slog.Warn("contribution rejected", "model_type", c.ModelType, "err", err)
		return SubmitStatus{}, err
	}

	rec, state := f.pool.Add(c)
	atomic.AddInt64(&f.contributionsAccepted, 1)
	f.record(AuditContributionAccepted, c.ModelType, "segment "+rec.SegmentHashPrefix)

	if f.durable != nil {
		if err := f.durable.SaveContribution(rec); err != nil {
			slog.Error("failed to persist contribution", "id", rec.ID, "err", err)
		}
	}

	slog.Info("contribution accepted",
		"model_type", c.ModelType,
		"segment", rec.SegmentHashPrefix,
		"samples", c.SampleCount,
		"pool", state.String())

	if state == PoolReady {
		f.schedule(c.ModelType)
	}

	return SubmitStatus{
		ContributionID: rec.ID,
		State:          state,
		Contributions:  f.pool.Count(c.ModelType),
		Quorum:         f.config.Privacy.Quorum,
	}, nil
}

// SubmitMetrics validates and records an aggregated metrics
// contribution. The returned status carries an opaque submission id and
// the running contribution count for the submitter's segment.
func (f *Federation) SubmitMetrics(m *MetricsContribution) (MetricsStatus, error) {
	if f.isClosed() {
		return MetricsStatus{}, ErrClosed
	}

	if err := f.gate.ValidateMetrics(m); err != nil {
		atomic.AddInt64(&f.metricsRejected, 1)
		f.record(AuditMetricsRejected, "", err.Error())
		return MetricsStatus{}, err
	}

	atomic.AddInt64(&f.metricsAccepted, 1)
	prefix := hashPrefix(m.SegmentHash)

	f.metricsMu.Lock()
	f.metricsBySegment[prefix]++
	total := f.metricsBySegment[prefix]
	f.metricsMu.Unlock()

	f.record(AuditMetricsAccepted, "", "segment "+prefix)

	if f.durable != nil {
		if err := f.durable.SaveMetrics(m); err != nil {
			slog.Error("failed to persist metrics", "segment", prefix, "err", err)
		}
	}

	return MetricsStatus{
		MetricsID:          newRecordID(),
		TotalContributions: total,
	}, nil
}

// Aggregated returns the current released aggregate for a model type.
func (f *Federation) Aggregated(typ ModelType) (*AggregatedModel, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	if !isSupportedModelType(typ) {
		return nil, newValidationError(ReasonUnknown, "model_type",
			fmt.Sprintf("unsupported model type %q", typ))
	}
	return f.snapshots.Get(typ)
}

// ForceAggregate runs the aggregation pipeline for a model type
// synchronously and returns the released aggregate. ErrBelowQuorum
// means the pool has not accumulated enough contributions yet.
func (f *Federation) ForceAggregate(typ ModelType) (*AggregatedModel, error) {
	if f.isClosed() {
		return nil, ErrClosed
	}
	return f.aggregate(typ)
}

// schedule enqueues an aggregation attempt; a full queue means one is
// already pending, which covers this arrival too.
func (f *Federation) schedule(typ ModelType) {
	f.tasksMu.RLock()
	ch, ok := f.tasks[typ]
	f.tasksMu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// worker drains aggregation tasks for one model type.
func (f *Federation) worker(typ ModelType, tasks <-chan struct{}) {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-tasks:
			if _, err := f.aggregate(typ); err != nil && !errors.Is(err, ErrBelowQuorum) {
				slog.Error("aggregation failed", "model_type", typ, "err", err)
			}
		}
	}
}

// aggregate combines the accumulated pool for a model type and releases
// the result: combine, confidence, noise, version, store, stream. The
// sequence from snapshot to store must not interleave with another
// aggregation of the same type, or a run over a shorter contribution
// list could replace one over a longer list.
func (f *Federation) aggregate(typ ModelType) (*AggregatedModel, error) {
	if mu, ok := f.aggMu[typ]; ok {
		mu.Lock()
		defer mu.Unlock()
	}

	records := f.pool.Snapshot(typ)
	if len(records) < f.config.Privacy.Quorum {
		return nil, ErrBelowQuorum
	}

	model, err := f.agg.Combine(typ, records)
	if err != nil {
		return nil, err
	}

	model.Confidence = f.estimator.Score(records)
	if f.config.Privacy.ApplyNoise {
		model.CombinedParameters = f.noise.Apply(model.CombinedParameters)
	}

	f.versionsMu.Lock()
	f.versions[typ]++
	model.Version = f.versions[typ]
	f.versionsMu.Unlock()

	if err := f.snapshots.Put(model); err != nil {
		return nil, fmt.Errorf("failed to store aggregate: %w", err)
	}

	atomic.AddInt64(&f.aggregatesReleased, 1)
	f.record(AuditAggregateReleased, typ,
		fmt.Sprintf("version %d from %d contributions", model.Version, model.ContributionCount))
	slog.Info("aggregate released",
		"model_type", typ,
		"version", model.Version,
		"contributions", model.ContributionCount,
		"confidence", model.Confidence)

	f.hub.Publish(model)

	if f.config.Privacy.DiscardAfterAggregate {
		f.pool.Discard(typ)
		if f.durable != nil {
			if err := f.durable.DeleteContributions(typ); err != nil {
				slog.Error("failed to clear persisted contributions", "model_type", typ, "err", err)
			}
		}
	}

	return model, nil
}

// purgeLoop enforces the retention window.
func (f *Federation) purgeLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Duration(f.config.PurgeInterval))
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.purgeExpired()
		}
	}
}

// purgeExpired drops contribution records older than the retention
// window from memory and from the durable store.
func (f *Federation) purgeExpired() {
	cutoff := time.Now().AddDate(0, 0, -f.config.Privacy.RetentionDays)

	dropped := f.pool.Purge(cutoff)
	if f.durable != nil {
		if _, err := f.durable.PurgeContributions(cutoff); err != nil {
			slog.Error("retention purge failed", "err", err)
		}
	}

	if dropped > 0 {
		atomic.AddInt64(&f.recordsPurged, int64(dropped))
		f.record(AuditRetentionPurge, "", fmt.Sprintf("dropped %d records", dropped))
		slog.Info("retention purge", "dropped", dropped)
	}
}

// Stats returns a snapshot of engine counters and pool states.
func (f *Federation) Stats() FederationStats {
	counts := f.pool.Counts()
	states := make(map[ModelType]string, len(counts))
	for typ := range counts {
		states[typ] = f.pool.State(typ).String()
	}

	var available []ModelType
	if models, err := f.snapshots.List(); err == nil {
		for _, m := range models {
			available = append(available, m.ModelType)
		}
	}

	f.metricsMu.Lock()
	segments := len(f.metricsBySegment)
	f.metricsMu.Unlock()

	return FederationStats{
		ContributionsAccepted: atomic.LoadInt64(&f.contributionsAccepted),
		ContributionsRejected: atomic.LoadInt64(&f.contributionsRejected),
		MetricsAccepted:       atomic.LoadInt64(&f.metricsAccepted),
		MetricsRejected:       atomic.LoadInt64(&f.metricsRejected),
		AggregatesReleased:    atomic.LoadInt64(&f.aggregatesReleased),
		RecordsPurged:         atomic.LoadInt64(&f.recordsPurged),
		PoolCounts:            counts,
		PoolStates:            states,
		AvailableModels:       available,
		MetricsSegments:       segments,
		AuditEntries:          f.audit.Len(),
		Subscribers:           f.hub.SubscriberCount(),
	}
}

// AuditEntries returns the retained audit log, oldest first.
func (f *Federation) AuditEntries() []AuditEntry {
	return f.audit.Entries()
}

// Subscribe attaches a live subscription for released aggregates.
func (f *Federation) Subscribe(typ ModelType) *Subscription {
	return f.hub.Subscribe(typ)
}

// Unsubscribe detaches a live subscription.
func (f *Federation) Unsubscribe(id string) {
	f.hub.Unsubscribe(id)
}

// record appends an audit entry and mirrors it to the durable store.
func (f *Federation) record(event string, typ ModelType, detail string) {
	entry := f.audit.Record(event, typ, detail)
	if f.durable != nil {
		if err := f.durable.SaveAudit(entry); err != nil {
			slog.Error("failed to persist audit entry", "event", event, "err", err)
		}
	}
}

func (f *Federation) isClosed() bool {
	f.closedMu.RLock()
	defer f.closedMu.RUnlock()
	return f.closed
}

// Close stops the workers, closes live subscriptions, and closes the
// snapshot store.
func (f *Federation) Close() error {
	f.closedMu.Lock()
	if f.closed {
		f.closedMu.Unlock()
		return nil
	}
	f.closed = true
	f.closedMu.Unlock()

	f.cancel()
	f.wg.Wait()
	f.hub.CloseAll()
	return f.snapshots.Close()
}

// isSupportedModelType reports whether the pool accepts the type.
func isSupportedModelType(typ ModelType) bool {
	for _, t := range SupportedModelTypes() {
		if t == typ {
			return true
		}
	}
	return false
}
