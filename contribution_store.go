package colmena

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PoolState describes how far a model type's contribution pool has
// progressed toward quorum.
type PoolState int

const (
	// PoolEmpty means no contributions have been accepted for the type.
	PoolEmpty PoolState = iota
	// PoolAccumulating means contributions exist but quorum is not met.
	PoolAccumulating
	// PoolReady means the pool holds at least a quorum of contributions.
	PoolReady
)

func (s PoolState) String() string {
	switch s {
	case PoolEmpty:
		return "empty"
	case PoolAccumulating:
		return "accumulating"
	case PoolReady:
		return "ready"
	}
	return "unknown"
}

// MarshalJSON renders the state by name.
func (s PoolState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a state name.
func (s *PoolState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "empty":
		*s = PoolEmpty
	case "accumulating":
		*s = PoolAccumulating
	case "ready":
		*s = PoolReady
	default:
		return fmt.Errorf("unknown pool state %q", name)
	}
	return nil
}

// typePool holds the accumulated contributions for one model type.
// Each pool has its own lock so submissions for different types never
// contend.
type typePool struct {
	mu      sync.RWMutex
	records []*ContributionRecord
}

// ContributionStore accumulates validated contributions per model type
// until quorum, and enforces the retention window.
type ContributionStore struct {
	mu     sync.RWMutex
	pools  map[ModelType]*typePool
	quorum int
}

// NewContributionStore creates a store. quorum values below 1 are
// raised to 1.
func NewContributionStore(quorum int) *ContributionStore {
	if quorum < 1 {
		quorum = 1
	}
	return &ContributionStore{
		pools:  make(map[ModelType]*typePool),
		quorum: quorum,
	}
}

// pool returns the bucket for a model type, creating it on first use.
func (s *ContributionStore) pool(typ ModelType) *typePool {
	s.mu.RLock()
	p, ok := s.pools[typ]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.pools[typ]; ok {
		return p
	}
	p = &typePool{}
	s.pools[typ] = p
	return p
}

// Add records a validated contribution and returns the stored record
// and the pool's state after insertion.
func (s *ContributionStore) Add(c *ModelContribution) (*ContributionRecord, PoolState) {
	rec := &ContributionRecord{
		ID:                newRecordID(),
		ModelType:         c.ModelType,
		SegmentHashPrefix: hashPrefix(c.SegmentHash),
		Parameters:        c.Parameters.Clone(),
		ValidationMetrics: c.ValidationMetrics,
		SampleCount:       c.SampleCount,
		ReceivedAt:        time.Now(),
	}

	p := s.pool(c.ModelType)
	p.mu.Lock()
	p.records = append(p.records, rec)
	n := len(p.records)
	p.mu.Unlock()

	return rec, s.state(n)
}

// Restore re-inserts a previously persisted record, preserving its id
// and receipt time. Used when reloading from the durable store at
// startup.
func (s *ContributionStore) Restore(rec *ContributionRecord) {
	p := s.pool(rec.ModelType)
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
}

// Snapshot returns a copy of the record slice for a model type. The
// records themselves are shared; callers must not mutate them.
func (s *ContributionStore) Snapshot(typ ModelType) []*ContributionRecord {
	p := s.pool(typ)
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*ContributionRecord, len(p.records))
	copy(out, p.records)
	return out
}

// Count reports how many contributions a model type has accumulated.
func (s *ContributionStore) Count(typ ModelType) int {
	p := s.pool(typ)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// State reports the pool state for a model type.
func (s *ContributionStore) State(typ ModelType) PoolState {
	return s.state(s.Count(typ))
}

func (s *ContributionStore) state(n int) PoolState {
	switch {
	case n == 0:
		return PoolEmpty
	case n < s.quorum:
		return PoolAccumulating
	default:
		return PoolReady
	}
}

// Discard drops all accumulated contributions for a model type. Used
// when DiscardAfterAggregate is set.
func (s *ContributionStore) Discard(typ ModelType) int {
	p := s.pool(typ)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.records)
	p.records = nil
	return n
}

// Purge removes records older than the cutoff across all pools and
// returns how many were dropped.
func (s *ContributionStore) Purge(cutoff time.Time) int {
	s.mu.RLock()
	pools := make([]*typePool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	dropped := 0
	for _, p := range pools {
		p.mu.Lock()
		kept := p.records[:0]
		for _, rec := range p.records {
			if rec.ReceivedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, rec)
		}
		p.records = kept
		p.mu.Unlock()
	}
	return dropped
}

// Counts returns the per-type contribution counts for every pool that
// has seen at least one contribution.
func (s *ContributionStore) Counts() map[ModelType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ModelType]int, len(s.pools))
	for typ, p := range s.pools {
		p.mu.RLock()
		out[typ] = len(p.records)
		p.mu.RUnlock()
	}
	return out
}

// newRecordID generates a random 16-hex-character record id.
func newRecordID() string {
	var buf [8]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
