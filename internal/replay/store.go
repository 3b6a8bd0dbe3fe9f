package replay

import "sync"

// Telemetry captures the metrics adapter used by the replay core to report
// counters. The adapter may be nil, in which case counters are discarded.
type Telemetry interface {
	Add(key string, delta uint64)
}

const (
	// MetricDroppedSamples counts appends rejected for an empty entity id.
	MetricDroppedSamples = "replay.store.dropped_samples"
	// MetricOutOfOrderAppends counts samples that arrived older than the
	// timeline tail and were inserted at their sorted position.
	MetricOutOfOrderAppends = "replay.store.out_of_order_appends"
	// MetricSamples counts samples accepted into the store.
	MetricSamples = "replay.store.samples"
)

// TimelineStore owns the per-entity timelines accumulated while a recording
// is in progress. All mutations go through the store so ordering and clone
// discipline hold no matter which caller appends.
type TimelineStore struct {
	mu        sync.Mutex
	timelines map[string]*Timeline
	samples   int
	dropped   uint64
	telemetry Telemetry
}

// NewTimelineStore constructs an empty store. The telemetry adapter may be
// nil.
func NewTimelineStore(telemetry Telemetry) *TimelineStore {
	return &TimelineStore{
		timelines: make(map[string]*Timeline),
		telemetry: telemetry,
	}
}

// Append adds a snapshot to the entity's timeline, creating the timeline on
// first use. Appends with an empty entity id are dropped and counted. The
// snapshot is cloned on the way in so later mutation by the caller cannot
// reach the stored history.
func (s *TimelineStore) Append(entityID string, snap StateSnapshot) bool {
	if s == nil {
		return false
	}
	if entityID == "" {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.emit(MetricDroppedSamples, 1)
		return false
	}

	stored := snap.Clone()
	stored.EntityID = entityID

	s.mu.Lock()
	tl := s.timelines[entityID]
	if tl == nil {
		tl = &Timeline{EntityID: entityID}
		s.timelines[entityID] = tl
	}
	outOfOrder := tl.Append(stored)
	s.samples++
	s.mu.Unlock()

	s.emit(MetricSamples, 1)
	if outOfOrder {
		s.emit(MetricOutOfOrderAppends, 1)
	}
	return true
}

// EnsureTimeline creates an empty timeline for the entity if none exists. It
// reports whether a timeline was created.
func (s *TimelineStore) EnsureTimeline(entityID string) bool {
	if s == nil || entityID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timelines[entityID]; ok {
		return false
	}
	s.timelines[entityID] = &Timeline{EntityID: entityID}
	return true
}

// Bracket returns clones of the snapshots immediately before and after t on
// the entity's timeline. When t falls outside the sampled range the boundary
// snapshot fills both slots; an empty or missing timeline yields (nil, nil).
func (s *TimelineStore) Bracket(entityID string, t float64) (*StateSnapshot, *StateSnapshot) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	before, after := s.timelines[entityID].Bracket(t)
	if before == nil || after == nil {
		return nil, nil
	}
	beforeClone := before.Clone()
	afterClone := after.Clone()
	return &beforeClone, &afterClone
}

// SampleCount returns the number of samples accepted since the last reset.
func (s *TimelineStore) SampleCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// TimelineCount returns the number of timelines, including empty ones.
func (s *TimelineStore) TimelineCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timelines)
}

// DroppedCount returns the number of appends rejected for an empty id.
func (s *TimelineStore) DroppedCount() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Reset discards every timeline. A new recording starts from an empty store.
func (s *TimelineStore) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines = make(map[string]*Timeline)
	s.samples = 0
	s.dropped = 0
}

// Finalize deep-copies the accumulated timelines into an immutable Recording
// with the provided total duration. The store keeps its contents; callers
// reset it when the next recording begins.
func (s *TimelineStore) Finalize(totalDuration float64) *Recording {
	if s == nil {
		return &Recording{TotalDuration: totalDuration}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &Recording{TotalDuration: totalDuration}
	if len(s.timelines) > 0 {
		rec.Timelines = make(map[string]*Timeline, len(s.timelines))
		for id, tl := range s.timelines {
			rec.Timelines[id] = tl.Clone()
		}
	}
	return rec
}

func (s *TimelineStore) emit(key string, delta uint64) {
	if s == nil || s.telemetry == nil {
		return
	}
	s.telemetry.Add(key, delta)
}
