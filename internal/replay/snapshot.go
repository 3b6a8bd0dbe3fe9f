package replay

import (
	"sort"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
)

// StateSnapshot captures the full recorded state of one entity at one point
// in time. Timestamps are relative to the start of the recording that owns
// the snapshot.
type StateSnapshot struct {
	EntityID   string
	Timestamp  float64
	Position   geom.Vec3
	Rotation   geom.Quat
	Scale      geom.Vec3
	Properties *Properties
}

// Clone returns a copy whose property map shares no storage with the
// original.
func (s StateSnapshot) Clone() StateSnapshot {
	clone := s
	clone.Properties = s.Properties.Clone()
	return clone
}

// Timeline is the ordered sample history of a single entity. Samples are
// kept sorted by timestamp; Append restores the order if a caller delivers a
// sample late.
type Timeline struct {
	EntityID string
	Samples  []StateSnapshot
}

// Len returns the number of samples.
func (tl *Timeline) Len() int {
	if tl == nil {
		return 0
	}
	return len(tl.Samples)
}

// Append adds a sample, inserting at the sorted position when the sample is
// older than the current tail. It reports whether the insert was out of
// order.
func (tl *Timeline) Append(snap StateSnapshot) bool {
	if tl == nil {
		return false
	}
	n := len(tl.Samples)
	if n == 0 || snap.Timestamp >= tl.Samples[n-1].Timestamp {
		tl.Samples = append(tl.Samples, snap)
		return false
	}
	idx := sort.Search(n, func(i int) bool {
		return tl.Samples[i].Timestamp > snap.Timestamp
	})
	tl.Samples = append(tl.Samples, StateSnapshot{})
	copy(tl.Samples[idx+1:], tl.Samples[idx:])
	tl.Samples[idx] = snap
	return true
}

// Bracket returns the samples immediately before and after t. When t falls
// outside the sampled range the nearest boundary sample fills both slots;
// when the timeline is empty both results are nil. The returned pointers
// index into the timeline and must not be mutated.
func (tl *Timeline) Bracket(t float64) (before, after *StateSnapshot) {
	if tl == nil || len(tl.Samples) == 0 {
		return nil, nil
	}
	n := len(tl.Samples)
	if t <= tl.Samples[0].Timestamp {
		return &tl.Samples[0], &tl.Samples[0]
	}
	if t >= tl.Samples[n-1].Timestamp {
		return &tl.Samples[n-1], &tl.Samples[n-1]
	}
	idx := sort.Search(n, func(i int) bool {
		return tl.Samples[i].Timestamp > t
	})
	return &tl.Samples[idx-1], &tl.Samples[idx]
}

// Clone deep-copies the timeline and every sample in it.
func (tl *Timeline) Clone() *Timeline {
	if tl == nil {
		return nil
	}
	clone := &Timeline{EntityID: tl.EntityID}
	if len(tl.Samples) > 0 {
		clone.Samples = make([]StateSnapshot, len(tl.Samples))
		for i, snap := range tl.Samples {
			clone.Samples[i] = snap.Clone()
		}
	}
	return clone
}

// Recording is a finalized capture session: one timeline per recorded entity
// plus the total wall-clock duration of the session. Recordings are treated
// as immutable once finalized.
type Recording struct {
	TotalDuration float64
	Timelines     map[string]*Timeline
}

// Timeline returns the named entity's timeline, or nil when the entity was
// never recorded.
func (r *Recording) Timeline(entityID string) *Timeline {
	if r == nil {
		return nil
	}
	return r.Timelines[entityID]
}

// EntityIDs returns the recorded entity ids in sorted order.
func (r *Recording) EntityIDs() []string {
	if r == nil || len(r.Timelines) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Timelines))
	for id := range r.Timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SampleCount returns the total number of samples across all timelines.
func (r *Recording) SampleCount() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, tl := range r.Timelines {
		total += tl.Len()
	}
	return total
}

// Empty reports whether the recording holds no samples at all.
func (r *Recording) Empty() bool {
	return r.SampleCount() == 0
}

// Clone deep-copies the recording.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	clone := &Recording{TotalDuration: r.TotalDuration}
	if len(r.Timelines) > 0 {
		clone.Timelines = make(map[string]*Timeline, len(r.Timelines))
		for id, tl := range r.Timelines {
			clone.Timelines[id] = tl.Clone()
		}
	}
	return clone
}
