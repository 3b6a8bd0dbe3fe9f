package replay

import "github.com/HowardHan99/RerunPublicRobot/internal/geom"

// Reconstruct returns the state of a timeline at time t. Queries at or
// before the first sample return that sample verbatim, queries at or after
// the last sample return the last sample verbatim, and queries in between
// blend the bracketing pair: linear interpolation for position and scale,
// spherical interpolation for rotation, per-kind interpolation for
// properties. The second result is false when the timeline is empty or nil.
func Reconstruct(tl *Timeline, t float64) (StateSnapshot, bool) {
	if tl.Len() == 0 {
		return StateSnapshot{}, false
	}
	before, after := tl.Bracket(t)
	if before == nil || after == nil {
		return StateSnapshot{}, false
	}
	if before == after || after.Timestamp == before.Timestamp {
		return before.Clone(), true
	}

	frac := (t - before.Timestamp) / (after.Timestamp - before.Timestamp)
	out := StateSnapshot{
		EntityID:   before.EntityID,
		Timestamp:  t,
		Position:   geom.LerpVec3(before.Position, after.Position, frac),
		Rotation:   geom.Slerp(before.Rotation, after.Rotation, frac),
		Scale:      geom.LerpVec3(before.Scale, after.Scale, frac),
		Properties: interpolateProperties(before.Properties, after.Properties, frac),
	}
	return out, true
}

// interpolateProperties merges the union of keys from both sides. Keys
// present on both sides interpolate by kind; keys present on one side carry
// through unchanged. The result keeps before's insertion order with
// after-only keys appended.
func interpolateProperties(before, after *Properties, frac float64) *Properties {
	if before.Len() == 0 && after.Len() == 0 {
		return nil
	}
	merged := NewProperties()
	for _, key := range before.Keys() {
		b, _ := before.Get(key)
		if a, ok := after.Get(key); ok {
			merged.Set(key, InterpolateProperty(b, a, frac))
			continue
		}
		merged.Set(key, b)
	}
	for _, key := range after.Keys() {
		if _, ok := before.Get(key); ok {
			continue
		}
		a, _ := after.Get(key)
		merged.Set(key, a)
	}
	return merged
}

// StateAt reconstructs one entity's state from a recording at time t. An
// entity queried before its first sample yields nothing: within a recording
// it did not exist yet, since late registrants get timelines that start at
// their registration time. Queries past the last sample still clamp, because
// there the recording ended, not the entity.
func StateAt(rec *Recording, entityID string, t float64) (StateSnapshot, bool) {
	if rec == nil {
		return StateSnapshot{}, false
	}
	tl := rec.Timeline(entityID)
	if tl.Len() == 0 || t < tl.Samples[0].Timestamp {
		return StateSnapshot{}, false
	}
	return Reconstruct(tl, t)
}

// StateAtAll reconstructs every entity's state from a recording at time t,
// keyed by entity id. Entities whose timeline is empty, or whose first
// sample is after t, are omitted.
func StateAtAll(rec *Recording, t float64) map[string]StateSnapshot {
	if rec == nil {
		return nil
	}
	states := make(map[string]StateSnapshot, len(rec.Timelines))
	for id, tl := range rec.Timelines {
		if tl.Len() == 0 || t < tl.Samples[0].Timestamp {
			continue
		}
		snap, ok := Reconstruct(tl, t)
		if !ok {
			continue
		}
		states[id] = snap
	}
	return states
}

// StateAtNormalized reconstructs every entity's state at a normalized
// position u in [0, 1], mapped onto the recording's total duration.
func StateAtNormalized(rec *Recording, u float64) map[string]StateSnapshot {
	if rec == nil {
		return nil
	}
	return StateAtAll(rec, u*rec.TotalDuration)
}
