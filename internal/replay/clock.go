package replay

import "sync"

// Clock is the replay-clock contract the engine consumes: the current
// playback position in seconds plus its normalized form against the active
// recording's duration.
type Clock interface {
	PlaybackTime() float64
	NormalizedPosition() float64
}

// PlaybackClock is a seekable replay clock advanced by the host tick loop.
// It clamps to [0, duration] and pauses itself when playback reaches the
// end.
type PlaybackClock struct {
	mu       sync.Mutex
	position float64
	duration float64
	speed    float64
	playing  bool
}

// NewPlaybackClock constructs a paused clock at position zero with unit
// speed.
func NewPlaybackClock() *PlaybackClock {
	return &PlaybackClock{speed: 1}
}

// PlaybackTime returns the current position in seconds.
func (c *PlaybackClock) PlaybackTime() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// NormalizedPosition returns the position scaled into [0, 1] against the
// configured duration; zero when no duration is set.
func (c *PlaybackClock) NormalizedPosition() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.duration <= 0 {
		return 0
	}
	return c.position / c.duration
}

// Advance moves the position forward by dt seconds scaled by the playback
// speed. It does nothing while paused.
func (c *PlaybackClock) Advance(dt float64) {
	if c == nil || dt <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.position += dt * c.speed
	if c.duration > 0 && c.position >= c.duration {
		c.position = c.duration
		c.playing = false
	}
	if c.position < 0 {
		c.position = 0
	}
}

// Play resumes playback. Resuming at the end restarts from zero.
func (c *PlaybackClock) Play() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.duration > 0 && c.position >= c.duration {
		c.position = 0
	}
	c.playing = true
}

// Pause halts playback at the current position.
func (c *PlaybackClock) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

// Playing reports whether the clock is advancing.
func (c *PlaybackClock) Playing() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Seek jumps to the given position, clamped into [0, duration].
func (c *PlaybackClock) Seek(position float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if position < 0 {
		position = 0
	}
	if c.duration > 0 && position > c.duration {
		position = c.duration
	}
	c.position = position
}

// SetSpeed changes the playback rate. Non-positive speeds are ignored.
func (c *PlaybackClock) SetSpeed(speed float64) {
	if c == nil || speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Speed returns the current playback rate.
func (c *PlaybackClock) Speed() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetDuration binds the clock to a recording length, clamping the current
// position into the new range.
func (c *PlaybackClock) SetDuration(duration float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if duration < 0 {
		duration = 0
	}
	c.duration = duration
	if c.duration > 0 && c.position > c.duration {
		c.position = c.duration
	}
}

// Duration returns the bound recording length.
func (c *PlaybackClock) Duration() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}
