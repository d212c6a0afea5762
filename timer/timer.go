package timer

import (
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// Setter receives the moving average of the timed sections, in nanoseconds.
type Setter interface {
	Set(int64)
}

type Timer interface {
	// Start the timer
	// Timer must be stopped, which is the state of a new timer.
	Start()
	// Pause the timer.
	// Timer must be started.
	Pause()
	// Resumed the timer.
	// Timer must be paused.
	Resume()
	// Stop the timer.
	// Timer must be started.
	Stop()
}

type timerState int

const (
	Stopped timerState = iota
	Started
	Paused
)

// Perform basic timings of sections of code.
// Keeps a running average of timing values.
type timer struct {
	sampleRate float64
	start      time.Time
	current    time.Duration
	avg        *movavg
	state      timerState
	clock      clock.Clock

	avgVar Setter
}

// New creates a timer sampling the given fraction of events.
// A nil clock uses the wall clock, a zero sample rate disables timing.
func New(sampleRate float64, movingAverageSize int, avgVar Setter, c clock.Clock) Timer {
	if sampleRate <= 0 {
		return NewNoOp()
	}
	if c == nil {
		c = clock.New()
	}
	return &timer{
		sampleRate: sampleRate,
		avg:        newMovAvg(movingAverageSize),
		clock:      c,
		avgVar:     avgVar,
	}
}

// Start timer.
func (t *timer) Start() {
	if t.state != Stopped {
		panic("invalid timer state")
	}
	if t.sampleRate >= 1 || rand.Float64() < t.sampleRate {
		t.state = Started
		t.start = t.clock.Now()
	}
}

// Pause current timing event.
func (t *timer) Pause() {
	if t.state != Started {
		return
	}
	t.current += t.clock.Now().Sub(t.start)
	t.state = Paused
}

// Resumed paused timer.
func (t *timer) Resume() {
	if t.state != Paused {
		return
	}
	t.start = t.clock.Now()
	t.state = Started
}

// Stop and record time of event.
// The moving average is updated at this point.
func (t *timer) Stop() {
	if t.state != Started {
		return
	}
	t.current += t.clock.Now().Sub(t.start)
	avg := t.avg.update(float64(t.current))
	t.current = 0
	t.state = Stopped
	t.avgVar.Set(int64(avg))
}

// movavg is the average of the last size values.
type movavg struct {
	history []float64
	idx     int
	count   int
	sum     float64
}

func newMovAvg(size int) *movavg {
	if size < 1 {
		size = 1
	}
	return &movavg{history: make([]float64, size)}
}

func (m *movavg) update(value float64) float64 {
	if m.count == len(m.history) {
		m.sum -= m.history[m.idx]
	} else {
		m.count++
	}
	m.history[m.idx] = value
	m.sum += value
	m.idx = (m.idx + 1) % len(m.history)
	return m.sum / float64(m.count)
}
