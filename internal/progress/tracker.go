package progress

import (
	"sync"
	"time"
)

// Status represents the current archive run status
type Status struct {
	PagesProcessed   int64
	PagesSkipped     int64
	ObjectsPacked    int64
	ObjectsDropped   int64
	ObjectsDiscarded int64
	ChunksUploaded   int64
	ChunksSkipped    int64
	PackedBytes      int64
	StartTime        time.Time
	LastUpdateTime   time.Time
	CurrentSpeed     float64 // bytes/second over the last few seconds
	AverageSpeed     float64 // bytes/second since start
}

// Tracker tracks archive progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
	window       time.Duration
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
		window:       5 * time.Second,
	}
}

// AddPacked records an object packed into a chunk
func (t *Tracker) AddPacked(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ObjectsPacked++
	t.status.PackedBytes += bytes
	t.updateSpeed(bytes)
}

// AddDropped records an object whose fetch failed
func (t *Tracker) AddDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ObjectsDropped++
}

// AddDiscarded records objects skipped by the resume cursor
func (t *Tracker) AddDiscarded(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ObjectsDiscarded += int64(n)
}

// AddChunk records a closed chunk
func (t *Tracker) AddChunk(uploaded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if uploaded {
		t.status.ChunksUploaded++
	} else {
		t.status.ChunksSkipped++
	}
}

// AddPage records a finished page
func (t *Tracker) AddPage(skipped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if skipped {
		t.status.PagesSkipped++
	} else {
		t.status.PagesProcessed++
	}
}

// updateSpeed must be called with the lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)

	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.PackedBytes) / elapsed.Seconds()
	}

	t.status.LastUpdateTime = now
}

// calculateCurrentSpeed calculates current speed based on recent samples
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-t.window)
	var recentBytes int64
	var firstSample *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		firstSample = sample
	}

	if firstSample != nil {
		if d := now.Sub(firstSample.timestamp); d > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / d.Seconds()
		}
	}
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}
