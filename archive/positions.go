package archive

import (
	"sync"

	"go.uber.org/atomic"
)

// PositionSource reports the recorded position of a recording. active is false once the
// recording has stopped, or when it was never started.
type PositionSource interface {
	RecordingPosition(recordingID int64) (position int64, active bool)
}

// Positions is the registry of recording position counters. The recorder advances a counter
// from its own goroutine; readers see a monotone value while the recording is active.
type Positions struct {
	mu       sync.RWMutex
	counters map[int64]*atomic.Int64
}

func NewPositions() *Positions {
	return &Positions{counters: map[int64]*atomic.Int64{}}
}

// RecordingPosition implements PositionSource.
func (p *Positions) RecordingPosition(recordingID int64) (int64, bool) {
	p.mu.RLock()
	c, ok := p.counters[recordingID]
	p.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

func (p *Positions) add(recordingID, position int64) *atomic.Int64 {
	c := atomic.NewInt64(position)
	p.mu.Lock()
	p.counters[recordingID] = c
	p.mu.Unlock()
	return c
}

func (p *Positions) remove(recordingID int64) {
	p.mu.Lock()
	delete(p.counters, recordingID)
	p.mu.Unlock()
}

// Active returns the ids of every active recording.
func (p *Positions) Active() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.counters))
	for id := range p.counters {
		ids = append(ids, id)
	}
	return ids
}
