package packet

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmptyQueue is returned by Pop, Front and Back on an empty queue.
	ErrEmptyQueue = errors.New("packet: empty queue")
	// ErrBufferFull is returned by Admit once the queued Data bytes exceed
	// the queue's budget.
	ErrBufferFull = errors.New("packet: buffer full")
)

// Queue is an ordered, thread-safe buffer of packets for one stream. It has a
// single producer (the dispatch goroutine) and a single consumer (the stream
// decoder). Only Data packets count against the byte budget.
type Queue struct {
	stream   Stream
	maxBytes int64

	mu      sync.Mutex
	items   []*Packet
	bytes   int64
	signal  chan struct{}
	waiting int
}

// NewQueue creates an empty queue. A maxBytes of zero disables the budget.
func NewQueue(stream Stream, maxBytes int64) *Queue {
	return &Queue{
		stream:   stream,
		maxBytes: maxBytes,
		signal:   make(chan struct{}),
	}
}

// Stream returns the stream this queue carries.
func (q *Queue) Stream() Stream { return q.stream }

// Push appends p and wakes the consumer if it is waiting.
func (q *Queue) Push(p *Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	if p.Kind == KindData {
		q.bytes += int64(p.Size)
	}
	q.wakeLocked()
}

// Pop removes and returns the front packet.
func (q *Queue) Pop() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (*Packet, error) {
	if len(q.items) == 0 {
		return nil, ErrEmptyQueue
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if p.Kind == KindData {
		q.bytes -= int64(p.Size)
	}
	if len(q.items) == 0 {
		q.items = nil
	}
	return p, nil
}

// Front returns the next packet without removing it.
func (q *Queue) Front() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrEmptyQueue
	}
	return q.items[0], nil
}

// Back returns the most recently pushed packet without removing it.
func (q *Queue) Back() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrEmptyQueue
	}
	return q.items[len(q.items)-1], nil
}

func (q *Queue) frontIs(k Kind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0 && q.items[0].Kind == k
}

func (q *Queue) IsFlush() bool     { return q.frontIs(KindFlush) }
func (q *Queue) IsSeek() bool      { return q.frontIs(KindSeekBegin) }
func (q *Queue) IsSeekEnd() bool   { return q.frontIs(KindSeekEnd) }
func (q *Queue) IsPreroll() bool   { return q.frontIs(KindPreroll) }
func (q *Queue) IsLoopStart() bool { return q.frontIs(KindLoopStart) }
func (q *Queue) IsLoopEnd() bool   { return q.frontIs(KindLoopEnd) }

// Flush pushes a Flush sentinel at ts.
func (q *Queue) Flush(ts int64) {
	q.Push(NewSentinel(q.stream, KindFlush, ts))
}

// SeekBegin flushes and opens a seek window at ts.
func (q *Queue) SeekBegin(ts int64) {
	q.pushSentinels(ts, KindFlush, KindSeekBegin)
}

// SeekEnd closes a seek or preroll window.
func (q *Queue) SeekEnd(ts int64) {
	q.Push(NewSentinel(q.stream, KindSeekEnd, ts))
}

// Preroll flushes and opens a preroll window at ts. Unlike SeekBegin, the
// consumer keeps the frames decoded before the target.
func (q *Queue) Preroll(ts int64) {
	q.pushSentinels(ts, KindFlush, KindPreroll)
}

// LoopAtStart marks the first-frame loop boundary.
func (q *Queue) LoopAtStart(frame int64) {
	q.Push(NewSentinel(q.stream, KindLoopStart, frame))
}

// LoopAtEnd marks the last-frame loop boundary.
func (q *Queue) LoopAtEnd(frame int64) {
	q.Push(NewSentinel(q.stream, KindLoopEnd, frame))
}

func (q *Queue) pushSentinels(ts int64, kinds ...Kind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, k := range kinds {
		q.items = append(q.items, NewSentinel(q.stream, k, ts))
	}
	q.wakeLocked()
}

// Clear drops every queued packet. Bytes is zero afterwards.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 {
		q.popLocked()
	}
	q.bytes = 0
}

// Len returns the number of queued packets, sentinels included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no packets.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Bytes returns the summed size of queued Data packets.
func (q *Queue) Bytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Admit returns ErrBufferFull when the queued bytes exceed the budget.
func (q *Queue) Admit() error {
	if q.maxBytes <= 0 {
		return nil
	}
	if q.Bytes() > q.maxBytes {
		return ErrBufferFull
	}
	return nil
}

// Wait blocks until the queue is non-empty, WakeAll is called, or d elapses.
// It reports whether a packet is available.
func (q *Queue) Wait(d time.Duration) bool {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.mu.Unlock()
		return true
	}
	ch := q.signal
	q.waiting++
	q.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// WakeAll releases every goroutine parked in Wait.
func (q *Queue) WakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.signal)
	q.signal = make(chan struct{})
	q.waiting = 0
}

func (q *Queue) wakeLocked() {
	if q.waiting == 0 {
		return
	}
	close(q.signal)
	q.signal = make(chan struct{})
	q.waiting = 0
}
