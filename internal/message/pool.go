package message

import "sync"

// Pool is a bounded free-list of reusable Message instances (spec.md §4.1).
// Acquire/release are not thread-safe by contract per spec.md §5 ("the
// runtime is cooperative single-threaded"); Pool additionally guards itself
// with a mutex so concurrent-language-style callers (goroutines producing
// into a subsystem queue while the scheduler consumes) stay safe, the
// documented alternative spec.md §4.1 allows.
type Pool struct {
	mu       sync.Mutex
	capacity int
	free     []*Message

	created uint64
	reused  uint64
	released uint64
}

// Stats is a snapshot of pool counters (spec.md §4.1).
type Stats struct {
	Created   uint64
	Reused    uint64
	Released  uint64
	PoolSize  int
	ReuseRate float64
	Efficiency float64
}

// NewPool constructs a Pool with the given bounded capacity. capacity<=0
// means "use the spec default of 1000".
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Pool{capacity: capacity}
}

// Warmup pre-fills the pool with k stub instances so early acquires don't
// pay construction cost (spec.md §4.1). Warmup does not touch
// created/reused: those two counters partition Acquire calls only
// (invariant I6, pool.created + pool.reused == total Acquire calls), and a
// warmed-up stub hasn't been acquired yet. It is counted exactly once, as
// a reuse, whenever some later Acquire actually pulls it off the free
// list.
func (p *Pool) Warmup(k int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < k && len(p.free) < p.capacity; i++ {
		p.free = append(p.free, &Message{})
	}
}

// Acquire returns either a reset top-of-stack instance or a newly
// constructed one (spec.md §4.1). An empty free list never causes a
// failure; the only error is an InvalidPath for a path that fails the
// grammar.
func (p *Pool) Acquire(path string, body any, opts Options) (*Message, error) {
	p.mu.Lock()
	var m *Message
	if n := len(p.free); n > 0 {
		m = p.free[n-1]
		p.free = p.free[:n-1]
		p.reused++
	} else {
		m = &Message{}
		p.created++
	}
	p.mu.Unlock()

	if err := m.resetForAcquire(path, body, opts); err != nil {
		return nil, err
	}
	return m, nil
}

// Release clears the message's body/mutable meta and returns it to the
// free list if capacity allows; otherwise it is dropped (spec.md §4.1).
// Callers must not read the instance afterwards.
func (p *Pool) Release(m *Message) {
	if m == nil {
		return
	}
	m.clearForRelease()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, m)
	}
	p.released++
}

// Stats reports pool counters, including derived reuseRate/efficiency
// (spec.md §4.1, invariant I6 spec.md §8).
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	acquires := p.created + p.reused
	var reuseRate, efficiency float64
	if acquires > 0 {
		reuseRate = float64(p.reused) / float64(acquires)
		efficiency = float64(p.reused) / float64(acquires)
	}
	return Stats{
		Created:    p.created,
		Reused:     p.reused,
		Released:   p.released,
		PoolSize:   len(p.free),
		ReuseRate:  reuseRate,
		Efficiency: efficiency,
	}
}
