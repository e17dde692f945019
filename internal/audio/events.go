package audio

import (
	"sync"
	"sync/atomic"

	"github.com/faiface/beep"

	"github.com/jscyril/music_stream_engine/api"
)

// eventQueue delivers engine events in order without ever blocking the
// emitter. Pending events are dropped on close.
type eventQueue struct {
	mu      sync.Mutex
	pending []api.EngineEvent
	notify  chan struct{}
	quit    chan struct{}
	once    sync.Once
	out     chan api.EngineEvent
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan api.EngineEvent),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(ev api.EngineEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.out)
	for {
		select {
		case <-q.quit:
			return
		case <-q.notify:
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			ev := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			select {
			case q.out <- ev:
			case <-q.quit:
				return
			}
		}
	}
}

func (q *eventQueue) close() {
	q.once.Do(func() { close(q.quit) })
}

// gate sits between the decoder and the output. It pauses without holding
// the output lock, tracks the playhead and lets the source be swapped.
// While the resource is still arriving it reads from a pump and never
// blocks; once complete it reads the seekable decoder directly.
type gate struct {
	// guarded by the output lock; exactly one is set
	s   beep.StreamSeekCloser
	src *pump

	paused   atomic.Bool
	detached atomic.Bool
	starved  atomic.Bool
	pos      atomic.Int64

	onStarve func(starved bool)
}

func (g *gate) Stream(samples [][2]float64) (int, bool) {
	if g.detached.Load() {
		return 0, false
	}
	if g.paused.Load() {
		silence(samples)
		return len(samples), true
	}

	if g.src == nil {
		g.setStarved(false)
		n, ok := g.s.Stream(samples)
		g.pos.Add(int64(n))
		return n, ok
	}

	n, eof := g.src.take(samples)
	g.pos.Add(int64(n))
	switch {
	case eof && n == 0:
		return 0, false
	case eof:
		return n, true
	case n < len(samples):
		// Caught up with the network: pad with silence until data arrives
		silence(samples[n:])
		g.setStarved(true)
		return len(samples), true
	}
	g.setStarved(false)
	return n, true
}

func (g *gate) Err() error {
	if g.s != nil {
		return g.s.Err()
	}
	return nil
}

func (g *gate) setStarved(starved bool) {
	if g.starved.Swap(starved) != starved && g.onStarve != nil {
		g.onStarve(starved)
	}
}

func silence(samples [][2]float64) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
}

// pump decodes ahead of the output on its own goroutine, so reads that wait
// for network bytes never run under the output lock. It owns s and closes
// it on exit.
type pump struct {
	mu      sync.Mutex
	cond    *sync.Cond
	s       beep.StreamSeekCloser
	queue   [][2]float64
	limit   int
	eof     bool
	stopped bool
}

const pumpChunk = 512

func newPump(s beep.StreamSeekCloser, limit int) *pump {
	if limit < pumpChunk {
		limit = pumpChunk
	}
	p := &pump{s: s, limit: limit}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *pump) run() {
	defer p.s.Close()
	chunk := make([][2]float64, pumpChunk)
	for {
		p.mu.Lock()
		for len(p.queue) >= p.limit && !p.stopped {
			p.cond.Wait()
		}
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		n, ok := p.s.Stream(chunk)

		p.mu.Lock()
		p.queue = append(p.queue, chunk[:n]...)
		if !ok {
			p.eof = true
		}
		p.mu.Unlock()
		if !ok {
			return
		}
	}
}

// take copies decoded samples into dst. eof reports that the decoder has
// ended and nothing is left queued.
func (p *pump) take(dst [][2]float64) (n int, eof bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n = copy(dst, p.queue)
	p.queue = p.queue[n:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	if n > 0 {
		p.cond.Broadcast()
	}
	return n, p.eof && len(p.queue) == 0
}

func (p *pump) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// stop ends the pump once its current read returns
func (p *pump) stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
}
