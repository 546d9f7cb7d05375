package quote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingfolio/internal/metrics"
)

type pending struct {
	id         string
	superseded chan struct{}
}

// Debouncer runs only the last of a burst of quote requests. A request
// waits for the delay to pass without a newer request arriving; earlier
// requests return ErrSuperseded as soon as they are replaced.
type Debouncer struct {
	sim   *Simulator
	delay time.Duration

	mu      sync.Mutex
	current *pending
}

// NewDebouncer creates a debouncer in front of sim.
func NewDebouncer(sim *Simulator, delay time.Duration) *Debouncer {
	return &Debouncer{sim: sim, delay: delay}
}

// Quote queues req and returns its result once it is still the latest
// request after the delay.
func (d *Debouncer) Quote(ctx context.Context, req Request) (*Result, error) {
	p := &pending{id: uuid.NewString(), superseded: make(chan struct{})}

	d.mu.Lock()
	if d.current != nil {
		close(d.current.superseded)
	}
	d.current = p
	d.mu.Unlock()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-p.superseded:
		return nil, d.supersede(p)
	case <-ctx.Done():
		d.release(p)
		return nil, ctx.Err()
	case <-timer.C:
	}

	if !d.release(p) {
		return nil, d.supersede(p)
	}

	res, err := d.sim.Quote(req)
	if err != nil {
		return nil, err
	}
	res.RequestID = p.id
	return res, nil
}

// release clears p if it is still current and reports whether it was.
func (d *Debouncer) release(p *pending) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != p {
		return false
	}
	d.current = nil
	return true
}

func (d *Debouncer) supersede(p *pending) error {
	metrics.QuotesTotal.WithLabelValues("superseded").Inc()
	return fmt.Errorf("%w: request %s", ErrSuperseded, p.id)
}

// Group keeps one Debouncer per session key, so independent clients do
// not supersede each other. A key's debouncer lives only while it has
// requests in flight.
type Group struct {
	sim   *Simulator
	delay time.Duration

	mu sync.Mutex
	m  map[string]*session
}

type session struct {
	d    *Debouncer
	refs int
}

// NewGroup creates an empty group.
func NewGroup(sim *Simulator, delay time.Duration) *Group {
	return &Group{sim: sim, delay: delay, m: make(map[string]*session)}
}

// Quote debounces req within the session key.
func (g *Group) Quote(ctx context.Context, key string, req Request) (*Result, error) {
	d := g.acquire(key)
	defer g.release(key, d)
	return d.Quote(ctx, req)
}

// Len returns the number of sessions with requests in flight.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *Group) acquire(key string) *Debouncer {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.m[key]
	if !ok {
		s = &session{d: NewDebouncer(g.sim, g.delay)}
		g.m[key] = s
	}
	s.refs++
	return s.d
}

func (g *Group) release(key string, d *Debouncer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.m[key]
	if !ok || s.d != d {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(g.m, key)
	}
}

// Forget drops the debouncer for key. Requests already in flight finish on
// the old debouncer.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, key)
}
