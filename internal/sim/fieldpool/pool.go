package fieldpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tidewar.ai/internal/sim/field"
	"tidewar.ai/internal/sim/grid"
)

var (
	ErrClosed         = errors.New("fieldpool: closed")
	ErrNotInitialized = errors.New("fieldpool: not initialized")
	ErrSideBusy       = errors.New("fieldpool: side already has a request in flight")
	ErrBadSide        = errors.New("fieldpool: side out of range")
	ErrBusy           = errors.New("fieldpool: requests in flight")
)

// SolveFunc runs one distance-field computation on a worker.
type SolveFunc func(s *field.Solver, dst *field.Field, goalX, goalY float64)

func defaultSolve(s *field.Solver, dst *field.Field, goalX, goalY float64) {
	s.Solve(dst, goalX, goalY)
}

type job struct {
	side   int
	gen    uint64
	goalX  float64
	goalY  float64
	buf    *field.Field
	result chan<- result
}

type result struct {
	field *field.Field
	err   error
}

// Computer runs distance-field requests on a fixed set of worker goroutines.
//
// Field buffers move between owners: the Computer keeps one spare buffer per
// side, hands it to a worker with the request, the worker hands it to the
// caller through the Future, and the caller gives it back with Release.
// Nobody touches a buffer it has handed on.
type Computer struct {
	log       *log.Logger
	neighbors int
	solve     SolveFunc

	jobs    chan job
	wg      sync.WaitGroup
	started int

	mu       sync.Mutex
	closed   bool
	gen      uint64
	masks    []*grid.Grid
	w, h     int
	inflight []bool
	spare    []*field.Field
}

// New starts worker goroutines serving up to sides concurrent requests.
// neighbors selects the 4- or 8-neighborhood for every solve.
func New(workers, sides, neighbors int, logger *log.Logger) *Computer {
	if workers < 1 {
		workers = 1
	}
	if sides < 1 {
		sides = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Computer{
		log:       logger,
		neighbors: neighbors,
		solve:     defaultSolve,
		// At most one request per side is ever queued, so sends never block.
		jobs:     make(chan job, sides),
		inflight: make([]bool, sides),
		spare:    make([]*field.Field, sides),
		started:  workers,
	}
	c.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go c.worker(i)
	}
	return c
}

func (c *Computer) Workers() int { return c.started }

// Initialize gives every worker its own copy of the mask. Call it once per
// match, with no requests in flight.
func (c *Computer) Initialize(g *grid.Grid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, busy := range c.inflight {
		if busy {
			return ErrBusy
		}
	}
	masks := make([]*grid.Grid, c.started)
	for i := range masks {
		masks[i] = g.Clone()
	}
	c.masks = masks
	c.gen++
	if g.Width() != c.w || g.Height() != c.h {
		for i := range c.spare {
			c.spare[i] = nil
		}
		c.w, c.h = g.Width(), g.Height()
	}
	return nil
}

// Compute enqueues a request for side. A second request for the same side
// before the first resolves is rejected with ErrSideBusy.
func (c *Computer) Compute(side int, goalX, goalY float64) (*Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.masks == nil {
		return nil, ErrNotInitialized
	}
	if side < 0 || side >= len(c.inflight) {
		return nil, fmt.Errorf("%w: %d", ErrBadSide, side)
	}
	if c.inflight[side] {
		return nil, fmt.Errorf("%w: side %d", ErrSideBusy, side)
	}
	buf := c.spare[side]
	c.spare[side] = nil
	if buf == nil {
		buf = field.NewField(c.w, c.h)
	}
	c.inflight[side] = true

	ch := make(chan result, 1)
	c.jobs <- job{side: side, gen: c.gen, goalX: goalX, goalY: goalY, buf: buf, result: ch}
	return &Future{side: side, ch: ch}, nil
}

// Release hands a field obtained from a Future back for reuse. The caller
// must not read f afterwards.
func (c *Computer) Release(side int, f *field.Field) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if side < 0 || side >= len(c.spare) {
		return
	}
	if f.Width() != c.w || f.Height() != c.h {
		return
	}
	c.spare[side] = f
}

// Close stops the workers after queued requests finish.
func (c *Computer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.jobs)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Computer) worker(id int) {
	defer c.wg.Done()
	var (
		solver *field.Solver
		gen    uint64
	)
	for j := range c.jobs {
		if solver == nil || gen != j.gen {
			c.mu.Lock()
			mask := c.masks[id%len(c.masks)]
			c.mu.Unlock()
			solver = field.NewSolver(mask, c.neighbors)
			gen = j.gen
		}
		err := c.run(id, solver, j)
		c.finish(j, err)
	}
}

func (c *Computer) run(id int, solver *field.Solver, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("field worker %d side %d: panic: %v", id, j.side, r)
			c.log.Printf("fieldpool: %v", err)
		}
	}()
	c.solve(solver, j.buf, j.goalX, j.goalY)
	return nil
}

func (c *Computer) finish(j job, err error) {
	c.mu.Lock()
	c.inflight[j.side] = false
	if err != nil && c.spare[j.side] == nil {
		// The caller never sees a failed buffer; keep it for the next request.
		c.spare[j.side] = j.buf
	}
	c.mu.Unlock()

	if err != nil {
		j.result <- result{err: err}
		return
	}
	j.result <- result{field: j.buf}
}

// Future resolves to the field computed for one request.
type Future struct {
	side int
	ch   <-chan result
	res  *result
}

func (f *Future) Side() int { return f.side }

// Wait blocks until the request finishes. The returned field belongs to the
// caller until it is passed to Release.
func (f *Future) Wait(ctx context.Context) (*field.Field, error) {
	if f.res != nil {
		return f.res.field, f.res.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.ch:
		f.res = &r
		return r.field, r.err
	}
}
