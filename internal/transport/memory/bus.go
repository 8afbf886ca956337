// Package memory connects two peers in one process. It can drop frames to
// exercise loss handling.
package memory

import (
	"math/rand"
	"sync"

	"tidewar.ai/internal/transport"
)

type Options struct {
	// Queue is the per-peer delivery queue depth. Full queues drop the
	// oldest frame.
	Queue int
	// Loss is the probability in [0,1) that a sent frame is dropped.
	Loss float64
	Seed int64
}

type frame struct {
	topic   string
	payload []byte
}

// Peer is one end of a pair.
type Peer struct {
	mux   transport.Mux
	in    chan frame
	other *Peer

	mu     sync.Mutex
	rng    *rand.Rand
	loss   float64
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewPair returns two connected peers. Close both when done.
func NewPair(opts Options) (*Peer, *Peer) {
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	a := newPeer(opts, opts.Seed)
	b := newPeer(opts, opts.Seed+1)
	a.other, b.other = b, a
	return a, b
}

func newPeer(opts Options, seed int64) *Peer {
	p := &Peer{
		in:   make(chan frame, opts.Queue),
		rng:  rand.New(rand.NewSource(seed)),
		loss: opts.Loss,
		done: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.deliver()
	return p
}

func (p *Peer) deliver() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case f := <-p.in:
			p.mux.Dispatch(f.topic, f.payload)
		}
	}
}

// Send copies payload and queues it for the other peer.
func (p *Peer) Send(topic string, payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return transport.ErrClosed
	}
	drop := p.loss > 0 && p.rng.Float64() < p.loss
	p.mu.Unlock()
	if drop {
		return nil
	}

	o := p.other
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return transport.ErrClosed
	}
	transport.SendLatest(o.in, frame{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *Peer) Subscribe(topic string, h transport.Handler) func() {
	return p.mux.Subscribe(topic, h)
}

// Close stops delivery to this peer. It is idempotent.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

var _ transport.Transport = (*Peer)(nil)
