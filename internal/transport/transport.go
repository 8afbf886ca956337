// Package transport is the named-topic publish/subscribe boundary between
// the two peers. Delivery is unreliable and mostly ordered.
package transport

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("transport: closed")

// Handler receives one payload. It runs on the transport's delivery
// goroutine and must not block or retain payload after returning.
type Handler func(payload []byte)

type Transport interface {
	Send(topic string, payload []byte) error
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// Mux fans a delivered payload out to the handlers of its topic.
type Mux struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

func (m *Mux) Subscribe(topic string, h Handler) func() {
	m.mu.Lock()
	if m.subs == nil {
		m.subs = map[string]map[int]Handler{}
	}
	if m.subs[topic] == nil {
		m.subs[topic] = map[int]Handler{}
	}
	id := m.next
	m.next++
	m.subs[topic][id] = h
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[topic], id)
			m.mu.Unlock()
		})
	}
}

// Dispatch calls every handler subscribed to topic and reports how many
// ran.
func (m *Mux) Dispatch(topic string, payload []byte) int {
	m.mu.RLock()
	hs := make([]Handler, 0, len(m.subs[topic]))
	for _, h := range m.subs[topic] {
		hs = append(hs, h)
	}
	m.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
	return len(hs)
}

// SendLatest enqueues b, dropping the oldest queued item if ch is full.
func SendLatest[T any](ch chan T, b T) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// Frame is the on-the-wire envelope: one topic length byte, the topic, then
// the payload.
func EncodeFrame(topic string, payload []byte) ([]byte, error) {
	if len(topic) == 0 || len(topic) > 255 {
		return nil, errors.New("transport: bad topic")
	}
	out := make([]byte, 0, 1+len(topic)+len(payload))
	out = append(out, byte(len(topic)))
	out = append(out, topic...)
	return append(out, payload...), nil
}

func DecodeFrame(b []byte) (topic string, payload []byte, err error) {
	if len(b) < 1 {
		return "", nil, errors.New("transport: empty frame")
	}
	n := int(b[0])
	if n == 0 || len(b) < 1+n {
		return "", nil, errors.New("transport: truncated topic")
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
