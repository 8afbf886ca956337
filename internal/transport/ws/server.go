package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tidewar.ai/internal/transport"
)

const (
	RoleAuthority = "authority"
	RoleObserver  = "observer"

	DefaultRoom = "default"

	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	maxFrame     = 4 << 20
	peerQueue    = 64
)

var ErrAuthorityPresent = errors.New("ws: room already has an authority")

// Server is a relay hub. Every frame a peer sends is forwarded to every
// other peer in the same room. The hub checks each frame is well-formed but
// never decodes the payload.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu    sync.Mutex
	rooms map[string]map[uint64]*peer
}

type peer struct {
	id   uint64
	role string
	out  chan []byte
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		log:   logger,
		rooms: map[string]map[uint64]*peer{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) join(room, role string) (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := s.rooms[room]
	if peers == nil {
		peers = map[uint64]*peer{}
		s.rooms[room] = peers
	}
	if role == RoleAuthority {
		for _, p := range peers {
			if p.role == RoleAuthority {
				return nil, ErrAuthorityPresent
			}
		}
	}
	p := &peer{id: s.nextID.Add(1), role: role, out: make(chan []byte, peerQueue)}
	peers[p.id] = p
	s.log.Printf("ws: join room=%s peer=%d role=%s peers=%d", room, p.id, role, len(peers))
	return p, nil
}

func (s *Server) leave(room string, p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := s.rooms[room]
	delete(peers, p.id)
	if len(peers) == 0 {
		delete(s.rooms, room)
	}
	s.log.Printf("ws: leave room=%s peer=%d role=%s", room, p.id, p.role)
}

func (s *Server) relay(room string, from uint64, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.rooms[room] {
		if id != from {
			transport.SendLatest(p.out, frame)
		}
	}
}

// Peers reports how many peers are joined to room.
func (s *Server) Peers(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[room])
}

// Handler upgrades /ws?room=<name>&role=authority|observer.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = DefaultRoom
		}
		role := r.URL.Query().Get("role")
		if role != RoleAuthority && role != RoleObserver {
			http.Error(rw, "role must be authority or observer", http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrame)

		p, err := s.join(room, role)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}
		defer s.leave(room, p)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-p.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if _, _, err := transport.DecodeFrame(msg); err != nil {
				continue
			}
			s.relay(room, p.id, msg)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Local joins room without a network connection. It is how an authority
// that runs inside the hub process talks to remote observers.
func (s *Server) Local(room, role string) (*Local, error) {
	p, err := s.join(room, role)
	if err != nil {
		return nil, err
	}
	l := &Local{s: s, room: room, p: p, done: make(chan struct{})}
	l.wg.Add(1)
	go l.deliver()
	return l, nil
}

// Local is an in-process hub peer.
type Local struct {
	s    *Server
	room string
	p    *peer
	mux  transport.Mux

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func (l *Local) deliver() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case b := <-l.p.out:
			topic, payload, err := transport.DecodeFrame(b)
			if err != nil {
				continue
			}
			l.mux.Dispatch(topic, payload)
		}
	}
}

func (l *Local) Send(topic string, payload []byte) error {
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}
	f, err := transport.EncodeFrame(topic, payload)
	if err != nil {
		return err
	}
	l.s.relay(l.room, l.p.id, f)
	return nil
}

func (l *Local) Subscribe(topic string, h transport.Handler) func() {
	return l.mux.Subscribe(topic, h)
}

func (l *Local) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.s.leave(l.room, l.p)
	})
	l.wg.Wait()
	return nil
}

var _ transport.Transport = (*Local)(nil)
