package ws

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func startHub(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(quietLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func waitPeers(t *testing.T, s *Server, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Peers(room) != n {
		if time.Now().After(deadline) {
			t.Fatalf("room %s: got %d peers want %d", room, s.Peers(room), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_RelaysBetweenPeers(t *testing.T) {
	s, url := startHub(t)
	ctx := context.Background()

	auth, err := Dial(ctx, url, "r1", RoleAuthority, quietLogger())
	if err != nil {
		t.Fatalf("Dial authority: %v", err)
	}
	defer auth.Close()
	obs, err := Dial(ctx, url, "r1", RoleObserver, quietLogger())
	if err != nil {
		t.Fatalf("Dial observer: %v", err)
	}
	defer obs.Close()
	waitPeers(t, s, "r1", 2)

	got := make(chan string, 4)
	obs.Subscribe("snapshot", func(b []byte) { got <- "snapshot:" + string(b) })
	auth.Subscribe("input", func(b []byte) { got <- "input:" + string(b) })

	if err := auth.Send("snapshot", []byte("s1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := obs.Send("input", []byte("i1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case m := <-got:
			seen[m] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; seen %v", seen)
		}
	}
	if !seen["snapshot:s1"] || !seen["input:i1"] {
		t.Fatalf("unexpected frames: %v", seen)
	}
}

func TestHub_SingleAuthorityPerRoom(t *testing.T) {
	s, url := startHub(t)
	first, err := s.Local("r2", RoleAuthority)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer first.Close()

	second, err := Dial(context.Background(), url, "r2", RoleAuthority, quietLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()
	select {
	case <-second.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("second authority was not disconnected")
	}
	if s.Peers("r2") != 1 {
		t.Fatalf("peers: got %d want 1", s.Peers("r2"))
	}
}

func TestLocal_TalksToRemote(t *testing.T) {
	s, url := startHub(t)
	local, err := s.Local("r3", RoleAuthority)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	defer local.Close()
	remote, err := Dial(context.Background(), url, "r3", RoleObserver, quietLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer remote.Close()
	waitPeers(t, s, "r3", 2)

	got := make(chan []byte, 1)
	local.Subscribe("control", func(b []byte) { got <- append([]byte(nil), b...) })
	_ = remote.Send("control", []byte(`{"seq":1}`))
	select {
	case b := <-got:
		if string(b) != `{"seq":1}` {
			t.Fatalf("got %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}

	_ = local.Close()
	if err := local.Send("snapshot", nil); err == nil {
		t.Fatalf("expected send after close to fail")
	}
	waitPeers(t, s, "r3", 1)
}
