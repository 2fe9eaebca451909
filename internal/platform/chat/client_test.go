package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTrySendAndPump(t *testing.T) {
	client, conn := newTestClient(uuid.New(), uuid.New())
	go client.WritePump(time.Hour)
	defer client.Close()

	if !client.TrySend([]byte("frame"), 100*time.Millisecond) {
		t.Fatal("expected TrySend to succeed")
	}

	deadline := time.Now().Add(time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.written)
		conn.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never written")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTrySendAfterClose(t *testing.T) {
	client, _ := newTestClient(uuid.New(), uuid.New())
	client.Close()

	if client.TrySend([]byte("frame"), 100*time.Millisecond) {
		t.Error("expected TrySend to fail on a closed client")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client, conn := newTestClient(uuid.New(), uuid.New())
	client.Close()
	client.Close()

	if !client.Closed() {
		t.Error("expected client to report closed")
	}
	if !conn.isClosed() {
		t.Error("expected underlying conn closed")
	}
}

func TestWritePumpSendsPings(t *testing.T) {
	client, conn := newTestClient(uuid.New(), uuid.New())
	go client.WritePump(5 * time.Millisecond)
	defer client.Close()

	deadline := time.Now().Add(time.Second)
	for {
		conn.mu.Lock()
		pinged := len(conn.written) > 0
		conn.mu.Unlock()
		if pinged {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no ping written")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWritePumpClosesOnWriteError(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	client := NewClient(uuid.New(), uuid.New(), conn)

	done := make(chan struct{})
	go func() {
		client.WritePump(time.Hour)
		close(done)
	}()

	if !client.TrySend([]byte("frame"), 100*time.Millisecond) {
		t.Fatal("enqueue should succeed before the pump fails")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit on write error")
	}
	if !client.Closed() {
		t.Error("expected client closed after pump exit")
	}
}
