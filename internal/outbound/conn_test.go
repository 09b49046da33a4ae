package outbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// acceptOnce starts an httptest server that accepts exactly one WebSocket
// connection, wraps it in a Conn, and delivers it on the returned channel.
// The connection is kept open by a background read loop until the client
// or the Conn itself closes it.
func acceptOnce(t *testing.T) (*Conn, *websocket.Conn, func()) {
	t.Helper()
	connCh := make(chan *Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := New(ws)
		connCh <- c
		for {
			if _, _, err := ws.Read(r.Context()); err != nil {
				return
			}
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+server.URL[len("http"):], nil)
	if err != nil {
		server.Close()
		t.Fatalf("dial: %v", err)
	}

	serverConn := <-connCh
	return serverConn, client, server.Close
}

func TestSendStopAudioMarshalsExactFrame(t *testing.T) {
	serverConn, client, closeServer := acceptOnce(t)
	defer closeServer()
	defer client.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := serverConn.SendStopAudio(ctx); err != nil {
		t.Fatalf("SendStopAudio: %v", err)
	}

	_, data, err := client.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}

	want := `{"Kind":"StopAudio","AudioData":null,"StopAudio":{}}`
	if string(data) != want {
		t.Errorf("StopAudio frame = %s, want %s", data, want)
	}
}

func TestSendsAfterCloseReturnErrDisconnected(t *testing.T) {
	serverConn, client, closeServer := acceptOnce(t)
	defer closeServer()
	defer client.Close(websocket.StatusNormalClosure, "")

	if !serverConn.Connected() {
		t.Fatal("expected Connected() true before Close")
	}

	if err := serverConn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if serverConn.Connected() {
		t.Fatal("expected Connected() false after Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := serverConn.SendStopAudio(ctx); err != ErrDisconnected {
		t.Errorf("SendStopAudio after close = %v, want ErrDisconnected", err)
	}
	if err := serverConn.SendText(ctx, "hello"); err != ErrDisconnected {
		t.Errorf("SendText after close = %v, want ErrDisconnected", err)
	}
	if err := serverConn.SendAudio(ctx, []byte{1, 2, 3}); err != ErrDisconnected {
		t.Errorf("SendAudio after close = %v, want ErrDisconnected", err)
	}
}
