package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/wire"
)

// startTestServer starts a server on a loopback port with the given router.
func startTestServer(t *testing.T, cfg ServerConfig, r *Router) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, r, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func dialTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// expectClosed asserts the server closes conn without sending anything.
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Fatalf("expected no bytes from server, got %d", n)
	}
	if err == nil {
		t.Fatal("expected connection to be closed")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("expected connection to be closed, read timed out instead")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_PingRoundTrip(t *testing.T) {
	srv := startTestServer(t, ServerConfig{}, NewRouter(zerolog.Nop()))
	c := dialTestClient(t, srv)

	if err := c.Ping(callCtx(t)); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if srv.ActiveConnections() != 1 {
		t.Errorf("expected 1 active connection, got %d", srv.ActiveConnections())
	}
}

func TestServer_ConnectionStaysOpenAfterFailure(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	r.Handle("GET_APPOINTMENTS", func(context.Context, *Request) (Reply, error) {
		return Reply{}, nil
	})
	srv := startTestServer(t, ServerConfig{}, r)
	c := dialTestClient(t, srv)

	resp, err := c.Call(callCtx(t), "GET_APPOINTMENTS", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Success || resp.Message != "Not authenticated" {
		t.Errorf("unexpected response %+v", resp)
	}
	if err := c.Ping(callCtx(t)); err != nil {
		t.Errorf("expected connection usable after failed request: %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_TeardownLogsLastState(t *testing.T) {
	var out syncBuffer
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, NewRouter(zerolog.Nop()), zerolog.New(&out))
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	c := dialTestClient(t, srv)
	if err := c.Ping(callCtx(t)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	c.Close()

	waitFor(t, "connection closed log", func() bool {
		return strings.Contains(out.String(), `"message":"connection closed"`)
	})
	line := out.String()
	if !strings.Contains(line, `"last_state":"reading"`) || !strings.Contains(line, `"requests":1`) {
		t.Errorf("unexpected teardown log %s", line)
	}
}

func TestServer_PipelinedOrdering(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	r.Handle("ECHO", func(_ context.Context, req *Request) (Reply, error) {
		// Earlier requests take longer, so any reordering would show.
		var n int
		fmt.Sscanf(req.ID, "req-%d", &n)
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		return Reply{Message: req.ID}, nil
	})
	srv := startTestServer(t, ServerConfig{}, r)
	c := dialTestClient(t, srv)

	const n = 20
	for i := 0; i < n; i++ {
		req, err := wire.NewRequest(fmt.Sprintf("req-%d", i), "ECHO", "PAT001", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Send(req); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	c.nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < n; i++ {
		resp, err := c.Receive()
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		want := fmt.Sprintf("req-%d", i)
		if resp.RequestID != want || resp.Message != want {
			t.Fatalf("response %d: expected %s, got id=%s msg=%s", i, want, resp.RequestID, resp.Message)
		}
	}
}

func TestServer_RejectsBeyondCapacity(t *testing.T) {
	srv := startTestServer(t, ServerConfig{MaxConnections: 2}, NewRouter(zerolog.Nop()))

	c1 := dialTestClient(t, srv)
	c2 := dialTestClient(t, srv)
	for _, c := range []*Client{c1, c2} {
		if err := c.Ping(callCtx(t)); err != nil {
			t.Fatalf("ping: %v", err)
		}
	}

	third, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer third.Close()

	// A request sent before the server closes the socket must go unanswered.
	third.Write(wire.FrameMessage([]byte(`{"v":1,"requestId":"x","type":"PING"}`)))
	expectClosed(t, third)

	waitFor(t, "rejection counted", func() bool { return srv.Stats().Rejected == 1 })
	if srv.ActiveConnections() != 2 {
		t.Errorf("expected 2 active connections, got %d", srv.ActiveConnections())
	}

	// Freeing a slot admits the next client.
	c1.Close()
	waitFor(t, "slot released", func() bool { return srv.ActiveConnections() == 1 })
	c3 := dialTestClient(t, srv)
	if err := c3.Ping(callCtx(t)); err != nil {
		t.Errorf("expected new client to be admitted: %v", err)
	}
}

func TestServer_ProtocolErrorsCloseConnection(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
	}{
		{"malformed json", wire.FrameMessage([]byte("not json at all"))},
		{"unsupported version", wire.FrameMessage([]byte(`{"v":7,"requestId":"r","type":"PING"}`))},
		{"empty frame", []byte{0, 0, 0, 0}},
		{"oversized frame", []byte{0x7f, 0xff, 0xff, 0xff}},
	}
	srv := startTestServer(t, ServerConfig{MaxFrameBytes: 1024}, NewRouter(zerolog.Nop()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()
			if _, err := conn.Write(tt.bytes); err != nil {
				t.Fatalf("write: %v", err)
			}
			expectClosed(t, conn)
		})
	}
	waitFor(t, "all connections released", func() bool { return srv.ActiveConnections() == 0 })
}

func TestServer_CounterReturnsToZero(t *testing.T) {
	srv := startTestServer(t, ServerConfig{}, NewRouter(zerolog.Nop()))

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", srv.Addr())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		// Half a header, then an abrupt close.
		conn.Write([]byte{0, 0})
		conn.Close()
	}
	c := dialTestClient(t, srv)
	if err := c.Ping(callCtx(t)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	c.Close()

	waitFor(t, "active connections to reach zero", func() bool { return srv.ActiveConnections() == 0 })
	if got := srv.Stats().Accepted; got != 6 {
		t.Errorf("expected 6 accepted connections, got %d", got)
	}
}

func TestServer_IdleTimeout(t *testing.T) {
	srv := startTestServer(t, ServerConfig{IdleTimeout: 50 * time.Millisecond}, NewRouter(zerolog.Nop()))
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	expectClosed(t, conn)
}

func TestServer_ShutdownDrainsInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r := NewRouter(zerolog.Nop())
	r.Handle("SLOW", func(context.Context, *Request) (Reply, error) {
		close(entered)
		<-release
		return Reply{Message: "finished"}, nil
	})

	cfg := ServerConfig{Addr: "127.0.0.1:0"}
	srv := NewServer(cfg, r, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	busy := dialTestClient(t, srv)
	busy.SetActor("DOC001")
	idle := dialTestClient(t, srv)
	if err := idle.Ping(callCtx(t)); err != nil {
		t.Fatalf("ping: %v", err)
	}

	type result struct {
		resp *wire.Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := busy.Call(context.Background(), "SLOW", nil)
		results <- result{resp, err}
	}()
	waitEntered(t, entered)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- srv.Shutdown(ctx)
	}()

	// The idle connection is closed while the busy one is still working.
	expectClosed(t, idle.nc)
	select {
	case err := <-stopped:
		t.Fatalf("shutdown returned before in-flight request finished: %v", err)
	default:
	}

	close(release)
	res := <-results
	if res.err != nil {
		t.Fatalf("in-flight call failed: %v", res.err)
	}
	if !res.resp.Success || res.resp.Message != "finished" {
		t.Errorf("unexpected response %+v", res.resp)
	}

	if err := <-stopped; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
	if srv.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections, got %d", srv.ActiveConnections())
	}
	if _, err := net.DialTimeout("tcp", srv.Addr(), 200*time.Millisecond); err == nil {
		t.Error("expected listener to be closed")
	}
}

func TestServer_ShutdownForceCloses(t *testing.T) {
	entered := make(chan struct{})
	r := NewRouter(zerolog.Nop())
	r.Handle("STUCK", func(ctx context.Context, _ *Request) (Reply, error) {
		close(entered)
		<-ctx.Done()
		return Reply{}, ctx.Err()
	})

	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, r, zerolog.Nop())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := dialTestClient(t, srv)
	c.SetActor("DOC001")

	callErr := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "STUCK", nil)
		callErr <- err
	}()
	waitEntered(t, entered)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	err := <-callErr
	if err == nil || !(errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isConnReset(err)) {
		t.Errorf("expected client to observe a closed connection, got %v", err)
	}
	if srv.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections, got %d", srv.ActiveConnections())
	}
}

func waitEntered(t *testing.T, entered <-chan struct{}) {
	t.Helper()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func isConnReset(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func TestServer_StartInvalidAddr(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "256.0.0.1:99999"}, NewRouter(zerolog.Nop()), zerolog.Nop())
	if err := srv.Start(); err == nil {
		srv.Stop()
		t.Fatal("expected listen error")
	}
}
