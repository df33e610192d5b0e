package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/observe"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

const waitTimeout = 2 * time.Second

type inbound struct {
	msg Message
	err error
}

// fakeConn is an in-memory Conn. Deliver blocks until the bridge has taken
// the message, so messages are dispatched in delivery order.
type fakeConn struct {
	remote  string
	inbound chan inbound
	sent    chan Message

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	sendErr error
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{
		remote:  remote,
		inbound: make(chan inbound),
		sent:    make(chan Message, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case in := <-c.inbound:
		return in.msg, in.err
	case <-c.closed:
		return Message{}, io.EOF
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.sent <- msg
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.remote }

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) deliver(t *testing.T, msg Message) {
	t.Helper()
	select {
	case c.inbound <- inbound{msg: msg}:
	case <-time.After(waitTimeout):
		t.Fatalf("%s: bridge did not read %q", c.remote, msg.Type)
	}
}

func (c *fakeConn) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case c.inbound <- inbound{err: err}:
	case <-time.After(waitTimeout):
		t.Fatalf("%s: bridge did not read the error", c.remote)
	}
}

func (c *fakeConn) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// expect returns the next outbound message and checks its type.
func (c *fakeConn) expect(t *testing.T, typ MessageType) Message {
	t.Helper()
	select {
	case msg := <-c.sent:
		if msg.Type != typ {
			t.Fatalf("%s: sent %q (%+v), want %q", c.remote, msg.Type, msg, typ)
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("%s: no %q message sent", c.remote, typ)
		return Message{}
	}
}

// expectQuiet checks that nothing is sent for d.
func (c *fakeConn) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-c.sent:
		t.Fatalf("%s: unexpected message %+v", c.remote, msg)
	case <-time.After(d):
	}
}

type fixture struct {
	bridge *Bridge
	tts    *ttsmock.Provider
	stt    *sttmock.Provider
	ctx    context.Context
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		tts: &ttsmock.Provider{Audio: []byte("mp3-bytes")},
		stt: &sttmock.Provider{Text: "  sounds good  "},
	}
	f.bridge, err = New(f.tts, f.stt, cfg, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.ctx = ctx
	return f
}

// connect runs Serve for a new fake connection and waits until it is the
// active one. The returned channel yields Serve's result.
func (f *fixture) connect(t *testing.T, remote string) (*fakeConn, <-chan error) {
	t.Helper()
	c := newFakeConn(remote)
	done := make(chan error, 1)
	go func() { done <- f.bridge.Serve(f.ctx, c) }()
	t.Cleanup(c.close)

	waitFor(t, func() bool {
		h := f.bridge.registry.Get()
		return h != nil && h.RemoteAddr() == remote
	}, remote+" registered")
	return c, done
}

type converseResult struct {
	text string
	err  error
}

func (f *fixture) converse(ctx context.Context, req ConverseRequest) <-chan converseResult {
	out := make(chan converseResult, 1)
	go func() {
		text, err := f.bridge.Converse(ctx, req)
		out <- converseResult{text: text, err: err}
	}()
	return out
}

func await(t *testing.T, ch <-chan converseResult) converseResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("converse did not return")
		return converseResult{}
	}
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errBroken = errors.New("broken pipe")
