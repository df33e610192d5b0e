package endpoint_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/endpoint"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

const testTimeout = 3 * time.Second

func startEndpoint(t *testing.T, opts ...endpoint.Option) (*bridge.Bridge, *httptest.Server) {
	t.Helper()
	b, err := bridge.New(
		&ttsmock.Provider{Audio: []byte("ID3-speech")},
		&sttmock.Provider{Text: " I'm fine, thanks. "},
		bridge.Config{},
	)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	srv := httptest.NewServer(endpoint.New(b, opts...))
	t.Cleanup(srv.Close)
	return b, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial connects a fake browser and waits until the bridge registered it.
func dial(t *testing.T, b *bridge.Bridge, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	before := b.Registry().Get()
	ws, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })

	for {
		if h := b.Registry().Get(); h != nil && h != before {
			return ws
		}
		select {
		case <-ctx.Done():
			t.Fatal("bridge never registered the connection")
		case <-time.After(time.Millisecond):
		}
	}
}

func readMsg(t *testing.T, ws *websocket.Conn, want bridge.MessageType) bridge.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	var msg bridge.Message
	if err := wsjson.Read(ctx, ws, &msg); err != nil {
		t.Fatalf("read %q: %v", want, err)
	}
	if msg.Type != want {
		t.Fatalf("got %+v, want type %q", msg, want)
	}
	return msg
}

func writeMsg(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type result struct {
	text string
	err  error
}

func converse(b *bridge.Bridge, req bridge.ConverseRequest) <-chan result {
	out := make(chan result, 1)
	go func() {
		text, err := b.Converse(context.Background(), req)
		out <- result{text, err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("converse did not return")
		return result{}
	}
}

func TestEndpoint_FullExchangeOverWebSocket(t *testing.T) {
	b, srv := startEndpoint(t)
	ws := dial(t, b, srv)

	res := converse(b, bridge.ConverseRequest{Message: "How are you?", WaitForResponse: true})

	if msg := readMsg(t, ws, bridge.TypeStatus); msg.Text != "Speaking..." {
		t.Errorf("status = %q", msg.Text)
	}
	audio := readMsg(t, ws, bridge.TypeAudio)
	if got, _ := base64.StdEncoding.DecodeString(audio.Data); string(got) != "ID3-speech" {
		t.Errorf("audio = %q", got)
	}
	writeMsg(t, ws, map[string]string{"type": "playback_done"})
	readMsg(t, ws, bridge.TypeListening)
	writeMsg(t, ws, map[string]string{
		"type": "audio",
		"data": base64.StdEncoding.EncodeToString([]byte("webm-reply")),
	})
	if msg := readMsg(t, ws, bridge.TypeStatus); msg.Text != "Transcribing..." {
		t.Errorf("status = %q", msg.Text)
	}
	readMsg(t, ws, bridge.TypeDone)

	r := awaitResult(t, res)
	if r.err != nil || r.text != "I'm fine, thanks." {
		t.Errorf("Converse = %q, %v", r.text, r.err)
	}
}

func TestEndpoint_BrowserCloseClearsRegistry(t *testing.T) {
	b, srv := startEndpoint(t)
	ws := dial(t, b, srv)

	ws.Close(websocket.StatusGoingAway, "tab closed")

	deadline := time.Now().Add(testTimeout)
	for b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("registry not cleared after browser closed")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := b.Converse(context.Background(), bridge.ConverseRequest{Message: "hi"}); !errors.Is(err, bridge.ErrNoConnection) {
		t.Errorf("Converse = %v, want ErrNoConnection", err)
	}
}

func TestEndpoint_SecondTabTakesOver(t *testing.T) {
	b, srv := startEndpoint(t)
	first := dial(t, b, srv)
	second := dial(t, b, srv)

	res := converse(b, bridge.ConverseRequest{Message: "hello"})
	readMsg(t, second, bridge.TypeStatus)
	readMsg(t, second, bridge.TypeAudio)
	readMsg(t, second, bridge.TypeDone)
	if r := awaitResult(t, res); r.err != nil || r.text != bridge.MessageDelivered {
		t.Errorf("Converse = %q, %v", r.text, r.err)
	}

	// The superseded tab closing must not disconnect the new one.
	first.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)
	if !b.Connected() {
		t.Error("closing the superseded tab cleared the registry")
	}
}

func TestEndpoint_OversizedFrameDropsConnection(t *testing.T) {
	b, srv := startEndpoint(t, endpoint.WithMaxMessageBytes(1024))
	ws := dial(t, b, srv)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	big := strings.Repeat("A", 4096)
	_ = wsjson.Write(ctx, ws, map[string]string{"type": "audio", "data": big})

	deadline := time.Now().Add(testTimeout)
	for b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("connection survived an oversized frame")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEndpoint_RejectsForeignOrigin(t *testing.T) {
	_, srv := startEndpoint(t, endpoint.WithOriginPatterns("voice.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv), &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {"https://evil.example.net"}},
	})
	if err == nil {
		t.Fatal("dial from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Errorf("response = %v, want 403", resp)
	}
}
