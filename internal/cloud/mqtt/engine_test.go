package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloud/transport"
)

// memStream is an in-memory transport.Stream driven by the test acting
// as the broker.
type memStream struct {
	in  chan []byte // broker -> engine
	out chan []byte // engine -> broker

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func newMemStream() *memStream {
	return &memStream{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (m *memStream) Data() <-chan []byte   { return m.in }
func (m *memStream) Done() <-chan struct{} { return m.done }

func (m *memStream) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *memStream) Write(p []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return transport.ErrStreamClosed
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	m.out <- buf
	return nil
}

func (m *memStream) Close() error {
	m.terminate(nil)
	return nil
}

// terminate ends the stream, recording the first reason.
func (m *memStream) terminate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	close(m.done)
	close(m.in)
}

// send delivers raw bytes to the engine as one data chunk.
func (m *memStream) send(p []byte) {
	m.in <- p
}

// memTransport hands out a pre-built stream.
type memTransport struct {
	stream *memStream
}

func (t *memTransport) Connect(_ context.Context) (transport.Stream, error) {
	return t.stream, nil
}

// recvPacket reads one engine-written packet off the stream.
func (m *memStream) recvPacket(t *testing.T) []byte {
	t.Helper()
	select {
	case pkt := <-m.out:
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for engine packet")
		return nil
	}
}

func connackBytes(code byte) []byte {
	return []byte{packetConnack << 4, 0x02, 0x00, code}
}

func subackBytes(packetID uint16, code byte) []byte {
	return []byte{packetSuback << 4, 0x03, byte(packetID >> 8), byte(packetID), code}
}

// dialTestEngine runs the CONNECT/CONNACK handshake against the fake
// broker and returns the connected engine.
func dialTestEngine(t *testing.T, stream *memStream, cfg Config) *Engine {
	t.Helper()

	if cfg.ClientID == "" {
		cfg.ClientID = "test_client"
	}

	go func() {
		pkt := <-stream.out // CONNECT
		if pkt[0]>>4 == packetConnect {
			stream.send(connackBytes(ConnAccepted))
		}
	}()

	e, err := Dial(context.Background(), &memTransport{stream: stream}, cfg)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestDialHandshake(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{Username: "jwt", Password: "helloyou"})

	if !e.IsConnected() {
		t.Error("IsConnected() = false after accepted connack")
	}
	if got := e.State(); got != StateConnected {
		t.Errorf("State() = %v, want %v", got, StateConnected)
	}
}

func TestDialRefusedNotAuthorised(t *testing.T) {
	stream := newMemStream()

	go func() {
		<-stream.out // CONNECT
		stream.send(connackBytes(ConnRefusedNotAuth))
	}()

	_, err := Dial(context.Background(), &memTransport{stream: stream}, Config{ClientID: "c"})

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Dial() error = %v, want *ConnectError", err)
	}
	if connErr.Code != ConnRefusedNotAuth {
		t.Errorf("return code = %d, want %d", connErr.Code, ConnRefusedNotAuth)
	}
	if !connErr.IsAuthFailure() {
		t.Error("IsAuthFailure() = false for return code 5")
	}
}

func TestDialConnackTimeout(t *testing.T) {
	stream := newMemStream()

	go func() {
		<-stream.out // CONNECT, never answered
	}()

	cfg := Config{ClientID: "c", ConnectTimeout: 50 * time.Millisecond}
	if _, err := Dial(context.Background(), &memTransport{stream: stream}, cfg); err == nil {
		t.Fatal("Dial() succeeded without a connack")
	}
}

func TestSubscribeSuback(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	go func() {
		pkt := <-stream.out
		if pkt[0]>>4 != packetSubscribe {
			return
		}
		// Packet identifier sits right after the remaining-length byte.
		id := uint16(pkt[2])<<8 | uint16(pkt[3])
		stream.send(subackBytes(id, 0x00))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Subscribe(ctx, "7C2C67AB5F0E/device/response/state", 0); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
}

func TestSubscribeRejected(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	go func() {
		pkt := <-stream.out
		id := uint16(pkt[2])<<8 | uint16(pkt[3])
		stream.send(subackBytes(id, subackFailure))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Subscribe(ctx, "denied/topic", 0); err == nil {
		t.Fatal("Subscribe() succeeded despite broker rejection")
	}
}

func TestInboundPublishDelivered(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	got := make(chan publishPacket, 1)
	e.OnMessage(func(topic string, payload []byte) {
		got <- publishPacket{topic: topic, payload: payload}
	})

	pkt := encodePublish("7C2C67AB5F0E/device/response/state", []byte{0xAA, 0xBB}, 0, 0)

	// Split across two chunks to exercise reassembly.
	stream.send(pkt[:3])
	stream.send(pkt[3:])

	select {
	case msg := <-got:
		if msg.topic != "7C2C67AB5F0E/device/response/state" {
			t.Errorf("topic = %q", msg.topic)
		}
		if len(msg.payload) != 2 || msg.payload[0] != 0xAA {
			t.Errorf("payload = % X, want AA BB", msg.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInboundQoS1Acknowledged(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	delivered := make(chan struct{}, 1)
	e.OnMessage(func(string, []byte) { delivered <- struct{}{} })

	stream.send(encodePublish("x/device/response/state", []byte{0x01}, 1, 99))

	ack := stream.recvPacket(t)
	if ack[0]>>4 != packetPuback {
		t.Fatalf("packet type = %d, want puback", ack[0]>>4)
	}
	if id := uint16(ack[2])<<8 | uint16(ack[3]); id != 99 {
		t.Errorf("puback id = %d, want 99", id)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("qos 1 message not delivered")
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	if err := e.Publish("fossibot/x/state", []byte("{}"), 0); err != nil {
		t.Fatalf("Publish() while connected error = %v", err)
	}
	stream.recvPacket(t) // drain the publish

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Publish("fossibot/x/state", []byte("{}"), 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after close error = %v, want ErrNotConnected", err)
	}
}

func TestCloseSendsDisconnect(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	disconnected := make(chan error, 1)
	e.OnDisconnect(func(err error) { disconnected <- err })

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pkt := stream.recvPacket(t)
	if pkt[0] != 0xE0 || pkt[1] != 0x00 {
		t.Errorf("final packet = % X, want E0 00", pkt)
	}

	// A local close must not fire the disconnect callback.
	select {
	case err := <-disconnected:
		t.Errorf("disconnect callback fired on local close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestKeepAlivePing(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{KeepAlive: 200 * time.Millisecond})

	// Idle for keep-alive/2 triggers a PINGREQ.
	pkt := stream.recvPacket(t)
	if pkt[0]>>4 != packetPingreq {
		t.Fatalf("packet type = %d, want pingreq", pkt[0]>>4)
	}

	stream.send(pingrespPacket)

	// A healthy ping exchange keeps the session alive.
	time.Sleep(100 * time.Millisecond)
	if !e.IsConnected() {
		t.Error("session ended despite pingresp")
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{KeepAlive: 100 * time.Millisecond})

	disconnected := make(chan error, 1)
	e.OnDisconnect(func(err error) { disconnected <- err })

	// Swallow the PINGREQ and never answer.
	stream.recvPacket(t)

	select {
	case err := <-disconnected:
		if !errors.Is(err, ErrKeepAliveTimeout) {
			t.Errorf("disconnect reason = %v, want ErrKeepAliveTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not time out")
	}
	if e.IsConnected() {
		t.Error("IsConnected() = true after keep-alive timeout")
	}
}

func TestMalformedLengthFailsSession(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	disconnected := make(chan error, 1)
	e.OnDisconnect(func(err error) { disconnected <- err })

	// Five continuation bytes in the remaining-length field.
	stream.send([]byte{packetPublish << 4, 0x80, 0x80, 0x80, 0x80, 0x01})

	select {
	case err := <-disconnected:
		if !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("disconnect reason = %v, want ErrMalformedPacket", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not fail on malformed length")
	}
}

func TestTransportLossFailsSession(t *testing.T) {
	stream := newMemStream()
	e := dialTestEngine(t, stream, Config{})

	disconnected := make(chan error, 1)
	e.OnDisconnect(func(err error) { disconnected <- err })

	wantErr := errors.New("connection reset")
	stream.terminate(wantErr)

	select {
	case err := <-disconnected:
		if !errors.Is(err, wantErr) {
			t.Errorf("disconnect reason = %v, want %v", err, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not observe transport loss")
	}
}

func TestPacketIDWrap(t *testing.T) {
	e := &Engine{}
	e.nextID = 65534

	if id := e.allocatePacketID(); id != 65535 {
		t.Errorf("allocatePacketID() = %d, want 65535", id)
	}
	// Zero is skipped on wrap.
	if id := e.allocatePacketID(); id != 1 {
		t.Errorf("allocatePacketID() after wrap = %d, want 1", id)
	}
}
