package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloud/transport"
)

// Defaults for session tuning.
const (
	// defaultKeepAlive matches the interval the vendor broker expects.
	defaultKeepAlive = 30 * time.Second

	// defaultConnectTimeout bounds the wait for CONNACK after the
	// transport is up.
	defaultConnectTimeout = 10 * time.Second

	// minKeepAliveCheck is the floor for the keep-alive poll interval,
	// so short keep-alives in tests do not spin a tight loop.
	minKeepAliveCheck = 10 * time.Millisecond
)

// State is the session lifecycle position.
type State int32

// Session states, in the order a healthy connection passes through them.
const (
	StateInit State = iota
	StateDialing
	StateSentConnect
	StateConnected
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDialing:
		return "dialing"
	case StateSentConnect:
		return "sent_connect"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Logger is the optional logging interface for the engine.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds the CONNECT parameters for one session.
type Config struct {
	// ClientID is the caller-supplied client identifier.
	ClientID string

	// Username and Password are sent when non-empty.
	Username string
	Password string

	// CleanSession sets the CONNECT clean-session flag.
	CleanSession bool

	// KeepAlive is the negotiated keep-alive interval. Default 30 s.
	KeepAlive time.Duration

	// ConnectTimeout bounds the CONNACK wait. Default 10 s.
	ConnectTimeout time.Duration
}

// Engine is a single MQTT session over one Stream.
//
// An Engine is single-use: Dial creates it connected, and the first
// transport failure, framing error, or Close ends it permanently.
// All methods are safe for concurrent use.
type Engine struct {
	cfg    Config
	stream transport.Stream

	state atomic.Int32

	// writeMu serialises outbound packets on the stream.
	writeMu   sync.Mutex
	lastWrite atomic.Int64 // unix nanoseconds

	// Keep-alive bookkeeping.
	pingOutstanding atomic.Bool
	pingSentAt      atomic.Int64 // unix nanoseconds

	// Packet identifiers wrap 1..65535, never 0.
	idMu   sync.Mutex
	nextID uint16

	// Pending subscriptions keyed by packet identifier. Each entry is
	// resolved with the granted QoS (or subackFailure) on SUBACK.
	pendingMu   sync.Mutex
	pendingSubs map[uint16]chan byte

	// Callbacks.
	callbackMu   sync.RWMutex
	onMessage    func(topic string, payload []byte)
	onDisconnect func(err error)

	logger   Logger
	loggerMu sync.RWMutex

	// Shutdown coordination.
	done     chan struct{}
	downOnce sync.Once
	wg       sync.WaitGroup

	// Inbound accumulation buffer, owned by the read loop.
	buf []byte
}

// Dial connects the transport, performs the CONNECT/CONNACK handshake,
// and returns a running engine.
//
// A CONNACK refusal is returned as *ConnectError with the broker's
// return code; code 5 means the credentials were rejected.
//
// Parameters:
//   - ctx: bounds the transport dial and handshake
//   - tr: transport to connect through
//   - cfg: session parameters
//
// Returns:
//   - *Engine: connected session ready for Subscribe/Publish
//   - error: dial, handshake, or refusal failure
func Dial(ctx context.Context, tr transport.Transport, cfg Config) (*Engine, error) {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	e := &Engine{
		cfg:         cfg,
		pendingSubs: make(map[uint16]chan byte),
		done:        make(chan struct{}),
	}
	e.state.Store(int32(StateDialing))

	stream, err := tr.Connect(ctx)
	if err != nil {
		e.state.Store(int32(StateFailed))
		return nil, err
	}
	e.stream = stream

	connect := encodeConnect(connectOptions{
		clientID:     cfg.ClientID,
		username:     cfg.Username,
		password:     cfg.Password,
		cleanSession: cfg.CleanSession,
		keepAliveSec: uint16(cfg.KeepAlive / time.Second),
	})
	if err := stream.Write(connect); err != nil {
		stream.Close()
		e.state.Store(int32(StateFailed))
		return nil, fmt.Errorf("send connect: %w", err)
	}
	e.lastWrite.Store(time.Now().UnixNano())
	e.state.Store(int32(StateSentConnect))

	if err := e.awaitConnack(ctx); err != nil {
		stream.Close()
		e.state.Store(int32(StateFailed))
		return nil, err
	}

	e.state.Store(int32(StateConnected))

	e.wg.Add(2)
	go e.readLoop()
	go e.keepAliveLoop()

	return e, nil
}

// awaitConnack reads packets until CONNACK arrives or the handshake
// times out. Any other packet before CONNACK is a protocol violation.
func (e *Engine) awaitConnack(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.ConnectTimeout)
	defer timer.Stop()

	for {
		header, body, ok, err := e.nextPacket()
		if err != nil {
			return err
		}
		if ok {
			if header>>4 != packetConnack {
				return fmt.Errorf("%w: expected connack, got type %d", ErrMalformedPacket, header>>4)
			}
			_, code, err := decodeConnack(body)
			if err != nil {
				return err
			}
			if code != ConnAccepted {
				return &ConnectError{Code: code}
			}
			return nil
		}

		select {
		case chunk, open := <-e.stream.Data():
			if !open {
				return fmt.Errorf("connection closed before connack: %w", e.stream.Err())
			}
			e.buf = append(e.buf, chunk...)
		case <-timer.C:
			return fmt.Errorf("%w: timeout waiting for connack", ErrNotConnected)
		case <-ctx.Done():
			return fmt.Errorf("connect cancelled: %w", ctx.Err())
		}
	}
}

// nextPacket slices one complete control packet off the accumulation
// buffer. ok is false when more bytes are needed.
func (e *Engine) nextPacket() (header byte, body []byte, ok bool, err error) {
	if len(e.buf) < 2 {
		return 0, nil, false, nil
	}

	length, consumed, err := decodeRemainingLength(e.buf[1:])
	if err != nil {
		return 0, nil, false, err
	}
	if consumed == 0 {
		return 0, nil, false, nil // length field incomplete
	}
	if length > maxRemainingLength {
		return 0, nil, false, fmt.Errorf("%w: remaining length %d", ErrMalformedPacket, length)
	}

	total := 1 + consumed + length
	if len(e.buf) < total {
		return 0, nil, false, nil
	}

	header = e.buf[0]
	body = make([]byte, length)
	copy(body, e.buf[1+consumed:total])
	e.buf = e.buf[total:]
	return header, body, true, nil
}

// readLoop frames and dispatches inbound packets until the stream ends.
func (e *Engine) readLoop() {
	defer e.wg.Done()

	for {
		// Drain every complete packet before blocking for more bytes.
		for {
			header, body, ok, err := e.nextPacket()
			if err != nil {
				e.fail(err)
				return
			}
			if !ok {
				break
			}
			if err := e.dispatch(header, body); err != nil {
				e.fail(err)
				return
			}
		}

		select {
		case chunk, open := <-e.stream.Data():
			if !open {
				if e.isClosed() {
					return
				}
				err := e.stream.Err()
				if err == nil {
					err = ErrSessionClosed
				}
				e.fail(err)
				return
			}
			e.buf = append(e.buf, chunk...)
		case <-e.done:
			return
		}
	}
}

// dispatch handles one inbound packet. An unexpected packet type is
// fatal: the stream is either corrupt or the peer is not a broker.
func (e *Engine) dispatch(header byte, body []byte) error {
	switch header >> 4 {
	case packetPublish:
		return e.handlePublish(header&0x0F, body)

	case packetSuback:
		packetID, codes, err := decodeSuback(body)
		if err != nil {
			return err
		}
		e.resolveSubscription(packetID, codes[0])
		return nil

	case packetPuback:
		// Outbound QoS 1 is fire-and-forget; the ack needs no correlation.
		return nil

	case packetPingresp:
		e.pingOutstanding.Store(false)
		e.logDebug("pingresp received")
		return nil

	default:
		return fmt.Errorf("%w: unexpected packet type %d", ErrMalformedPacket, header>>4)
	}
}

// handlePublish decodes an inbound PUBLISH, acknowledges QoS 1, and
// forwards topic and payload verbatim to the message callback.
func (e *Engine) handlePublish(flags byte, body []byte) error {
	pub, err := decodePublish(flags, body)
	if err != nil {
		return err
	}

	if pub.qos == 1 {
		if err := e.write(encodePuback(pub.packetID)); err != nil {
			return err
		}
	}

	e.callbackMu.RLock()
	callback := e.onMessage
	e.callbackMu.RUnlock()

	if callback != nil {
		callback(pub.topic, pub.payload)
	}
	return nil
}

// resolveSubscription completes a pending Subscribe call. An unmatched
// SUBACK is logged and dropped.
func (e *Engine) resolveSubscription(packetID uint16, code byte) {
	e.pendingMu.Lock()
	ch, ok := e.pendingSubs[packetID]
	if ok {
		delete(e.pendingSubs, packetID)
	}
	e.pendingMu.Unlock()

	if !ok {
		e.logWarn("unmatched suback dropped", "packet_id", packetID)
		return
	}
	ch <- code
}

// keepAliveLoop emits PINGREQ when the connection has been idle for half
// the keep-alive interval and treats a missing PINGRESP as disconnect.
func (e *Engine) keepAliveLoop() {
	defer e.wg.Done()

	check := e.cfg.KeepAlive / 8
	if check < minKeepAliveCheck {
		check = minKeepAliveCheck
	}
	ticker := time.NewTicker(check)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		now := time.Now()

		if e.pingOutstanding.Load() {
			sent := time.Unix(0, e.pingSentAt.Load())
			if now.Sub(sent) >= e.cfg.KeepAlive {
				e.fail(ErrKeepAliveTimeout)
				return
			}
			continue
		}

		idle := now.Sub(time.Unix(0, e.lastWrite.Load()))
		if idle >= e.cfg.KeepAlive/2 {
			e.pingSentAt.Store(now.UnixNano())
			e.pingOutstanding.Store(true)
			if err := e.write(pingreqPacket); err != nil {
				e.fail(err)
				return
			}
			e.logDebug("pingreq sent", "idle", idle.String())
		}
	}
}

// allocatePacketID returns the next identifier, wrapping 1..65535.
func (e *Engine) allocatePacketID() uint16 {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	e.nextID++
	if e.nextID == 0 {
		e.nextID = 1
	}
	return e.nextID
}

// Subscribe sends a SUBSCRIBE for one topic filter and waits for the
// matching SUBACK.
//
// Parameters:
//   - ctx: bounds the SUBACK wait
//   - topic: topic filter
//   - qos: requested maximum QoS (0 or 1)
//
// Returns:
//   - error: ErrNotConnected, a broker rejection, or a timeout
func (e *Engine) Subscribe(ctx context.Context, topic string, qos byte) error {
	if e.State() != StateConnected {
		return ErrNotConnected
	}

	packetID := e.allocatePacketID()
	ack := make(chan byte, 1)

	e.pendingMu.Lock()
	e.pendingSubs[packetID] = ack
	e.pendingMu.Unlock()

	if err := e.write(encodeSubscribe(packetID, topic, qos)); err != nil {
		e.dropPending(packetID)
		return err
	}

	select {
	case code, ok := <-ack:
		if !ok {
			// Session ended while the SUBACK was pending.
			return ErrSessionClosed
		}
		if code == subackFailure {
			return fmt.Errorf("subscribe %s: rejected by broker", topic)
		}
		e.logDebug("subscribed", "topic", topic, "granted_qos", code)
		return nil
	case <-ctx.Done():
		e.dropPending(packetID)
		return fmt.Errorf("subscribe %s: %w", topic, ctx.Err())
	case <-e.done:
		e.dropPending(packetID)
		return ErrSessionClosed
	}
}

// dropPending abandons a pending subscription after a local failure.
func (e *Engine) dropPending(packetID uint16) {
	e.pendingMu.Lock()
	delete(e.pendingSubs, packetID)
	e.pendingMu.Unlock()
}

// Publish sends a PUBLISH at QoS 0 or 1. QoS 1 is fire-and-forget: the
// packet carries an identifier but delivery is not awaited.
//
// Parameters:
//   - topic: destination topic
//   - payload: opaque bytes
//   - qos: 0 or 1
//
// Returns:
//   - error: ErrNotConnected when the session is down, or a write failure
func (e *Engine) Publish(topic string, payload []byte, qos byte) error {
	if e.State() != StateConnected {
		return ErrNotConnected
	}

	var packetID uint16
	if qos > 0 {
		packetID = e.allocatePacketID()
	}
	return e.write(encodePublish(topic, payload, qos, packetID))
}

// write sends one packet on the stream, serialised against concurrent
// writers, and refreshes the keep-alive idle clock.
func (e *Engine) write(pkt []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.stream.Write(pkt); err != nil {
		return fmt.Errorf("stream write: %w", err)
	}
	e.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// fail ends the session and notifies the disconnect callback exactly once.
func (e *Engine) fail(err error) {
	e.downOnce.Do(func() {
		e.state.Store(int32(StateDisconnected))
		close(e.done)
		e.stream.Close()
		e.failPending()

		e.logInfo("session ended", "reason", err)

		e.callbackMu.RLock()
		callback := e.onDisconnect
		e.callbackMu.RUnlock()
		if callback != nil {
			callback(err)
		}
	})
}

// failPending unblocks every Subscribe waiting for a SUBACK.
func (e *Engine) failPending() {
	e.pendingMu.Lock()
	for id, ch := range e.pendingSubs {
		delete(e.pendingSubs, id)
		close(ch)
	}
	e.pendingMu.Unlock()
}

// Close shuts the session down gracefully: DISCONNECT is sent on a
// best-effort basis, the transport is torn down, and the disconnect
// callback is NOT invoked (the caller initiated this).
func (e *Engine) Close() error {
	e.downOnce.Do(func() {
		e.state.Store(int32(StateDisconnected))

		// Best-effort DISCONNECT before the stream drops.
		e.writeMu.Lock()
		_ = e.stream.Write(disconnectPacket) //nolint:errcheck // session is ending either way
		e.writeMu.Unlock()

		close(e.done)
		e.stream.Close()
		e.failPending()
	})

	e.wg.Wait()
	return nil
}

// isClosed reports whether the session has ended.
func (e *Engine) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// State returns the current session state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsConnected reports whether the session is in the connected state.
func (e *Engine) IsConnected() bool {
	return e.State() == StateConnected
}

// OnMessage sets the callback for inbound PUBLISH packets. The callback
// runs on the read loop goroutine; it must not block.
func (e *Engine) OnMessage(callback func(topic string, payload []byte)) {
	e.callbackMu.Lock()
	e.onMessage = callback
	e.callbackMu.Unlock()
}

// OnDisconnect sets the callback invoked when the session ends for any
// reason other than a local Close.
func (e *Engine) OnDisconnect(callback func(err error)) {
	e.callbackMu.Lock()
	e.onDisconnect = callback
	e.callbackMu.Unlock()
}

// SetLogger sets the logger for this engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
