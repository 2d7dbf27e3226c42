package cloud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloud/mqtt"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloud/transport"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
)

// Broker coordinates and reconnect tuning.
const (
	// DefaultBrokerURL is the vendor's MQTT-over-WebSocket endpoint.
	DefaultBrokerURL = "ws://mqtt.sydpower.com:8083/mqtt"

	// mqttPassword is the fixed session password; the JWT in the
	// username carries the actual authorisation.
	mqttPassword = "helloyou"

	// maxReconnectAttempts is the retry budget before the client gives
	// up and surfaces a terminal error.
	maxReconnectAttempts = 10

	// subscribeTimeout bounds each per-device SUBACK wait.
	subscribeTimeout = 10 * time.Second
)

// reconnectBackoff is the delay schedule between retry attempts; the
// last entry repeats for the remaining budget.
var reconnectBackoff = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	45 * time.Second,
	60 * time.Second,
}

// Logger is the logging interface shared by the cloud client and API.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds the per-account client parameters.
type Config struct {
	// Email and Password are the vendor account credentials.
	Email    string
	Password string

	// Endpoint overrides the HTTP gateway (tests). Empty selects
	// production.
	Endpoint string

	// BrokerURL overrides the WebSocket broker endpoint. Empty selects
	// production.
	BrokerURL string

	// BrokerAddr is the host:port for the TCP transport; only used when
	// UseTCP is set.
	BrokerAddr string

	// UseTCP selects the plain TCP transport instead of WebSocket.
	UseTCP bool

	// KeepAlive overrides the MQTT keep-alive (tests). Zero selects the
	// engine default.
	KeepAlive time.Duration
}

// Events are the callbacks a Client emits. All of them are optional and
// run on the client's internal goroutines; they must not block.
type Events struct {
	// OnConnect fires after a session is established and every device
	// subscription is in place, including after a reconnect.
	OnConnect func()

	// OnMessage delivers every inbound PUBLISH verbatim.
	OnMessage func(topic string, payload []byte)

	// OnDisconnect fires when the session drops unexpectedly.
	OnDisconnect func(err error)

	// OnReconnect fires before each reconnect attempt.
	OnReconnect func(attempt int)

	// OnError delivers the terminal error once the retry budget is
	// spent. The client has stopped by the time it fires.
	OnError func(err error)
}

// Client supervises one account's cloud presence: authentication,
// device discovery, the MQTT session, and reconnection.
//
// Session loss escalates through three tiers: a warm reconnect reusing
// cached tokens, a full re-authentication when the tokens are stale or
// rejected (CONNACK code 5), and a bounded backoff schedule around
// either. After maxReconnectAttempts failures the client emits a
// terminal error and stops.
type Client struct {
	cfg     Config
	api     *API
	devices *cache.DeviceCache
	events  Events

	// newTransport builds the session transport; swappable in tests.
	newTransport func() transport.Transport

	// backoff is the retry delay schedule; shortened in tests.
	backoff []time.Duration

	mu         sync.RWMutex
	engine     *mqtt.Engine
	deviceList []device.Device

	running          atomic.Bool
	reconnectPending atomic.Bool

	clientSuffix string

	logger   Logger
	loggerMu sync.RWMutex

	// done cancels in-flight reconnect waits on shutdown.
	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient creates a client for one account. The token and device
// caches are shared across accounts; the client only references them.
func NewClient(cfg Config, tokens *cache.TokenCache, devices *cache.DeviceCache, events Events) *Client {
	c := &Client{
		cfg:          cfg,
		api:          NewAPI(cfg.Endpoint, cfg.Email, cfg.Password, tokens),
		devices:      devices,
		events:       events,
		backoff:      reconnectBackoff,
		clientSuffix: uuid.NewString()[:8],
		done:         make(chan struct{}),
	}
	c.newTransport = c.defaultTransport
	return c
}

// defaultTransport selects WebSocket unless the account is configured
// for plain TCP.
func (c *Client) defaultTransport() transport.Transport {
	if c.cfg.UseTCP {
		return &transport.TCP{Address: c.cfg.BrokerAddr}
	}
	url := c.cfg.BrokerURL
	if url == "" {
		url = DefaultBrokerURL
	}
	return &transport.WebSocket{URL: url}
}

// SetLogger sets the logger for the client and its API.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.api.SetLogger(logger)
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.log(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.log(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if l := c.log(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}

// clientID derives the session identifier: stable per account, unique
// per process.
func (c *Client) clientID() string {
	return fmt.Sprintf("fossibot_%s_%s", c.api.deviceID()[:8], c.clientSuffix)
}

// Connect authenticates, discovers devices, and opens the MQTT session.
// Must be called once before any other operation.
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.api.MQTTToken(ctx)
	if err != nil {
		return err
	}

	devices, err := c.discoverDevices(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.deviceList = devices
	c.mu.Unlock()

	if err := c.openSession(ctx, token); err != nil {
		return err
	}

	c.running.Store(true)
	c.logInfo("cloud client connected",
		"email", c.cfg.Email,
		"devices", len(devices),
	)
	if c.events.OnConnect != nil {
		c.events.OnConnect()
	}

	// A session drop before running was set is ignored by the
	// disconnect handler; recover it here.
	if !c.IsConnected() {
		c.scheduleReconnect()
	}
	return nil
}

// discoverDevices consults the device cache and falls back to the API.
func (c *Client) discoverDevices(ctx context.Context) ([]device.Device, error) {
	if devices, ok := c.devices.Get(c.cfg.Email); ok {
		c.logInfo("device list from cache", "devices", len(devices))
		return devices, nil
	}

	devices, err := c.api.Devices(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.devices.Put(c.cfg.Email, devices); err != nil {
		c.logWarn("device cache write failed", "error", err)
	}
	c.logInfo("device list discovered", "devices", len(devices))
	return devices, nil
}

// RefreshDeviceList invalidates the cached list and re-discovers.
func (c *Client) RefreshDeviceList(ctx context.Context) error {
	if err := c.devices.Invalidate(c.cfg.Email); err != nil {
		return err
	}
	devices, err := c.discoverDevices(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.deviceList = devices
	c.mu.Unlock()
	return nil
}

// Devices returns the current device list.
func (c *Client) Devices() []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]device.Device, len(c.deviceList))
	copy(out, c.deviceList)
	return out
}

// openSession dials the engine and installs the per-device subscriptions.
func (c *Client) openSession(ctx context.Context, token string) error {
	engine, err := mqtt.Dial(ctx, c.newTransport(), mqtt.Config{
		ClientID:     c.clientID(),
		Username:     token,
		Password:     mqttPassword,
		CleanSession: true,
		KeepAlive:    c.cfg.KeepAlive,
	})
	if err != nil {
		return err
	}

	engine.OnMessage(func(topic string, payload []byte) {
		if c.events.OnMessage != nil {
			c.events.OnMessage(topic, payload)
		}
	})
	engine.OnDisconnect(c.handleEngineDisconnect)

	for _, dev := range c.devicesSnapshot() {
		for _, topic := range deviceTopics(dev.MAC) {
			subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
			err := engine.Subscribe(subCtx, topic, 0)
			cancel()
			if err != nil {
				engine.Close()
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
		}
	}

	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
	return nil
}

// deviceTopics lists the response topics one device publishes on.
func deviceTopics(mac string) []string {
	return []string{
		mac + "/device/response/client/+",
		mac + "/device/response/state",
	}
}

func (c *Client) devicesSnapshot() []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceList
}

// Publish sends a payload on the cloud session.
func (c *Client) Publish(topic string, payload []byte, qos byte) error {
	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()

	if engine == nil || !engine.IsConnected() {
		return ErrNotConnected
	}
	if err := engine.Publish(topic, payload, qos); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return ErrNotConnected
		}
		return err
	}
	return nil
}

// IsConnected reports whether the MQTT session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine != nil && c.engine.IsConnected()
}

// handleEngineDisconnect reacts to an unexpected session end. Multiple
// disconnect signals while a reconnect is in flight are coalesced.
func (c *Client) handleEngineDisconnect(err error) {
	if !c.running.Load() {
		return
	}

	c.logWarn("cloud session lost", "error", err)
	if c.events.OnDisconnect != nil {
		c.events.OnDisconnect(err)
	}

	c.scheduleReconnect()
}

// scheduleReconnect starts a reconnect loop unless one is already in
// flight. A lost race is safe: the in-flight marker is only cleared by
// finishReconnect, which re-examines session liveness.
func (c *Client) scheduleReconnect() {
	if !c.reconnectPending.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnectLoop(false)
		c.finishReconnect()
	}()
}

// finishReconnect clears the in-flight marker and re-checks session
// liveness. A disconnect of the freshly established session can arrive
// while the loop is still unwinding; its schedule request is coalesced
// into a run that no longer acts on it, so the dead session must be
// picked up here or the client stays down for good.
func (c *Client) finishReconnect() {
	c.reconnectPending.Store(false)
	if c.running.Load() && !c.IsConnected() {
		c.scheduleReconnect()
	}
}

// tokensValid reports whether both the login token and the MQTT token
// are still usable, which is the precondition for a warm reconnect.
func (c *Client) tokensValid() bool {
	_, loginOK := c.api.tokens.Get(c.cfg.Email, cache.StageLogin)
	_, mqttOK := c.api.tokens.Get(c.cfg.Email, cache.StageMQTT)
	return loginOK && mqttOK
}

// reconnectLoop runs the tiered reconnect strategy until success,
// shutdown, or an exhausted retry budget.
func (c *Client) reconnectLoop(forceReauth bool) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := c.backoffDelay(attempt)
		c.logInfo("reconnect scheduled",
			"attempt", attempt,
			"delay", delay.String(),
			"full_reauth", forceReauth,
		)
		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		if !c.running.Load() {
			return
		}
		if c.events.OnReconnect != nil {
			c.events.OnReconnect(attempt)
		}

		err := c.reconnectOnce(forceReauth)
		if err == nil {
			c.logInfo("reconnected", "attempt", attempt)
			if c.events.OnConnect != nil {
				c.events.OnConnect()
			}
			return
		}
		if !c.running.Load() {
			return
		}

		// A rejected session means the token set is dead; every further
		// attempt goes through full re-authentication.
		var connErr *mqtt.ConnectError
		if errors.As(err, &connErr) && connErr.IsAuthFailure() {
			c.logWarn("session not authorised, escalating to full re-authentication")
			forceReauth = true
		}
		c.logError("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	c.running.Store(false)
	c.logError("reconnect budget exhausted", "attempts", maxReconnectAttempts)
	if c.events.OnError != nil {
		c.events.OnError(ErrReconnectExhausted)
	}
}

// backoffDelay returns the wait before the given attempt, capping at
// the schedule's last entry.
func (c *Client) backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}
	return c.backoff[idx]
}

// reconnectOnce performs a single warm or full reconnect attempt.
func (c *Client) reconnectOnce(forceReauth bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c.closeEngine()

	if forceReauth || !c.tokensValid() {
		// Tokens are gone or rejected; the device cache stays, an
		// authorisation failure is not a device-list change.
		if err := c.api.InvalidateTokens(); err != nil {
			return fmt.Errorf("invalidate tokens: %w", err)
		}
	}

	token, err := c.api.MQTTToken(ctx)
	if err != nil {
		return err
	}

	if forceReauth {
		devices, err := c.discoverDevices(ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.deviceList = devices
		c.mu.Unlock()
	}

	return c.openSession(ctx, token)
}

// closeEngine tears down the current session, if any.
func (c *Client) closeEngine() {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()

	if engine != nil {
		engine.Close()
	}
}

// Disconnect shuts the client down: the session is closed with a clean
// DISCONNECT and automatic reconnection stops. Idempotent.
func (c *Client) Disconnect() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.done)
	c.closeEngine()
	c.wg.Wait()
	c.logInfo("cloud client disconnected", "email", c.cfg.Email)
}
