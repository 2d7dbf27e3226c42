package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cache"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/cloud"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/command"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/health"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/logging"
	localmqtt "github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/mqtt"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/modbus"
	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/state"
)

// Scheduling and correlation windows.
const (
	// commandEchoWindow is how long after a command a frame on the
	// .../client/04 topic is attributed to that command.
	commandEchoWindow = 3 * time.Second

	// settingsReadDelay is the pause between a settings write and the
	// follow-up holding-register read that picks up the applied value.
	settingsReadDelay = 2 * time.Second

	// stateLogInterval throttles per-device info-level state logs.
	stateLogInterval = 5 * time.Second

	// statsLogInterval is the cadence of the spontaneous-update counter
	// log line.
	statsLogInterval = 60 * time.Second

	// refreshTimeout bounds one periodic device re-discovery round trip.
	refreshTimeout = 30 * time.Second

	// cloudTCPAddr is the vendor broker's plain-MQTT endpoint, used by
	// accounts configured with cloud_transport "tcp".
	cloudTCPAddr = "mqtt.sydpower.com:1883"
)

// cloudSession is the slice of the cloud client the bridge drives.
// Satisfied by *cloud.Client; swappable in tests.
type cloudSession interface {
	Connect(ctx context.Context) error
	Devices() []device.Device
	RefreshDeviceList(ctx context.Context) error
	Publish(topic string, payload []byte, qos byte) error
	IsConnected() bool
	Disconnect()
}

// localBroker is the slice of the local MQTT client the bridge uses.
// Satisfied by *localmqtt.Client; swappable in tests.
type localBroker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler localmqtt.MessageHandler) error
	SetOnConnect(callback func())
	IsConnected() bool
	Close() error
}

// account pairs one configured cloud account with its live session.
type account struct {
	cfg       config.AccountConfig
	session   cloudSession
	connected atomic.Bool
}

// throttleEntry tracks per-device info-log suppression.
type throttleEntry struct {
	last       time.Time
	suppressed int
}

// Bridge is the daemon core: it supervises one cloud session per
// enabled account, one connection to the local broker, and moves
// register frames and commands between them.
type Bridge struct {
	cfg    *config.Config
	logger *logging.Logger

	tokens      *cache.TokenCache
	deviceCache *cache.DeviceCache
	store       *state.Store

	// newSession and connectLocal build the two sides of the bridge;
	// swappable in tests.
	newSession   func(acct config.AccountConfig, events cloud.Events) cloudSession
	connectLocal func(will *localmqtt.Will) (localBroker, error)

	accounts []*account
	local    localBroker
	health   *health.Server

	// owners maps a device MAC to the account whose session reaches it.
	ownersMu sync.RWMutex
	owners   map[string]*account

	// lastCommand records the most recent command publish per MAC, used
	// to attribute response frames to commands.
	lastCommandMu sync.Mutex
	lastCommand   map[string]time.Time

	throttleMu sync.Mutex
	throttle   map[string]*throttleEntry

	// spontaneous counts state updates nobody asked for since the last
	// stats log line.
	spontaneous atomic.Int64

	started   time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge from validated configuration. Nothing connects
// until Start is called.
//
// Parameters:
//   - cfg: Validated configuration
//   - logger: Structured logger
//
// Returns:
//   - *Bridge: Bridge ready to start
func New(cfg *config.Config, logger *logging.Logger) *Bridge {
	b := &Bridge{
		cfg:         cfg,
		logger:      logger,
		tokens:      cache.NewTokenCache(cfg.Cache.Directory, cfg.TokenSafetyMargin()),
		deviceCache: cache.NewDeviceCache(cfg.Cache.Directory, cfg.DeviceListTTL()),
		store:       state.NewStore(),
		owners:      make(map[string]*account),
		lastCommand: make(map[string]time.Time),
		throttle:    make(map[string]*throttleEntry),
		started:     time.Now(),
		done:        make(chan struct{}),
	}
	b.newSession = b.defaultSession
	b.connectLocal = b.defaultLocal
	return b
}

// defaultSession builds a production cloud client for one account.
func (b *Bridge) defaultSession(acct config.AccountConfig, events cloud.Events) cloudSession {
	c := cloud.NewClient(cloud.Config{
		Email:      acct.Email,
		Password:   acct.Password,
		UseTCP:     acct.CloudTransport == "tcp",
		BrokerAddr: cloudTCPAddr,
	}, b.tokens, b.deviceCache, events)
	c.SetLogger(b.logger.With("component", "cloud", "account", acct.Email))
	return c
}

// defaultLocal connects the production local-broker client.
func (b *Bridge) defaultLocal(will *localmqtt.Will) (localBroker, error) {
	client, err := localmqtt.Connect(b.cfg.Mosquitto, b.cfg.Bridge, will)
	if err != nil {
		return nil, err
	}
	client.SetLogger(b.logger.With("component", "mosquitto"))
	return client, nil
}

// Start brings the bridge up: every enabled account's cloud session,
// the local broker connection, the command subscription, initial device
// reads and availability markers, and the periodic timers.
//
// All cloud sessions must connect; a single failure tears down the ones
// already up and aborts startup.
//
// Parameters:
//   - ctx: Bounds the connection phase
//
// Returns:
//   - error: If any cloud session or the local broker fails to connect
func (b *Bridge) Start(ctx context.Context) error {
	for _, acctCfg := range b.cfg.EnabledAccounts() {
		acct := &account{cfg: acctCfg}
		acct.session = b.newSession(acctCfg, b.accountEvents(acct))
		b.accounts = append(b.accounts, acct)
	}

	for _, acct := range b.accounts {
		if err := acct.session.Connect(ctx); err != nil {
			b.disconnectAccounts()
			return fmt.Errorf("connecting account %s: %w", acct.cfg.Email, err)
		}
	}

	local, err := b.connectLocal(&localmqtt.Will{
		Topic:    StatusTopic,
		Payload:  "offline",
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		b.disconnectAccounts()
		return fmt.Errorf("connecting local broker: %w", err)
	}
	b.local = local

	if err := b.local.Subscribe(CommandFilter, 1, b.handleLocalCommand); err != nil {
		b.Close()
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	// The LWT replaced the status with "offline" while the broker was
	// unreachable; a reconnect restores the retained documents.
	b.local.SetOnConnect(func() {
		b.logger.Info("local broker reconnected, republishing retained topics")
		b.publishStatus()
		for _, acct := range b.accounts {
			for _, dev := range acct.session.Devices() {
				b.publishAvailability(dev)
			}
		}
	})

	b.rebuildOwners()
	for _, acct := range b.accounts {
		for _, dev := range acct.session.Devices() {
			b.publishAvailability(dev)
			if dev.Online {
				b.sendSettingsRead(acct, dev.MAC)
			}
		}
	}

	b.publishStatus()

	if b.cfg.Health.Enabled {
		b.health = health.New(b.cfg.Health, b.logger.With("component", "health"), b.Snapshot)
		if err := b.health.Start(ctx); err != nil {
			b.Close()
			return fmt.Errorf("starting health server: %w", err)
		}
	}

	b.wg.Add(1)
	go b.runTimers()

	b.logger.Info("bridge started",
		"accounts", len(b.accounts),
		"devices", len(b.macs()),
	)
	return nil
}

// accountEvents wires one account's cloud callbacks into the bridge.
func (b *Bridge) accountEvents(acct *account) cloud.Events {
	return cloud.Events{
		OnConnect: func() {
			acct.connected.Store(true)
			b.rebuildOwners()
		},
		OnMessage: func(topic string, payload []byte) {
			b.handleCloudMessage(topic, payload)
		},
		OnDisconnect: func(err error) {
			acct.connected.Store(false)
			b.logger.Warn("cloud session lost",
				"account", acct.cfg.Email, "error", err)
		},
		OnReconnect: func(attempt int) {
			b.logger.Info("cloud reconnect attempt",
				"account", acct.cfg.Email, "attempt", attempt)
		},
		OnError: func(err error) {
			acct.connected.Store(false)
			b.logger.Error("cloud client stopped",
				"account", acct.cfg.Email, "error", err)
		},
	}
}

// disconnectAccounts tears down every session built so far.
func (b *Bridge) disconnectAccounts() {
	for _, acct := range b.accounts {
		acct.session.Disconnect()
		acct.connected.Store(false)
	}
}

// rebuildOwners reindexes MAC ownership from the current device lists.
func (b *Bridge) rebuildOwners() {
	owners := make(map[string]*account)
	for _, acct := range b.accounts {
		for _, dev := range acct.session.Devices() {
			owners[dev.MAC] = acct
		}
	}
	b.ownersMu.Lock()
	b.owners = owners
	b.ownersMu.Unlock()
}

// owner returns the account whose session reaches the MAC, or nil.
func (b *Bridge) owner(mac string) *account {
	b.ownersMu.RLock()
	defer b.ownersMu.RUnlock()
	return b.owners[mac]
}

// macs lists every device MAC across all accounts.
func (b *Bridge) macs() []string {
	b.ownersMu.RLock()
	defer b.ownersMu.RUnlock()
	out := make([]string, 0, len(b.owners))
	for mac := range b.owners {
		out = append(out, mac)
	}
	return out
}

// handleCloudMessage is the inbound path: a device published a register
// frame on the cloud broker. The frame is decoded, merged into the
// state store, and the new state republished on the local broker.
func (b *Bridge) handleCloudMessage(topic string, payload []byte) {
	mac, ok := ResponseMAC(topic)
	if !ok {
		b.logger.Debug("ignoring cloud message", "topic", topic)
		return
	}

	frame, err := modbus.Decode(payload)
	if err != nil {
		b.logger.Debug("undecodable device frame",
			"mac", mac, "topic", topic, "bytes", len(payload), "error", err)
		return
	}

	if b.cfg.Debug.LogRawRegisters {
		b.logger.Debug("device frame",
			"mac", mac, "frame", frame.String(), "payload", fmt.Sprintf("%x", payload))
	}

	triggered := IsCommandEcho(topic) && b.commandRecent(mac)
	if !triggered {
		b.spontaneous.Add(1)
	}

	st := b.store.UpdateFromFrame(mac, frame, topic, triggered)

	data, err := StateJSON(st)
	if err != nil {
		b.logger.Error("serialising device state", "mac", mac, "error", err)
		return
	}
	if err := b.local.Publish(StateTopic(mac), data, 0, false); err != nil {
		b.logger.Warn("publishing device state", "mac", mac, "error", err)
	}

	b.logStateUpdate(mac, st, triggered)
}

// commandRecent reports whether a command went to the MAC within the
// echo attribution window.
func (b *Bridge) commandRecent(mac string) bool {
	b.lastCommandMu.Lock()
	defer b.lastCommandMu.Unlock()
	t, ok := b.lastCommand[mac]
	return ok && time.Since(t) <= commandEchoWindow
}

// recordCommand notes a command publish for echo attribution.
func (b *Bridge) recordCommand(mac string) {
	b.lastCommandMu.Lock()
	b.lastCommand[mac] = time.Now()
	b.lastCommandMu.Unlock()
}

// logStateUpdate emits the per-device state log line. Info-level output
// is throttled to one line per device per stateLogInterval; suppressed
// updates are counted and reported on the next emission. Debug level is
// never throttled.
func (b *Bridge) logStateUpdate(mac string, st state.DeviceState, triggered bool) {
	args := []any{
		"mac", mac,
		"soc", st.SOC,
		"input_watts", st.InputWatts,
		"output_watts", st.OutputWatts,
		"command_triggered", triggered,
	}
	if b.cfg.Debug.LogUpdateSource {
		args = append(args, "source", st.LastUpdateSource, "kind", st.LastUpdateKind)
	}

	b.throttleMu.Lock()
	entry, ok := b.throttle[mac]
	if !ok {
		entry = &throttleEntry{}
		b.throttle[mac] = entry
	}
	if time.Since(entry.last) < stateLogInterval {
		entry.suppressed++
		b.throttleMu.Unlock()
		b.logger.Debug("device state updated", args...)
		return
	}
	suppressed := entry.suppressed
	entry.suppressed = 0
	entry.last = time.Now()
	b.throttleMu.Unlock()

	if suppressed > 0 {
		args = append(args, "suppressed", suppressed)
	}
	b.logger.Info("device state updated", args...)
}

// handleLocalCommand is the outbound path: a consumer published a JSON
// command on fossibot/<MAC>/command. The command is validated, encoded,
// and forwarded to the owning account's cloud session.
func (b *Bridge) handleLocalCommand(topic string, payload []byte) error {
	mac, ok := CommandMAC(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	cmd, err := ParseCommand(payload)
	if err != nil {
		return fmt.Errorf("command on %s: %w", topic, err)
	}

	acct := b.owner(mac)
	if acct == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}

	data, err := cmd.Bytes()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", cmd.Description, err)
	}
	if err := acct.session.Publish(CloudCommandTopic(mac), data, 1); err != nil {
		return fmt.Errorf("forwarding %s: %w", cmd.Description, err)
	}
	b.recordCommand(mac)

	b.logger.Info("command forwarded",
		"mac", mac,
		"command", cmd.Description,
		"class", cmd.Class.String(),
	)

	// Settings writes only surface in the holding bank; read it back
	// once the device has applied the value.
	if cmd.WritesSettingsRegister() {
		b.scheduleSettingsRead(acct, mac)
	}
	return nil
}

// scheduleSettingsRead queues a delayed holding-register read after a
// settings write.
func (b *Bridge) scheduleSettingsRead(acct *account, mac string) {
	time.AfterFunc(settingsReadDelay, func() {
		select {
		case <-b.done:
			return
		default:
		}
		b.sendSettingsRead(acct, mac)
	})
}

// sendSettingsRead publishes a full holding-register read request.
func (b *Bridge) sendSettingsRead(acct *account, mac string) {
	cmd := command.NewReadSettings()
	data, err := cmd.Bytes()
	if err != nil {
		b.logger.Error("encoding settings read", "mac", mac, "error", err)
		return
	}
	if err := acct.session.Publish(CloudCommandTopic(mac), data, 1); err != nil {
		b.logger.Warn("requesting settings read", "mac", mac, "error", err)
		return
	}
	b.recordCommand(mac)
}

// publishAvailability publishes a device's retained online/offline
// marker.
func (b *Bridge) publishAvailability(dev device.Device) {
	payload := "offline"
	if dev.Online {
		payload = "online"
	}
	if err := b.local.Publish(AvailabilityTopic(dev.MAC), []byte(payload), 1, true); err != nil {
		b.logger.Warn("publishing availability", "mac", dev.MAC, "error", err)
	}
}

// statusPayload is the JSON document published on the status topic.
type statusPayload struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	Accounts  health.AccountStats `json:"accounts"`
	Devices   health.DeviceStats  `json:"devices"`
	Timestamp string              `json:"timestamp"`
}

// publishStatus publishes the retained bridge status document. The
// last-will replaces it with the literal "offline" if the bridge dies
// without saying goodbye.
func (b *Bridge) publishStatus() {
	accounts, devices := b.counts()
	data, err := json.Marshal(statusPayload{
		Status:    "online",
		Uptime:    time.Since(b.started).Round(time.Second).String(),
		Accounts:  accounts,
		Devices:   devices,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		b.logger.Error("serialising bridge status", "error", err)
		return
	}
	if err := b.local.Publish(StatusTopic, data, 1, true); err != nil {
		b.logger.Warn("publishing bridge status", "error", err)
	}
}

// counts aggregates account and device connectivity.
func (b *Bridge) counts() (health.AccountStats, health.DeviceStats) {
	var accounts health.AccountStats
	var devices health.DeviceStats

	for _, acct := range b.accounts {
		accounts.Total++
		if acct.connected.Load() {
			accounts.Connected++
		} else {
			accounts.Disconnected++
		}
		for _, dev := range acct.session.Devices() {
			devices.Total++
			if dev.Online {
				devices.Online++
			} else {
				devices.Offline++
			}
		}
	}
	return accounts, devices
}

// Snapshot reports the current bridge condition for the health
// endpoint. Unhealthy means no cloud account is connected or the local
// broker is down; degraded means some but not all accounts are
// connected.
func (b *Bridge) Snapshot() health.Snapshot {
	accounts, devices := b.counts()

	localState := "disconnected"
	if b.local != nil && b.local.IsConnected() {
		localState = "connected"
	}

	status := health.StatusHealthy
	switch {
	case accounts.Connected == 0 || localState == "disconnected":
		status = health.StatusUnhealthy
	case accounts.Disconnected > 0:
		status = health.StatusDegraded
	}

	return health.Snapshot{
		Status:   status,
		Uptime:   time.Since(b.started).Round(time.Second).String(),
		Accounts: accounts,
		Devices:  devices,
		MQTT: health.MQTTStats{
			CloudClients: accounts.Connected,
			LocalBroker:  localState,
		},
	}
}

// runTimers drives the periodic work: status publishes, the
// spontaneous-update stats line, the optional holding-register poll,
// and device-list re-discovery.
func (b *Bridge) runTimers() {
	defer b.wg.Done()

	status := time.NewTicker(b.cfg.StatusPublishInterval())
	defer status.Stop()
	stats := time.NewTicker(statsLogInterval)
	defer stats.Stop()

	var pollC <-chan time.Time
	if d := b.cfg.DevicePollInterval(); d > 0 {
		poll := time.NewTicker(d)
		defer poll.Stop()
		pollC = poll.C
	}

	var refreshC <-chan time.Time
	if d := b.cfg.DeviceRefreshInterval(); d > 0 {
		refresh := time.NewTicker(d)
		defer refresh.Stop()
		refreshC = refresh.C
	}

	for {
		select {
		case <-b.done:
			return
		case <-status.C:
			b.publishStatus()
		case <-stats.C:
			b.logSpontaneousStats()
		case <-pollC:
			b.pollDevices()
		case <-refreshC:
			b.refreshDevices()
		}
	}
}

// logSpontaneousStats reports and resets the spontaneous-update counter.
func (b *Bridge) logSpontaneousStats() {
	n := b.spontaneous.Swap(0)
	b.logger.Info("spontaneous device updates", "count", n,
		"interval", statsLogInterval.String())
}

// pollDevices requests a holding-register read from every reachable
// device.
func (b *Bridge) pollDevices() {
	for _, acct := range b.accounts {
		if !acct.session.IsConnected() {
			continue
		}
		for _, dev := range acct.session.Devices() {
			if dev.Online {
				b.sendSettingsRead(acct, dev.MAC)
			}
		}
	}
}

// refreshDevices re-discovers each account's device list and re-publishes
// availability markers.
func (b *Bridge) refreshDevices() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	for _, acct := range b.accounts {
		if err := acct.session.RefreshDeviceList(ctx); err != nil {
			b.logger.Warn("device list refresh failed",
				"account", acct.cfg.Email, "error", err)
			continue
		}
	}
	b.rebuildOwners()

	for _, acct := range b.accounts {
		for _, dev := range acct.session.Devices() {
			b.publishAvailability(dev)
		}
	}
}

// Close shuts the bridge down: farewell publishes, cloud sessions, the
// local broker connection, and the health server. Safe to call more
// than once.
//
// Returns:
//   - error: Always nil; shutdown failures are logged, not returned
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)

		if b.local != nil && b.local.IsConnected() {
			if err := b.local.Publish(StatusTopic, []byte("offline"), 1, true); err != nil {
				b.logger.Warn("publishing offline status", "error", err)
			}
			for _, mac := range b.macs() {
				if err := b.local.Publish(AvailabilityTopic(mac), []byte("offline"), 1, true); err != nil {
					b.logger.Warn("publishing offline availability", "mac", mac, "error", err)
				}
			}
		}

		b.disconnectAccounts()

		if b.local != nil {
			if err := b.local.Close(); err != nil {
				b.logger.Warn("closing local broker connection", "error", err)
			}
		}
		if b.health != nil {
			if err := b.health.Close(); err != nil {
				b.logger.Warn("closing health server", "error", err)
			}
		}

		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
	return nil
}
