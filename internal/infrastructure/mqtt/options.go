package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultQoS is the QoS used by PublishRetained.
	defaultQoS = 1

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Will describes a Last Will and Testament message registered with the
// broker at connect time. The broker publishes it if the client drops
// without a clean disconnect.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// buildClientOptions creates paho MQTT options from broker config.
//
// This configures:
//   - Broker URL (plain TCP; the local Mosquitto sits on the same host
//     or LAN segment)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect bounded by the configured delay window
//   - Clean session mode
func buildClientOptions(cfg config.MosquittoConfig, reconnect config.BridgeConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))

	// Client identification
	opts.SetClientID(cfg.ClientID)

	// Authentication (if credentials provided)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect. The local broker is reconnected forever: paho
	// backs off from the minimum delay up to the maximum and never
	// gives up.
	minDelay := reconnect.ReconnectDelayMin
	if minDelay <= 0 {
		minDelay = 5
	}
	maxDelay := reconnect.ReconnectDelayMax
	if maxDelay < minDelay {
		maxDelay = 60
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(minDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(maxDelay) * time.Second)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}

// configureLWT registers the caller's Last Will and Testament.
//
// The bridge passes its status topic with an "offline" payload so
// consumers learn about a crash without waiting for the next status
// snapshot.
func configureLWT(opts *pahomqtt.ClientOptions, will *Will) {
	if will == nil {
		return
	}
	opts.SetWill(will.Topic, will.Payload, will.QoS, will.Retained)
}
