package bridge

import (
	"strings"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
)

// Local broker topic layout. Everything the bridge publishes lives
// under the fossibot/ prefix.
const (
	// StatusTopic carries the bridge's own online/offline status and is
	// also the last-will topic.
	StatusTopic = "fossibot/bridge/status"

	// CommandFilter is the subscription matching every device command.
	CommandFilter = "fossibot/+/command"

	localPrefix        = "fossibot/"
	stateSuffix        = "/state"
	commandSuffix      = "/command"
	availabilitySuffix = "/availability"
)

// Cloud topic fragments.
const (
	responseInfix      = "/device/response/"
	commandEchoSuffix  = "/device/response/client/04"
	cloudCommandSuffix = "/client/request/data"
)

// StateTopic returns the local topic a device's state is published on.
func StateTopic(mac string) string {
	return localPrefix + mac + stateSuffix
}

// AvailabilityTopic returns the local topic carrying a device's
// retained online/offline marker.
func AvailabilityTopic(mac string) string {
	return localPrefix + mac + availabilitySuffix
}

// CloudCommandTopic returns the cloud topic a device accepts register
// writes on.
func CloudCommandTopic(mac string) string {
	return mac + cloudCommandSuffix
}

// ResponseMAC extracts the MAC from a cloud device-response topic
// (<MAC>/device/response/...). Returns false for anything else.
func ResponseMAC(topic string) (string, bool) {
	idx := strings.Index(topic, responseInfix)
	if idx < 0 {
		return "", false
	}
	mac := topic[:idx]
	if !device.ValidMAC(mac) {
		return "", false
	}
	return mac, true
}

// IsCommandEcho reports whether a cloud topic is the response channel
// the device answers register writes and reads on.
func IsCommandEcho(topic string) bool {
	return strings.HasSuffix(topic, commandEchoSuffix)
}

// CommandMAC extracts the MAC from a local command topic
// (fossibot/<MAC>/command). Returns false for anything else.
func CommandMAC(topic string) (string, bool) {
	if !strings.HasPrefix(topic, localPrefix) || !strings.HasSuffix(topic, commandSuffix) {
		return "", false
	}
	mac := topic[len(localPrefix) : len(topic)-len(commandSuffix)]
	if !device.ValidMAC(mac) {
		return "", false
	}
	return mac, true
}
