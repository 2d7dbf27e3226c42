// Package bridge connects the vendor cloud to the local MQTT broker.
//
// It owns the whole data path: cloud frames are decoded, merged into the
// device state store, and republished as JSON on fossibot/<MAC>/state;
// JSON commands arriving on fossibot/<MAC>/command are encoded into
// register writes and forwarded to the owning cloud account.
package bridge
