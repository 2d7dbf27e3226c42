// Package device defines the Fossibot device identity types shared by
// discovery, caching and the bridge.
package device

import "time"

// MACLength is the canonical MAC length: 12 hex digits, no separators.
const MACLength = 12

// Device is a power station discovered on a Fossibot account.
//
// The MAC is the canonical key throughout the system and is globally
// unique across accounts.
type Device struct {
	// MAC is the hardware identifier, 12 uppercase hex digits.
	MAC string `json:"mac"`

	// Name is the user-assigned device name.
	Name string `json:"name"`

	// Model is the product model (e.g. "F2400").
	Model string `json:"model"`

	// Online reports the cloud's last known connectivity state.
	Online bool `json:"online"`

	// CreatedAt is when the device was registered on the account.
	CreatedAt time.Time `json:"created_at"`
}

// ValidMAC reports whether s is exactly 12 hexadecimal characters.
func ValidMAC(s string) bool {
	if len(s) != MACLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeMAC uppercases a valid MAC into its canonical form.
// Returns the empty string for invalid input.
func NormalizeMAC(s string) string {
	if !ValidMAC(s) {
		return ""
	}
	buf := make([]byte, MACLength)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		buf[i] = c
	}
	return string(buf)
}
