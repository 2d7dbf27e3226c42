package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
)

func testDevices() []device.Device {
	return []device.Device{
		{MAC: "7C2C67AB5F0E", Name: "Garage F2400", Model: "F2400", Online: true},
		{MAC: "AABBCCDDEEFF", Name: "Shed F3000", Model: "F3000", Online: false},
	}
}

func TestDeviceCachePutGet(t *testing.T) {
	c := NewDeviceCache(t.TempDir(), 24*time.Hour)

	if err := c.Put("user@example.com", testDevices()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	devices, ok := c.Get("user@example.com")
	if !ok {
		t.Fatal("Get() miss after Put()")
	}
	if len(devices) != 2 {
		t.Fatalf("Get() returned %d devices, want 2", len(devices))
	}
	if devices[0].MAC != "7C2C67AB5F0E" || devices[1].Model != "F3000" {
		t.Errorf("Get() devices = %+v, round-trip mismatch", devices)
	}
}

func TestDeviceCacheTTLExpiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDeviceCache(dir, 24*time.Hour)

	// Backdate the file beyond the TTL.
	stale := deviceFile{
		CachedAt: time.Now().Add(-25 * time.Hour).Unix(),
		Devices:  testDevices(),
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "devices_"+accountHash("user@example.com")+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write stale file: %v", err)
	}

	if _, ok := c.Get("user@example.com"); ok {
		t.Error("Get() hit on a list older than the TTL")
	}

	// Age still reports, so callers can log how stale the file is.
	age, ok := c.Age("user@example.com")
	if !ok {
		t.Fatal("Age() miss on an existing file")
	}
	if age < 24*time.Hour {
		t.Errorf("Age() = %v, want >= 24h", age)
	}
}

func TestDeviceCacheMissingAccount(t *testing.T) {
	c := NewDeviceCache(t.TempDir(), 24*time.Hour)
	if _, ok := c.Get("nobody@example.com"); ok {
		t.Error("Get() hit for an account with no cache file")
	}
	if _, ok := c.Age("nobody@example.com"); ok {
		t.Error("Age() reported for an account with no cache file")
	}
}

func TestDeviceCacheCorruptFile(t *testing.T) {
	dir := t.TempDir()
	c := NewDeviceCache(dir, 24*time.Hour)

	path := filepath.Join(dir, "devices_"+accountHash("user@example.com")+".json")
	if err := os.WriteFile(path, []byte("][garbage"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, ok := c.Get("user@example.com"); ok {
		t.Error("Get() hit on a corrupt file")
	}
}

func TestDeviceCacheInvalidate(t *testing.T) {
	c := NewDeviceCache(t.TempDir(), 24*time.Hour)

	if err := c.Put("user@example.com", testDevices()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Invalidate("user@example.com"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := c.Get("user@example.com"); ok {
		t.Error("Get() hit after Invalidate()")
	}
	if err := c.Invalidate("user@example.com"); err != nil {
		t.Errorf("Invalidate() on missing file error = %v", err)
	}
}

func TestDeviceCacheEmptyList(t *testing.T) {
	c := NewDeviceCache(t.TempDir(), 24*time.Hour)

	// An account with zero registered devices is still a valid cache entry.
	if err := c.Put("user@example.com", []device.Device{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	devices, ok := c.Get("user@example.com")
	if !ok {
		t.Fatal("Get() miss for an empty but fresh list")
	}
	if len(devices) != 0 {
		t.Errorf("Get() returned %d devices, want 0", len(devices))
	}
}
