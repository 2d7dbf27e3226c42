package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/device"
)

// DefaultDeviceTTL is how long a cached device list stays usable.
// Device registrations change rarely, so a day-old list is fine.
const DefaultDeviceTTL = 24 * time.Hour

// deviceFile is the on-disk shape of a cached device list.
type deviceFile struct {
	CachedAt int64           `json:"cached_at"` // unix seconds
	Devices  []device.Device `json:"devices"`
}

// DeviceCache is a per-account persistent device list store. It spares
// the vendor API a discovery round on warm restarts.
type DeviceCache struct {
	dir string
	ttl time.Duration
}

// NewDeviceCache creates a device cache rooted at dir.
// A non-positive ttl falls back to DefaultDeviceTTL.
func NewDeviceCache(dir string, ttl time.Duration) *DeviceCache {
	if ttl <= 0 {
		ttl = DefaultDeviceTTL
	}
	return &DeviceCache{dir: dir, ttl: ttl}
}

func (c *DeviceCache) path(email string) string {
	return filepath.Join(c.dir, "devices_"+accountHash(email)+".json")
}

// load reads and parses an account's device file.
func (c *DeviceCache) load(email string) (deviceFile, bool) {
	data, err := os.ReadFile(c.path(email))
	if err != nil {
		return deviceFile{}, false
	}

	var f deviceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return deviceFile{}, false
	}
	return f, true
}

// Get returns the cached device list if it is younger than the TTL.
func (c *DeviceCache) Get(email string) ([]device.Device, bool) {
	f, ok := c.load(email)
	if !ok {
		return nil, false
	}
	if time.Since(time.Unix(f.CachedAt, 0)) > c.ttl {
		return nil, false
	}
	return f.Devices, true
}

// Age reports how old the cached list is. The second return is false
// when no usable file exists.
func (c *DeviceCache) Age(email string) (time.Duration, bool) {
	f, ok := c.load(email)
	if !ok {
		return 0, false
	}
	return time.Since(time.Unix(f.CachedAt, 0)), true
}

// Put replaces the cached device list for an account.
func (c *DeviceCache) Put(email string, devices []device.Device) error {
	f := deviceFile{
		CachedAt: time.Now().Unix(),
		Devices:  devices,
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(c.path(email), data)
}

// Invalidate removes the cached device list.
// A missing file is not an error.
func (c *DeviceCache) Invalidate(email string) error {
	err := os.Remove(c.path(email))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
