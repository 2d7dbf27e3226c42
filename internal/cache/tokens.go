package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Authentication stages. Each account caches one token per stage.
const (
	// StageAnonymous is the short-lived anonymous access token (~10 min),
	// cached to accelerate restarts.
	StageAnonymous = "s1_anonymous"

	// StageLogin is the user login token. The vendor grants it a TTL of
	// roughly 14 years, so it is effectively permanent.
	StageLogin = "s2_login"

	// StageMQTT is the MQTT session JWT (~3 days, from its exp claim).
	StageMQTT = "s3_mqtt"
)

// DefaultSafetyMargin is subtracted from a token's nominal expiry when
// deciding whether to reuse it.
const DefaultSafetyMargin = 300 * time.Second

// TokenEntry is one cached token with its absolute expiry.
type TokenEntry struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
	CachedAt  int64  `json:"cached_at"`  // unix seconds
}

// TokenCache is a per-account, per-stage persistent token store.
//
// All callers run on the bridge's goroutines; mutations are whole-file
// atomic replaces, so no in-process locking is needed beyond the
// filesystem's rename semantics (which also give cross-process safety).
type TokenCache struct {
	dir    string
	margin time.Duration
}

// NewTokenCache creates a token cache rooted at dir.
// A non-positive safety margin falls back to DefaultSafetyMargin.
func NewTokenCache(dir string, safetyMargin time.Duration) *TokenCache {
	if safetyMargin <= 0 {
		safetyMargin = DefaultSafetyMargin
	}
	return &TokenCache{dir: dir, margin: safetyMargin}
}

// path returns the token file for an account.
func (c *TokenCache) path(email string) string {
	return filepath.Join(c.dir, accountHash(email)+".json")
}

// load reads and parses an account's token file.
// Any read or parse failure is reported as an empty map (miss semantics).
func (c *TokenCache) load(email string) map[string]TokenEntry {
	data, err := os.ReadFile(c.path(email))
	if err != nil {
		return map[string]TokenEntry{}
	}

	var entries map[string]TokenEntry
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		// Corrupt file: treat as a miss, the next Put overwrites it.
		return map[string]TokenEntry{}
	}
	return entries
}

// Get returns the cached token for a stage.
//
// A hit requires expiry > now + safety margin; anything closer to expiry
// (or already expired, or absent) is a miss.
func (c *TokenCache) Get(email, stage string) (TokenEntry, bool) {
	entry, ok := c.load(email)[stage]
	if !ok {
		return TokenEntry{}, false
	}

	deadline := time.Now().Add(c.margin).Unix()
	if entry.ExpiresAt <= deadline {
		return TokenEntry{}, false
	}
	return entry, true
}

// Put stores a token for a stage, preserving the other stages.
// The file is replaced atomically.
func (c *TokenCache) Put(email, stage, token string, expiresAt time.Time) error {
	entries := c.load(email)
	entries[stage] = TokenEntry{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		CachedAt:  time.Now().Unix(),
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(c.path(email), data)
}

// Invalidate removes all cached stages for an account.
// A missing file is not an error.
func (c *TokenCache) Invalidate(email string) error {
	err := os.Remove(c.path(email))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
