// Package cache persists authentication tokens and device lists across
// daemon restarts.
//
// A restart that finds fresh login and MQTT tokens on disk performs zero
// HTTP requests before opening the cloud MQTT session, which matters for
// the vendor's rate limits.
//
// # Storage layout
//
// One file per account under the cache directory:
//
//	<md5(email)>.json          tokens, keyed by stage name
//	devices_<md5(email)>.json  cached device list
//
// Files are written 0600 inside a 0700 directory and replaced atomically
// (write to a temp file, then rename over) so a crash mid-write never
// corrupts a reader. Corrupt or unreadable files are treated as a miss
// and overwritten by the next write.
//
// # Freshness rules
//
// A token read is a hit only while expiry > now + safety margin (default
// 300 s), so a token is never handed out moments before it dies. The
// device list is a hit while now - cachedAt <= TTL (default 24 h).
package cache
