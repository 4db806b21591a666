package protocol

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"
)

// Signature computes the control-plane request signature: the base64 HMAC-SHA1
// of the literal concatenation "{timestampMillis}{zone}{secret}", keyed with
// the same string. Flipping any byte of the timestamp, zone, or secret yields
// a different signature.
func Signature(zone, secret string, timestamp int64) string {
	seed := strconv.FormatInt(timestamp, 10) + zone + secret
	mac := hmac.New(sha1.New, []byte(seed))
	mac.Write([]byte(seed))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ServiceHash is the stable content address of a service candidate: the
// base64 SHA-1 of the service key concatenated with the URL. Re-registering
// the same (key, URL) pair always maps onto the same hash.
func ServiceHash(key, url string) string {
	return sha1Base64(key + url)
}

// ContentHash addresses a configuration blob by its text.
func ContentHash(text string) string {
	return sha1Base64(text)
}

func sha1Base64(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NowMillis returns the current Unix time in milliseconds, the timestamp
// resolution used throughout the protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// TimestampInWindow reports whether a request timestamp falls inside the
// anti-replay window of ±windowSeconds around now. Both timestamps are Unix
// milliseconds and the boundary itself is accepted.
func TimestampInWindow(timestamp, now int64, windowSeconds uint) bool {
	window := int64(windowSeconds) * 1000
	return timestamp >= now-window && timestamp <= now+window
}
