// Package store owns every cache key the token packages write: per-token
// metadata, the revocation blacklist, the per-user token index, security
// alerts and the per-user activity feed. Each store is a thin typed view
// over a cache.Cache; none of them retry or swallow cache errors, so a
// caller on the verification path can fail closed.
//
// Key layout:
//
//	token:metadata:<tokenId>        JSON Record
//	token:blacklist:<tokenId>       revocation time (RFC 3339)
//	user:tokens:<userId>            JSON []IndexEntry, oldest first
//	security:alert:<userId>:<ns>    JSON Alert
//	security:activity:<userId>      JSON []int64 (unix milliseconds)
package store

import (
	"strconv"
	"strings"
	"time"
)

// Key prefixes.
const (
	MetadataPrefix   = "token:metadata:"
	BlacklistPrefix  = "token:blacklist:"
	UserTokensPrefix = "user:tokens:"
	AlertPrefix      = "security:alert:"
	ActivityPrefix   = "security:activity:"
)

// MetadataKey returns the metadata key for a token id.
func MetadataKey(tokenID string) string { return MetadataPrefix + tokenID }

// BlacklistKey returns the blacklist key for a token id.
func BlacklistKey(tokenID string) string { return BlacklistPrefix + tokenID }

// UserTokensKey returns the token index key for a user.
func UserTokensKey(userID string) string { return UserTokensPrefix + userID }

// AlertKey returns the key of an alert raised for userID at ts.
func AlertKey(userID string, ts time.Time) string {
	return AlertPrefix + userID + ":" + strconv.FormatInt(ts.UnixNano(), 10)
}

// ActivityKey returns the activity feed key for a user.
func ActivityKey(userID string) string { return ActivityPrefix + userID }

// escapeGlob quotes the glob metacharacters of s so it matches literally
// in a Keys pattern.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
